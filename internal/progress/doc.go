// Package progress carries crawl progress events from the engine and the
// navigator to pluggable sinks. Emitting never blocks the crawl: events are
// buffered, batched on a background goroutine and dropped under pressure.
package progress
