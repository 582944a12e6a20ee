// Package crawler implements the staged catalog crawl: the engine that walks
// catalog, book list, chapters and verses in order, the navigator that turns
// fetched pages into documents, and the bounded retry helper both rely on.
// Storage, fetching, archiving and notification are reached through the
// interfaces declared here.
package crawler
