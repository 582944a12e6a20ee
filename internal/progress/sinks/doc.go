// Package sinks implements progress consumers: structured logging and
// Prometheus metrics.
package sinks
