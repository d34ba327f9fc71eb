// Package otel exports the core counters through an OpenTelemetry meter as
// observable counters, read from a snapshot on each collection.
package otel
