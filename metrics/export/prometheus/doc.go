// Package prometheus renders the core counters in Prometheus text
// exposition format without pulling in the Prometheus client library.
package prometheus
