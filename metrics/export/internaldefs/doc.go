// Package internaldefs holds the shared counter definitions used by the
// exporter packages, so the Prometheus and OpenTelemetry views of the same
// counter always agree on name and help text.
package internaldefs
