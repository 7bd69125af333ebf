// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for the
// secureclient command.
//
// It sets up the process-wide tracer provider with an OTLP exporter and
// exposes probe metrics over an instrumented HTTP handler.
package telemetry
