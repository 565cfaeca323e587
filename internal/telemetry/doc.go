// Package telemetry sets up OpenTelemetry tracing and metrics for docindex.
//
// New installs global tracer and meter providers exporting over OTLP (gRPC
// or HTTP/protobuf). When disabled, or when an exporter cannot be created,
// the instance falls back to the global no-op providers and reports itself
// degraded instead of failing startup.
//
// Tests use NewTestTelemetry, which records spans in memory and exposes a
// manual metric reader.
package telemetry
