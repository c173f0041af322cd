// Package observability provides an OpenTelemetry metrics extension for
// the pipeline driver. The MetricsExtension implements lifecycle hooks to
// record system-wide counters for workflow creation, stage throughput,
// failures, retries, pauses, reroutes, and terminal outcomes.
//
// For per-execution tracing and latency histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
