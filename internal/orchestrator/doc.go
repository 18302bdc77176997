// Package orchestrator drives queued recordings through the processing
// pipeline: download, container analysis, normalization, transcription,
// contextual analysis, persistence. It owns exactly-once coordination via
// leases, routes remote calls through the shared circuit breaker, and paces
// batches according to recent failure pressure.
package orchestrator
