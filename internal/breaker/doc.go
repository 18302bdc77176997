// Package breaker guards calls to a remote dependency with a failure-rate
// state machine. One breaker exists per dependency and is shared by every
// job an orchestrator processes: a burst of failures on one job throttles
// the rest, which protects the dependency rather than the individual job.
package breaker
