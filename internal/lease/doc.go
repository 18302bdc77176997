// Package lease provides per-job mutual exclusion backed by a remote atomic
// store. Correctness across independent worker processes rests entirely on
// the backing store's compare-and-set semantics; there is no in-memory
// coordination. The SQLite adapter is the production default, the Redis
// adapter suits multi-host deployments, and the memory adapter backs tests.
package lease
