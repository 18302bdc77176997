// Command murmur is the operator CLI for the voice-note processing queue:
// enqueue recordings, trigger batches, inspect stats, and repair stuck or
// failed jobs.
package main
