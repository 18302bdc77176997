// Package queue persists processing jobs in SQLite and exposes the job
// lifecycle operations the orchestrator depends on: enqueue, eligible-job
// fetch, stage persistence, lease bookkeeping, and aggregate stats.
package queue
