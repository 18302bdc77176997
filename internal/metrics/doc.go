// Package metrics tracks in-process pipeline health: per-job stage timings,
// rolling success and failure aggregates, and stuck-job detection. Everything
// lives in memory behind one mutex; the queue store remains the durable
// record.
package metrics
