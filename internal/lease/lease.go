package lease

import (
	"context"
	"time"
)

// Store is the mutual-exclusion contract the orchestrator depends on.
//
// Acquire succeeds only when no live lease exists for the job; failure is a
// signal ("already owned"), not an error. Release is idempotent and clears
// the lease unconditionally. ReleaseWithError additionally records the
// message against the job for diagnosis. SweepExpired reclaims leases whose
// expiry has passed and returns the count reclaimed.
type Store interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID string) error
	ReleaseWithError(ctx context.Context, jobID, message string) error
	SweepExpired(ctx context.Context) (int64, error)
}
