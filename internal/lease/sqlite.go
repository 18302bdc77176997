package lease

import (
	"context"
	"time"

	"github.com/google/uuid"

	"murmur/internal/queue"
)

// SQLiteStore implements Store on top of the job database. A single UPDATE
// with an expiry predicate provides the compare-and-set; SQLite serializes
// writers, so at most one concurrent acquire can match the predicate.
type SQLiteStore struct {
	jobs   *queue.Store
	holder string
}

// NewSQLiteStore builds a lease store bound to the job database. Each worker
// process gets a unique holder identity.
func NewSQLiteStore(jobs *queue.Store) *SQLiteStore {
	return &SQLiteStore{
		jobs:   jobs,
		holder: uuid.NewString(),
	}
}

// Holder returns this worker's lease holder identity.
func (s *SQLiteStore) Holder() string {
	return s.holder
}

func (s *SQLiteStore) Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	return s.jobs.TryAcquireLease(ctx, jobID, s.holder, ttl)
}

func (s *SQLiteStore) Release(ctx context.Context, jobID string) error {
	return s.jobs.ReleaseLease(ctx, jobID)
}

func (s *SQLiteStore) ReleaseWithError(ctx context.Context, jobID, message string) error {
	return s.jobs.ReleaseLeaseWithError(ctx, jobID, message)
}

func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	return s.jobs.SweepExpiredLeases(ctx)
}
