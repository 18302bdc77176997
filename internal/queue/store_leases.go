package queue

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireLease atomically creates a lease for the job when none is live.
// The single UPDATE with an expiry predicate is the compare-and-set that
// guarantees mutual exclusion across worker processes.
func (s *Store) TryAcquireLease(ctx context.Context, jobID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET locked_at = ?, lock_expires_at = ?, lock_holder = ?, updated_at = ?
         WHERE id = ?
           AND (lock_expires_at IS NULL OR lock_expires_at < ?)`,
		formatTime(now),
		formatTime(now.Add(ttl)),
		holder,
		formatTime(now),
		jobID,
		formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease rows: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLease clears the lease unconditionally. Idempotent.
func (s *Store) ReleaseLease(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET locked_at = NULL, lock_expires_at = NULL, lock_holder = NULL,
             lock_error = NULL, updated_at = ?
         WHERE id = ?`,
		formatTime(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// ReleaseLeaseWithError clears the lease and records the failure message
// against the job for later diagnosis.
func (s *Store) ReleaseLeaseWithError(ctx context.Context, jobID, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET locked_at = NULL, lock_expires_at = NULL, lock_holder = NULL,
             lock_error = ?, updated_at = ?
         WHERE id = ?`,
		message,
		formatTime(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("release lease with error: %w", err)
	}
	return nil
}

// SweepExpiredLeases clears leases whose expiry has passed and returns the
// count reclaimed. Run before every batch and on the daemon interval.
func (s *Store) SweepExpiredLeases(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET locked_at = NULL, lock_expires_at = NULL, lock_holder = NULL,
             updated_at = ?
         WHERE lock_expires_at IS NOT NULL AND lock_expires_at < ?`,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	return res.RowsAffected()
}
