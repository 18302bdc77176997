package lease

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	acquiredAt time.Time
	expiresAt  time.Time
}

// MemoryStore is an in-process Store for tests. It honors the same
// acquire-if-absent-or-expired semantics as the production adapters.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	errors map[string]string

	// Now is swappable so tests can move the clock.
	Now func() time.Time
}

// NewMemoryStore builds an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memoryLease),
		errors: make(map[string]string),
		Now:    time.Now,
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if existing, ok := s.leases[jobID]; ok && existing.expiresAt.After(now) {
		return false, nil
	}
	s.leases[jobID] = memoryLease{acquiredAt: now, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, jobID)
	return nil
}

func (s *MemoryStore) ReleaseWithError(ctx context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, jobID)
	s.errors[jobID] = message
	return nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var reclaimed int64
	for jobID, l := range s.leases {
		if !l.expiresAt.After(now) {
			delete(s.leases, jobID)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// LastError returns the message recorded by ReleaseWithError for a job.
func (s *MemoryStore) LastError(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[jobID]
}
