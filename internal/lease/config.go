package lease

import (
	"fmt"

	"murmur/internal/config"
	"murmur/internal/queue"
)

// FromConfig builds the lease store named by the config: the job database
// itself for sqlite, or Redis for multi-host deployments.
func FromConfig(cfg *config.Config, jobs *queue.Store) (Store, error) {
	switch cfg.Lease.Backend {
	case "", "sqlite":
		return NewSQLiteStore(jobs), nil
	case "redis":
		return NewRedisStore(cfg.Lease.RedisURL, jobs)
	default:
		return nil, fmt.Errorf("unknown lease backend %q", cfg.Lease.Backend)
	}
}
