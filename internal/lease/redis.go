package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"murmur/internal/queue"
)

const redisKeyPrefix = "murmur:lease:"

// releaseScript deletes the lease key only when this process still holds it,
// so a worker that outlived its TTL cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore implements Store with SET NX PX, which is atomic on the server.
// Leases expire natively via the key TTL, so SweepExpired has nothing to
// reclaim and exists only to satisfy the contract. Error messages are still
// recorded against the job row so diagnostics stay in one place.
type RedisStore struct {
	client *redis.Client
	jobs   *queue.Store
	holder string
}

// NewRedisStore connects to Redis using a URL and binds the job store for
// error recording.
func NewRedisStore(redisURL string, jobs *queue.Store) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		jobs:   jobs,
		holder: uuid.NewString(),
	}, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Acquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+jobID, s.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, jobID string) error {
	err := releaseScript.Run(ctx, s.client, []string{redisKeyPrefix + jobID}, s.holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *RedisStore) ReleaseWithError(ctx context.Context, jobID, message string) error {
	if err := s.Release(ctx, jobID); err != nil {
		return err
	}
	if s.jobs != nil {
		return s.jobs.ReleaseLeaseWithError(ctx, jobID, message)
	}
	return nil
}

func (s *RedisStore) SweepExpired(ctx context.Context) (int64, error) {
	// Keys carry their own TTL; expiry is handled by Redis.
	return 0, nil
}
