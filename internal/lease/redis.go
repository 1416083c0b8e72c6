package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/common/config"
	"github.com/fleetd/fleetd/internal/common/logger"
)

const keyPrefix = "fleetd:lease:agent:"

// releaseScript deletes the lease only when the caller still holds it. A plain
// GET followed by DEL would race with TTL expiry and reclamation.
var releaseScript = redisv9.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// renewScript re-arms the TTL only when the caller still holds the lease.
var renewScript = redisv9.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

// RedisStore implements Store backed by a Redis-compatible server.
type RedisStore struct {
	rdb    *redisv9.Client
	logger *logger.Logger
}

// NewRedisStore creates a Store from the lease configuration.
func NewRedisStore(cfg config.LeaseConfig, log *logger.Logger) *RedisStore {
	rdb := redisv9.NewClient(&redisv9.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisStore{
		rdb:    rdb,
		logger: log.WithFields(zap.String("component", "lease_store")),
	}
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(rdb *redisv9.Client, log *logger.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: log.WithFields(zap.String("component", "lease_store")),
	}
}

func leaseKey(agentID string) string {
	return keyPrefix + agentID
}

// Acquire claims the lease via SET NX PX. The value is the holder identity so
// release and renewal can verify ownership.
func (s *RedisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, leaseKey(key), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire %s: %w", key, err)
	}
	if ok {
		s.logger.Debug("lease acquired",
			zap.String("agent_id", key),
			zap.String("holder", holder),
			zap.Duration("ttl", ttl))
	}
	return ok, nil
}

// Release runs the compare-holder-delete script.
func (s *RedisStore) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{leaseKey(key)}, holder).Int()
	if err != nil {
		return false, fmt.Errorf("lease release %s: %w", key, err)
	}
	if n == 0 {
		s.logger.Warn("lease release skipped, holder mismatch or already expired",
			zap.String("agent_id", key),
			zap.String("holder", holder))
		return false, nil
	}
	s.logger.Debug("lease released", zap.String("agent_id", key), zap.String("holder", holder))
	return true, nil
}

// Renew runs the compare-holder-expire script.
func (s *RedisStore) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.rdb, []string{leaseKey(key)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease renew %s: %w", key, err)
	}
	return n == 1, nil
}

// Holder returns the current lease holder, or empty string when unleased.
func (s *RedisStore) Holder(ctx context.Context, key string) (string, error) {
	holder, err := s.rdb.Get(ctx, leaseKey(key)).Result()
	if errors.Is(err, redisv9.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease holder %s: %w", key, err)
	}
	return holder, nil
}

// Ping verifies connectivity to the lease store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lease store ping: %w", err)
	}
	return nil
}

// Close closes the underlying redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
