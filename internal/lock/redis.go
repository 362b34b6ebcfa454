package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KeyPrefix namespaces the per-wallet run locks
const KeyPrefix = "sparechange:track:"

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect opens a redis client for redisURL and checks the connection
func Connect(ctx context.Context, redisURL string, logger zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Int("redis_db", opt.DB).Msg("Connected to Redis successfully")
	return client, nil
}

// RedisLock is a SET NX based lock whose release is guarded by a random token
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLock creates a lock whose keys expire after ttl
func NewRedisLock(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLock {
	return &RedisLock{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "run_lock").Logger(),
	}
}

// Acquire tries to take the lock for key. ok is false when another holder has it.
func (l *RedisLock) Acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, KeyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug().Str("key", key).Msg("Lock held by another run")
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if it is still held with token. A lock that expired or
// was taken over is left alone.
func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{KeyPrefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if deleted == 0 {
		l.logger.Warn().Str("key", key).Msg("Lock expired before release")
	}
	return nil
}
