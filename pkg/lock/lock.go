package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

// ReleaseFunc releases a held lock. Safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// Locker takes short-lived named locks.
type Locker interface {
	// TryAcquire takes the lock or returns apperrors.ErrScanInProgress when another holder has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// NoopLocker always succeeds. Used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker returns a locker storing keys under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// New returns a RedisLocker when client is non-nil, else a NoopLocker.
func New(client *redis.Client, prefix string) Locker {
	if client == nil {
		return NoopLocker{}
	}
	return NewRedisLocker(client, prefix)
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrScanInProgress, key)
	}

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		return nil
	}, nil
}
