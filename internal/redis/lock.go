package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dentalops/clinic-scheduler/internal/lock"
)

const acquirePollInterval = 25 * time.Millisecond

type resourceLocker struct {
	client  *redis.Client
	ttl     time.Duration
	maxWait time.Duration
}

// NewResourceLocker returns a lock.Locker backed by a per-resource Redis
// key, for deployments where several scheduler processes share one clinic.
// Acquisition polls SETNX for at most maxWait, then gives up with
// lock.ErrNotAcquired; the key's TTL bounds how long a crashed holder can
// block the resource.
func NewResourceLocker(client *redis.Client, ttl, maxWait time.Duration) lock.Locker {
	return &resourceLocker{
		client:  client,
		ttl:     ttl,
		maxWait: maxWait,
	}
}

func (l *resourceLocker) WithResourceLock(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:resource:%s", resourceID)
	token := uuid.NewString()

	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire resource lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return lock.ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *resourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock: %w", err)
	}
	return nil
}
