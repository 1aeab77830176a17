// Package lock serialises work on one customer/product pair across worker
// processes with a Redis key per pair.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces pricing locks in a shared Redis.
const DefaultPrefix = "pricing:lock:"

var (
	// ErrNotAcquired means MaxWait elapsed while another holder kept the lock.
	ErrNotAcquired = errors.New("lock: not acquired")
	errNoClient    = errors.New("lock: redis client not configured")
)

// unlock deletes the key only while it still holds our token, so a holder
// whose TTL lapsed never frees a lock someone else has since taken.
var unlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a SET NX PX lock. The zero value except R is usable.
type Locker struct {
	R      redis.Cmdable
	Prefix string
	// RetryBackoff is the poll interval while the lock is held elsewhere.
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock waits for a held lock. Zero waits until ctx ends.
	MaxWait time.Duration
}

// Key returns the Redis key guarding name.
func (l Locker) Key(name string) string {
	if l.Prefix == "" {
		return DefaultPrefix + name
	}
	return l.Prefix + name
}

// WithLock runs fn while holding name for at most ttl. fn's error is returned
// as is; the lock is released either way.
func (l Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errNoClient
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key, token := l.Key(name), uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		// Release even when ctx is already done.
		_ = unlock.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	poll := l.RetryBackoff
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	var giveUp <-chan time.Time
	if l.MaxWait > 0 {
		t := time.NewTimer(l.MaxWait)
		defer t.Stop()
		giveUp = t.C
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil:
			return fmt.Errorf("lock %s: %w", key, err)
		case ok:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-giveUp:
			return ErrNotAcquired
		case <-tick.C:
		}
	}
}
