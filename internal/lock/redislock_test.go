package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/lock"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockSerialisesHolders(t *testing.T) {
	_, client := newClient(t)

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "C001/BEEF-RIB", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "C001/BEEF-RIB", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)
	time.Sleep(20 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockUsesPrefixAndReleases(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client}

	err := locker.WithLock(context.Background(), "C001/BEEF-RIB", time.Second, func(context.Context) error {
		require.True(t, mr.Exists("pricing:lock:C001/BEEF-RIB"))
		return errors.New("calculation failed")
	})
	require.EqualError(t, err, "calculation failed")
	require.False(t, mr.Exists("pricing:lock:C001/BEEF-RIB"))
}

func TestWithLockGivesUpAfterMaxWait(t *testing.T) {
	mr, client := newClient(t)
	require.NoError(t, mr.Set("custom:held", "someone-else"))

	locker := lock.Locker{R: client, Prefix: "custom:", RetryBackoff: 5 * time.Millisecond, MaxWait: 30 * time.Millisecond}
	called := false
	err := locker.WithLock(context.Background(), "held", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.False(t, called)

	// Another holder's key is never deleted.
	got, err := mr.Get("custom:held")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestWithLockRequiresClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "x", time.Second, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestWithLockLeavesStolenKeyAlone(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client}

	err := locker.WithLock(context.Background(), "C002/LAMB-LEG", time.Second, func(context.Context) error {
		// The TTL lapsed and another worker took the lock.
		return mr.Set("pricing:lock:C002/LAMB-LEG", "other-token")
	})
	require.NoError(t, err)
	got, err := mr.Get("pricing:lock:C002/LAMB-LEG")
	require.NoError(t, err)
	require.Equal(t, "other-token", got)
}

func TestWithLockStopsWhenContextEnds(t *testing.T) {
	mr, client := newClient(t)
	require.NoError(t, mr.Set(lock.DefaultPrefix+"busy", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}.WithLock(ctx, "busy", time.Second, func(context.Context) error {
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
