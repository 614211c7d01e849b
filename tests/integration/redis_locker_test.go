//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/cutover-garden/internal/escalation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, cfg escalation.RedisLockerConfig) *escalation.RedisLocker {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := escalation.NewRedisClient(ctx, redisContainer.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return escalation.NewRedisLocker(client, cfg)
}

func TestRedisLocker_SecondHolderGivesUp(t *testing.T) {
	locker := newTestRedisLocker(t, escalation.RedisLockerConfig{
		TTL:        10 * time.Second,
		Attempts:   3,
		RetryDelay: 10 * time.Millisecond,
	})
	ctx := context.Background()
	key := "escalation:incident:" + uuid.NewString()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, escalation.ErrLockNotAcquired)

	unlock()

	unlock, err = locker.Lock(ctx, key)
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_ExpiresAfterTTL(t *testing.T) {
	locker := newTestRedisLocker(t, escalation.RedisLockerConfig{
		TTL:        200 * time.Millisecond,
		Attempts:   20,
		RetryDelay: 50 * time.Millisecond,
	})
	ctx := context.Background()
	key := "escalation:incident:" + uuid.NewString()

	_, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	// The holder never releases; the waiter gets in once the key expires.
	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_SerialisesHolders(t *testing.T) {
	locker := newTestRedisLocker(t, escalation.RedisLockerConfig{
		TTL:        5 * time.Second,
		Attempts:   200,
		RetryDelay: 5 * time.Millisecond,
	})
	ctx := context.Background()
	key := "escalation:incident:" + uuid.NewString()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestRedisLocker_CancelledContext(t *testing.T) {
	locker := newTestRedisLocker(t, escalation.RedisLockerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := locker.Lock(ctx, "escalation:incident:"+uuid.NewString())
	assert.ErrorIs(t, err, context.Canceled)
}
