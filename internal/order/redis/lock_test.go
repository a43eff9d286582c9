package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/logger"
)

// setupTestRedis runs an in-memory redis server; no real Redis is needed.
func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client, logger.Discard(), 30*time.Second, time.Hour), mr
}

func TestLockPayment_SingleHolder(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := r.LockPayment(ctx, 42, "req-"+string(rune('a'+i)))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestUnlockPayment_OnlyOwner(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.LockPayment(ctx, 7, "owner")
	require.NoError(t, err)
	require.True(t, ok)

	// Someone else cannot release it
	require.NoError(t, r.UnlockPayment(ctx, 7, "intruder"))
	assert.True(t, mr.Exists("payment_lock:7"))

	require.NoError(t, r.UnlockPayment(ctx, 7, "owner"))
	assert.False(t, mr.Exists("payment_lock:7"))

	// Releasing an expired lock is fine
	assert.NoError(t, r.UnlockPayment(ctx, 7, "owner"))
}

func TestLockPayment_Expires(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.LockPayment(ctx, 9, "first")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = r.LockPayment(ctx, 9, "second")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotificationDedupe(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()
	key := NotificationKey("midtrans", "ORDER-5", "settlement")
	assert.Equal(t, "payment_notification:midtrans:ORDER-5:settlement", key)

	seen, err := r.NotificationSeen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, r.MarkNotification(ctx, key))
	seen, err = r.NotificationSeen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = r.NotificationSeen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)
}
