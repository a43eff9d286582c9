package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-orders/internal/logger"
)

const (
	paymentLockPrefix  = "payment_lock:"
	notificationPrefix = "payment_notification:"
)

// Redis holds the short-lived coordination state of the payment flow: the
// per-order lock around gateway session creation and the webhook dedupe keys.
type Redis struct {
	Client    *redis.Client
	Logger    *logger.Logger
	LockTTL   time.Duration
	DedupeTTL time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, lockTTL, dedupeTTL time.Duration) *Redis {
	return &Redis{
		Client:    client,
		Logger:    log,
		LockTTL:   lockTTL,
		DedupeTTL: dedupeTTL,
	}
}

func paymentLockKey(orderID int64) string {
	return fmt.Sprintf("%s%d", paymentLockPrefix, orderID)
}

// LockPayment claims the order for one payment creation. The lock expires on
// its own so a crashed request cannot block the order forever.
func (r *Redis) LockPayment(ctx context.Context, orderID int64, owner string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, paymentLockKey(orderID), owner, r.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("lock payment for order %d: %w", orderID, err)
	}
	if !ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("Payment lock for order %d already held", orderID))
	}
	return ok, nil
}

// UnlockPayment releases the lock only if owner still holds it.
func (r *Redis) UnlockPayment(ctx context.Context, orderID int64, owner string) error {
	key := paymentLockKey(orderID)
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil // expired
	}
	if err != nil {
		return fmt.Errorf("read payment lock for order %d: %w", orderID, err)
	}
	if val != owner {
		return nil
	}
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release payment lock for order %d: %w", orderID, err)
	}
	return nil
}

// NotificationKey identifies one gateway delivery by order reference and status.
func NotificationKey(provider, orderRef, transactionStatus string) string {
	return notificationPrefix + provider + ":" + orderRef + ":" + transactionStatus
}

// NotificationSeen reports whether this delivery was already processed.
func (r *Redis) NotificationSeen(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check notification %s: %w", key, err)
	}
	return n > 0, nil
}

// MarkNotification remembers a processed delivery for DedupeTTL.
func (r *Redis) MarkNotification(ctx context.Context, key string) error {
	if err := r.Client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), r.DedupeTTL).Err(); err != nil {
		return fmt.Errorf("mark notification %s: %w", key, err)
	}
	return nil
}
