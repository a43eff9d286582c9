package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-orders/internal/models"
)

// LockEventCoupons takes a write lock on the event row until the transaction
// ends. Creators that want a coupon for the same event queue behind it, which
// makes the cap count and the redemption one atomic step.
func (d *DB) LockEventCoupons(ctx context.Context, eventID int64) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Event)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("lock event %d: %w", eventID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: event %d", models.ErrNotFound, eventID)
	}
	return nil
}

// CountCouponUsers counts live orders of the event that consumed a coupon.
func (d *DB) CountCouponUsers(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := d.conn(ctx).NewSelect().
		TableExpr("orders AS o").
		Join("JOIN order_details AS d ON d.order_id = o.id").
		ColumnExpr("COUNT(DISTINCT o.id)").
		Where("o.event_id = ?", eventID).
		Where("d.user_coupon_id IS NOT NULL").
		Where("o.status != ?", models.OrderStatusCanceled).
		Scan(ctx, &count)
	if err != nil {
		return 0, fmt.Errorf("count coupon users for event %d: %w", eventID, err)
	}
	return count, nil
}

// GetActiveUserCoupon returns the user's unredeemed coupon, or nil when there is none.
func (d *DB) GetActiveUserCoupon(ctx context.Context, userID int64) (*models.UserCoupon, error) {
	var coupon models.UserCoupon
	err := d.conn(ctx).NewSelect().
		Model(&coupon).
		Where("uc.user_id = ?", userID).
		Where("uc.is_redeem = ?", false).
		OrderExpr("uc.id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon for user %d: %w", userID, err)
	}
	return &coupon, nil
}

// RedeemCoupon flips is_redeem once; false means someone else consumed it first.
func (d *DB) RedeemCoupon(ctx context.Context, couponID int64) (bool, error) {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.UserCoupon)(nil)).
		Set("is_redeem = ?", true).
		Where("id = ?", couponID).
		Where("is_redeem = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redeem coupon %d: %w", couponID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
