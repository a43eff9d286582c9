package order

import (
	"context"
	"fmt"

	"ms-orders/internal/models"
)

const (
	couponRedeemed   = "redeemed"
	couponCapReached = "cap_reached"
	couponNone       = "no_coupon"
)

// applyCoupon runs the coupon gate inside the order's transaction. The event
// row lock is held until commit, so the cap count and the redemption cannot
// interleave with another creator for the same event. A closed gate is not an
// error; the order just goes ahead without a coupon.
func (s *OrderService) applyCoupon(ctx context.Context, userID, eventID int64) (*int64, string, error) {
	if err := s.DB.LockEventCoupons(ctx, eventID); err != nil {
		return nil, "", err
	}

	used, err := s.DB.CountCouponUsers(ctx, eventID)
	if err != nil {
		return nil, "", err
	}
	if used >= s.cfg.CouponCap {
		s.logger.Info("COUPON", fmt.Sprintf("Event %d reached its coupon cap (%d), user %d continues without coupon", eventID, s.cfg.CouponCap, userID))
		return nil, couponCapReached, nil
	}

	coupon, err := s.DB.GetActiveUserCoupon(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if coupon == nil {
		s.logger.Debug("COUPON", fmt.Sprintf("User %d has no active coupon", userID))
		return nil, couponNone, nil
	}

	ok, err := s.DB.RedeemCoupon(ctx, coupon.ID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, couponNone, nil
	}
	return &coupon.ID, couponRedeemed, nil
}

// CountCouponUsers is how many live orders of the event used a coupon.
func (s *OrderService) CountCouponUsers(ctx context.Context, eventID int64) (int, error) {
	if eventID <= 0 {
		return 0, fmt.Errorf("%w: invalid event id", models.ErrValidation)
	}
	return s.DB.CountCouponUsers(ctx, eventID)
}
