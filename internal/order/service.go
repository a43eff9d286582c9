package order

import (
	"context"
	"errors"
	"fmt"
	"math"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

// DBLayer is the persistence the order flow needs. Calls made with the ctx
// handed to WithTx's callback share one transaction.
type DBLayer interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error)
	ReserveTickets(ctx context.Context, ticketID, quantity int64) error
	RestoreTickets(ctx context.Context, ticketID, quantity int64) error

	DeductPoints(ctx context.Context, userID, amount int64) error
	RestorePoints(ctx context.Context, userID, amount int64) error

	LockEventCoupons(ctx context.Context, eventID int64) error
	CountCouponUsers(ctx context.Context, eventID int64) (int, error)
	GetActiveUserCoupon(ctx context.Context, userID int64) (*models.UserCoupon, error)
	RedeemCoupon(ctx context.Context, couponID int64) (bool, error)

	CreateOrder(ctx context.Context, order *models.Order, detail *models.OrderDetail) error
	GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderForUser(ctx context.Context, orderID, userID int64) (*models.Order, error)
	GetPendingOrderForUser(ctx context.Context, orderID, userID int64) (*models.Order, error)
	ListOrdersForUser(ctx context.Context, userID int64, filter models.OrderFilter) ([]models.Order, int, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, next models.OrderStatus) (bool, error)
	SetPaymentProof(ctx context.Context, orderID int64, proof string) error

	RecordNotification(ctx context.Context, n *models.PaymentNotification) error
}

// RedisStore holds the payment lock and the webhook dedupe keys.
type RedisStore interface {
	LockPayment(ctx context.Context, orderID int64, owner string) (bool, error)
	UnlockPayment(ctx context.Context, orderID int64, owner string) error
	NotificationSeen(ctx context.Context, key string) (bool, error)
	MarkNotification(ctx context.Context, key string) error
}

type Config struct {
	PointsRedemptionCost  int64
	CouponCap             int
	CouponDiscountPercent int64
	FrontendBaseURL       string
	Topics                config.TopicConfig
}

// ConfigFrom picks the order settings out of the process config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PointsRedemptionCost:  cfg.Order.PointsRedemptionCost,
		CouponCap:             cfg.Order.CouponCap,
		CouponDiscountPercent: cfg.Order.CouponDiscountPercent,
		FrontendBaseURL:       cfg.Payment.FrontendBaseURL,
		Topics:                cfg.Kafka.Topics,
	}
}

type OrderService struct {
	DB        DBLayer
	Gateway   payment.Gateway
	Redis     RedisStore
	Publisher Publisher
	logger    *logger.Logger
	cfg       Config
}

// NewOrderService wires the service. redis may be nil, in which case payment
// creation is not locked and notifications are not deduplicated.
func NewOrderService(db DBLayer, gateway payment.Gateway, redis RedisStore, publisher Publisher, log *logger.Logger, cfg Config) *OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &OrderService{
		DB:        db,
		Gateway:   gateway,
		Redis:     redis,
		Publisher: publisher,
		logger:    log,
		cfg:       cfg,
	}
}

// ---------------- ORDERS ----------------

// CreateOrder reserves stock, spends points and a coupon, and inserts the
// PENDING order, all in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req models.OrderRequest) (*models.Order, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: missing user", models.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		order         *models.Order
		couponOutcome string
	)
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		// Step 1: ticket must exist, belong to the event and have stock
		ticket, err := s.DB.GetTicket(ctx, req.TicketID)
		if err != nil {
			return err
		}
		if ticket.EventID != req.EventID {
			return fmt.Errorf("%w: ticket %d does not belong to event %d", models.ErrValidation, ticket.ID, req.EventID)
		}
		if want := ticket.Price * req.Quantity; req.TotalPrice != want {
			return fmt.Errorf("%w: totalPrice %d does not match %d x %d", models.ErrValidation, req.TotalPrice, req.Quantity, ticket.Price)
		}
		if floor := s.priceAfter(req.TotalPrice, req.UsePoints, req.UseCoupon); req.FinalPrice < floor {
			return fmt.Errorf("%w: finalPrice %d is below the allowed %d", models.ErrValidation, req.FinalPrice, floor)
		}
		if ticket.Quantity < req.Quantity {
			return fmt.Errorf("%w: ticket %d has %d left, %d requested", models.ErrInsufficientInventory, ticket.ID, ticket.Quantity, req.Quantity)
		}

		// Step 2: reserve against the live row
		if err := s.DB.ReserveTickets(ctx, ticket.ID, req.Quantity); err != nil {
			return err
		}
		ticket.Quantity -= req.Quantity

		// Step 3: points
		if req.UsePoints {
			if err := s.DB.DeductPoints(ctx, userID, s.cfg.PointsRedemptionCost); err != nil {
				return err
			}
		}

		// Step 4: coupon, silently skipped when the gate is closed
		var couponID *int64
		if req.UseCoupon {
			couponID, couponOutcome, err = s.applyCoupon(ctx, userID, req.EventID)
			if err != nil {
				return err
			}
		}

		// Step 5: order + detail, priced by the discounts actually applied
		o := &models.Order{
			UserID:     userID,
			EventID:    req.EventID,
			TotalPrice: req.TotalPrice,
			FinalPrice: s.priceAfter(req.TotalPrice, req.UsePoints, couponID != nil),
			Status:     models.OrderStatusPending,
		}
		detail := &models.OrderDetail{
			TicketID:     ticket.ID,
			UserCouponID: couponID,
			Quantity:     req.Quantity,
		}
		if err := s.DB.CreateOrder(ctx, o, detail); err != nil {
			return err
		}
		detail.Ticket = ticket
		order = o
		return nil
	})
	if err != nil {
		metrics.OrderRejected(rejectionReason(err))
		s.logger.Warn("ORDER", fmt.Sprintf("Create order for user %d failed: %v", userID, err))
		return nil, err
	}

	if couponOutcome != "" {
		metrics.CouponOutcome(couponOutcome)
	}
	metrics.OrderCreated(req.UsePoints, couponOutcome == couponRedeemed)
	s.logger.LogOrder("CREATE", order.ID, fmt.Sprintf("user %d, ticket %d x%d, final %d", userID, req.TicketID, req.Quantity, order.FinalPrice))
	s.publish(ctx, models.EventOrderCreated, order, models.SourceUser)
	return order, nil
}

// priceAfter is total less the points redemption and coupon discounts, never
// below zero.
func (s *OrderService) priceAfter(total int64, points, coupon bool) int64 {
	price := total
	if points {
		price -= s.cfg.PointsRedemptionCost
	}
	if coupon {
		price -= total * s.cfg.CouponDiscountPercent / 100
	}
	if price < 0 {
		return 0
	}
	return price
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	return s.DB.GetOrderForUser(ctx, orderID, userID)
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ListUserOrders pages through the user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, limit int, status string) (*models.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	// keep (page-1)*limit inside a 32-bit OFFSET
	if maxPage := math.MaxInt32 / limit; page > maxPage {
		page = maxPage
	}

	filter := models.OrderFilter{Page: page, Limit: limit}
	if status != "" {
		st, err := models.ParseOrderStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &st
	}

	orders, total, err := s.DB.ListOrdersForUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	return &models.OrderPage{
		Orders:     orders,
		Pagination: models.NewPagination(total, page, limit),
	}, nil
}

// UpdateOrderStatus applies a user-requested status change to an order the
// user owns. Users may only cancel; PAID only comes from a payment
// notification. Moving to the current status is a no-op.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, userID, orderID int64, status string) (*models.Order, error) {
	next, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		applied bool
	)
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.DB.GetOrderForUser(ctx, orderID, userID)
		if err != nil {
			return err
		}
		order = o
		if next != o.Status && next != models.OrderStatusCanceled {
			return fmt.Errorf("%w: %s -> %s is not a user action", models.ErrInvalidTransition, o.Status, next)
		}
		applied, err = s.transition(ctx, o, next)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			metrics.OrderRejected("invalid_transition")
		}
		return nil, err
	}

	if applied {
		s.afterTransition(ctx, order, models.SourceUser)
	}
	return order, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, models.ErrInsufficientPoints):
		return "insufficient_points"
	default:
		return "internal"
	}
}
