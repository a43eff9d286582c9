package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-orders/internal/models"
)

// CreateOrder → insert the order and its single detail line
func (d *DB) CreateOrder(ctx context.Context, order *models.Order, detail *models.OrderDetail) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	conn := d.conn(ctx)
	if _, err := conn.NewInsert().Model(order).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	detail.OrderID = order.ID
	if _, err := conn.NewInsert().Model(detail).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert order detail: %w", err)
	}

	order.Details = []*models.OrderDetail{detail}
	return nil
}

// withDetails eagerly loads detail lines and their tickets.
func withDetails(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Relation("Details", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("d.id ASC")
	}).Relation("Details.Ticket")
}

// GetOrderByID → fetch one order with its details, regardless of owner
func (d *DB) GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := withDetails(d.conn(ctx).NewSelect().Model(&order)).
		Where("o.id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "order %d", orderID)
	}
	return &order, nil
}

// GetOrderForUser → fetch one order owned by userID, with event, details and tickets
func (d *DB) GetOrderForUser(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order models.Order
	err := withDetails(d.conn(ctx).NewSelect().Model(&order).Relation("Event")).
		Where("o.id = ?", orderID).
		Where("o.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "order %d", orderID)
	}
	return &order, nil
}

// GetPendingOrderForUser → the payable view of an order: owned, PENDING, with user and event
func (d *DB) GetPendingOrderForUser(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order models.Order
	err := withDetails(d.conn(ctx).NewSelect().Model(&order).Relation("Event").Relation("User")).
		Where("o.id = ?", orderID).
		Where("o.user_id = ?", userID).
		Where("o.status = ?", models.OrderStatusPending).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "pending order %d", orderID)
	}
	return &order, nil
}

// ListOrdersForUser → one page of the user's orders, newest first, plus the total count
func (d *DB) ListOrdersForUser(ctx context.Context, userID int64, filter models.OrderFilter) ([]models.Order, int, error) {
	orders := make([]models.Order, 0, filter.Limit)
	q := withDetails(d.conn(ctx).NewSelect().Model(&orders).Relation("Event")).
		Where("o.user_id = ?", userID)
	if filter.Status != nil {
		q = q.Where("o.status = ?", *filter.Status)
	}

	total, err := q.
		OrderExpr("o.created_at DESC, o.id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders for user %d: %w", userID, err)
	}
	return orders, total, nil
}

// TransitionOrderStatus writes next only while the order is still in from.
// It reports false when another writer moved the order first.
func (d *DB) TransitionOrderStatus(ctx context.Context, orderID int64, from, next models.OrderStatus) (bool, error) {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", next).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update order %d status: %w", orderID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPaymentProof stores the gateway redirect URL on the order.
func (d *DB) SetPaymentProof(ctx context.Context, orderID int64, proof string) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_proof = ?", proof).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set payment proof for order %d: %w", orderID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	return nil
}
