package db

import (
	"context"
	"fmt"
	"time"

	"ms-orders/internal/models"
)

// RecordNotification appends a verified gateway callback to the audit log.
func (d *DB) RecordNotification(ctx context.Context, n *models.PaymentNotification) error {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	if _, err := d.conn(ctx).NewInsert().Model(n).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("record notification for order %d: %w", n.OrderID, err)
	}
	return nil
}

// ListNotifications → audit rows for an order, oldest first
func (d *DB) ListNotifications(ctx context.Context, orderID int64) ([]models.PaymentNotification, error) {
	var rows []models.PaymentNotification
	err := d.conn(ctx).NewSelect().
		Model(&rows).
		Where("pn.order_id = ?", orderID).
		OrderExpr("pn.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notifications for order %d: %w", orderID, err)
	}
	return rows, nil
}
