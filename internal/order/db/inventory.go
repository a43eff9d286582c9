package db

import (
	"context"
	"fmt"

	"ms-orders/internal/models"
)

// GetTicket → fetch one ticket by its ID
func (d *DB) GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.conn(ctx).NewSelect().
		Model(&ticket).
		Where("t.id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "ticket %d", ticketID)
	}
	return &ticket, nil
}

// ReserveTickets decrements stock only while enough remains, so the check and
// the write happen against the current row in a single statement.
func (d *DB) ReserveTickets(ctx context.Context, ticketID, quantity int64) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("quantity = quantity - ?", quantity).
		Where("id = ?", ticketID).
		Where("quantity >= ?", quantity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reserve tickets %d: %w", ticketID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: ticket %d", models.ErrInsufficientInventory, ticketID)
	}
	return nil
}

// RestoreTickets puts canceled quantity back into stock.
func (d *DB) RestoreTickets(ctx context.Context, ticketID, quantity int64) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("quantity = quantity + ?", quantity).
		Where("id = ?", ticketID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("restore tickets %d: %w", ticketID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: ticket %d", models.ErrNotFound, ticketID)
	}
	return nil
}
