package db

import (
	"context"
	"fmt"

	"ms-orders/internal/models"
)

func (d *DB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := d.conn(ctx).NewSelect().
		Model(&user).
		Where("u.id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "user %d", userID)
	}
	return &user, nil
}

// DeductPoints debits points only while the balance covers the amount.
func (d *DB) DeductPoints(ctx context.Context, userID, amount int64) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.User)(nil)).
		Set("points = points - ?", amount).
		Where("id = ?", userID).
		Where("points >= ?", amount).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deduct points for user %d: %w", userID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := d.GetUser(ctx, userID); err != nil {
			return err
		}
		return fmt.Errorf("%w: user %d", models.ErrInsufficientPoints, userID)
	}
	return nil
}

func (d *DB) RestorePoints(ctx context.Context, userID, amount int64) error {
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.User)(nil)).
		Set("points = points + ?", amount).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("restore points for user %d: %w", userID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
	}
	return nil
}
