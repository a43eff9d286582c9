package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-orders/internal/models"
)

// schemaModels lists tables in dependency order.
var schemaModels = []any{
	(*models.User)(nil),
	(*models.Event)(nil),
	(*models.Ticket)(nil),
	(*models.UserCoupon)(nil),
	(*models.Order)(nil),
	(*models.OrderDetail)(nil),
	(*models.PaymentNotification)(nil),
}

// CreateSchema builds the tables straight from the bun models. Production
// databases are managed by the SQL migrations; this is for tests and local runs.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	for _, m := range schemaModels {
		if _, err := bunDB.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}
