// Package dbtest opens an in-memory SQLite database with the order schema and
// seeds the rows the order and payment tests share.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-orders/internal/models"
	"ms-orders/internal/order/db"
)

// Open returns a fresh database per test. A single connection keeps the
// in-memory database alive and serializes transactions the way row locks would.
func Open(t testing.TB) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	require.NoError(t, db.CreateSchema(context.Background(), bunDB))
	return db.New(bunDB)
}

func SeedUser(t testing.TB, d *db.DB, points int64) *models.User {
	t.Helper()
	u := &models.User{
		Username:  "user-" + uuid.NewString()[:8],
		Points:    points,
		CreatedAt: time.Now().UTC(),
	}
	u.Email = u.Username + "@example.com"
	_, err := d.Bun.NewInsert().Model(u).Exec(context.Background())
	require.NoError(t, err)
	return u
}

func SeedEvent(t testing.TB, d *db.DB, title string) *models.Event {
	t.Helper()
	e := &models.Event{
		Title:     title,
		Location:  "Jakarta",
		Date:      time.Now().Add(30 * 24 * time.Hour).UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := d.Bun.NewInsert().Model(e).Exec(context.Background())
	require.NoError(t, err)
	return e
}

func SeedTicket(t testing.TB, d *db.DB, eventID, price, quantity int64) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{EventID: eventID, Category: "REGULAR", Price: price, Quantity: quantity}
	_, err := d.Bun.NewInsert().Model(tk).Exec(context.Background())
	require.NoError(t, err)
	return tk
}

func SeedCoupon(t testing.TB, d *db.DB, userID int64) *models.UserCoupon {
	t.Helper()
	c := &models.UserCoupon{UserID: userID}
	_, err := d.Bun.NewInsert().Model(c).Exec(context.Background())
	require.NoError(t, err)
	return c
}

func Ticket(t testing.TB, d *db.DB, id int64) *models.Ticket {
	t.Helper()
	tk, err := d.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func User(t testing.TB, d *db.DB, id int64) *models.User {
	t.Helper()
	u, err := d.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func Coupon(t testing.TB, d *db.DB, id int64) *models.UserCoupon {
	t.Helper()
	var c models.UserCoupon
	err := d.Bun.NewSelect().Model(&c).Where("uc.id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	return &c
}
