package order_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db/dbtest"
)

func TestCreateOrder_ReservesStockAndPoints(t *testing.T) {
	f := newFixture(t, 5, 20000)

	req := f.request(3, 150000, 140000)
	req.UsePoints = true
	o := f.mustCreate(t, req)

	assert.NotZero(t, o.ID)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, f.user.ID, o.UserID)
	require.Len(t, o.Details, 1)
	assert.Nil(t, o.Details[0].UserCouponID)
	require.NotNil(t, o.Details[0].Ticket)
	assert.Equal(t, int64(2), o.Details[0].Ticket.Quantity)

	assert.Equal(t, int64(2), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, int64(10000), dbtest.User(t, f.db, f.user.ID).Points)
	assert.Equal(t, 1, f.pub.Count(models.EventOrderCreated))
	assert.Equal(t, testTopics.OrderCreated, f.pub.topics[0])
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t, 5, 0)
	other := dbtest.SeedEvent(t, f.db, "Other")
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  int64
		req     models.OrderRequest
		wantErr error
	}{
		{"missing user", 0, f.request(1, 50000, 50000), models.ErrValidation},
		{"zero quantity", f.user.ID, f.request(0, 50000, 50000), models.ErrValidation},
		{"final above total", f.user.ID, f.request(1, 50000, 60000), models.ErrValidation},
		{"negative final", f.user.ID, f.request(1, 50000, -1), models.ErrValidation},
		{"ticket of another event", f.user.ID, models.OrderRequest{EventID: other.ID, TicketID: f.ticket.ID, Quantity: 1, TotalPrice: 50000, FinalPrice: 50000}, models.ErrValidation},
		{"unknown ticket", f.user.ID, models.OrderRequest{EventID: f.event.ID, TicketID: 999, Quantity: 1, TotalPrice: 50000, FinalPrice: 50000}, models.ErrNotFound},
		{"total below ticket price", f.user.ID, f.request(3, 5, 5), models.ErrValidation},
		{"total above ticket price", f.user.ID, f.request(1, 150000, 150000), models.ErrValidation},
		{"discount without points or coupon", f.user.ID, f.request(3, 150000, 1), models.ErrValidation},
		{"points discount too large", f.user.ID, withPoints(f.request(3, 150000, 139999)), models.ErrValidation},
		{"coupon discount too large", f.user.ID, withCoupon(f.request(1, 50000, 44999)), models.ErrValidation},
		{"more than stock", f.user.ID, f.request(6, 300000, 300000), models.ErrInsufficientInventory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.userID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, 0, f.pub.Count(models.EventOrderCreated))
}

func TestCreateOrder_PricesFromAppliedDiscounts(t *testing.T) {
	tests := []struct {
		name      string
		points    int64
		coupon    bool
		req       func(f *fixture) models.OrderRequest
		wantFinal int64
		// points balance once the order is canceled
		wantPoints int64
	}{
		{"no discount", 0, false, func(f *fixture) models.OrderRequest { return f.request(3, 150000, 150000) }, 150000, 0},
		{"points only", 10000, false, func(f *fixture) models.OrderRequest { return withPoints(f.request(3, 150000, 140000)) }, 140000, 10000},
		{"coupon only", 0, true, func(f *fixture) models.OrderRequest { return withCoupon(f.request(2, 100000, 90000)) }, 90000, 10000},
		{"points and coupon", 10000, true, func(f *fixture) models.OrderRequest { return withCoupon(withPoints(f.request(2, 100000, 80000))) }, 80000, 20000},
		{"discount not claimed", 10000, false, func(f *fixture) models.OrderRequest { return withPoints(f.request(1, 50000, 50000)) }, 40000, 10000},
		{"no coupon held", 0, false, func(f *fixture) models.OrderRequest { return withCoupon(f.request(1, 50000, 45000)) }, 50000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5, tt.points)
			if tt.coupon {
				dbtest.SeedCoupon(t, f.db, f.user.ID)
			}

			o := f.mustCreate(t, tt.req(f))
			assert.Equal(t, tt.wantFinal, o.FinalPrice)

			_, err := f.svc.UpdateOrderStatus(context.Background(), f.user.ID, o.ID, "CANCELED")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, dbtest.User(t, f.db, f.user.ID).Points)
		})
	}
}

func TestCreateOrder_InsufficientPointsRollsBack(t *testing.T) {
	f := newFixture(t, 5, 5000)

	req := f.request(2, 100000, 90000)
	req.UsePoints = true
	_, err := f.svc.CreateOrder(context.Background(), f.user.ID, req)
	assert.ErrorIs(t, err, models.ErrInsufficientPoints)

	// The stock reserved earlier in the same transaction is rolled back
	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, int64(5000), dbtest.User(t, f.db, f.user.ID).Points)
}

func TestCreateOrder_ConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t, 5, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, soldOut int
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), f.user.ID, f.request(1, 50000, 50000))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, models.ErrInsufficientInventory):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	assert.Equal(t, 7, soldOut)
	assert.Equal(t, int64(0), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
}

func TestCreateOrder_CouponCapUnderConcurrency(t *testing.T) {
	f := newFixture(t, 100, 0)

	users := make([]*models.User, 15)
	for i := range users {
		users[i] = dbtest.SeedUser(t, f.db, 0)
		dbtest.SeedCoupon(t, f.db, users[i].ID)
	}

	var wg sync.WaitGroup
	orders := make([]*models.Order, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			req := f.request(1, 50000, 45000)
			req.UseCoupon = true
			o, err := f.svc.CreateOrder(context.Background(), userID, req)
			assert.NoError(t, err)
			orders[i] = o
		}(i, u.ID)
	}
	wg.Wait()

	redeemed := 0
	for _, o := range orders {
		require.NotNil(t, o)
		if o.Details[0].UserCouponID != nil {
			redeemed++
			assert.Equal(t, int64(45000), o.FinalPrice)
		} else {
			// Past the cap the coupon discount is not granted
			assert.Equal(t, int64(50000), o.FinalPrice)
		}
	}
	assert.Equal(t, 10, redeemed)

	count, err := f.svc.CountCouponUsers(context.Background(), f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestCreateOrder_CouponConsumedOnce(t *testing.T) {
	f := newFixture(t, 10, 0)
	coupon := dbtest.SeedCoupon(t, f.db, f.user.ID)

	req := f.request(1, 50000, 45000)
	req.UseCoupon = true

	first := f.mustCreate(t, req)
	require.NotNil(t, first.Details[0].UserCouponID)
	assert.Equal(t, coupon.ID, *first.Details[0].UserCouponID)
	assert.True(t, dbtest.Coupon(t, f.db, coupon.ID).IsRedeem)

	// No active coupon left: the order still goes through, without one
	second := f.mustCreate(t, req)
	assert.Nil(t, second.Details[0].UserCouponID)
	assert.Equal(t, int64(50000), second.FinalPrice)

	// Cancel never gives the coupon back
	_, err := f.svc.UpdateOrderStatus(context.Background(), f.user.ID, first.ID, "CANCELED")
	require.NoError(t, err)
	assert.True(t, dbtest.Coupon(t, f.db, coupon.ID).IsRedeem)
}

func TestCountCouponUsers_InvalidEvent(t *testing.T) {
	f := newFixture(t, 1, 0)
	_, err := f.svc.CountCouponUsers(context.Background(), 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCancelRestoresInventory(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	o := f.mustCreate(t, f.request(3, 150000, 150000))
	assert.Equal(t, int64(2), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)

	updated, err := f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "CANCELED")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, updated.Status)
	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)

	// Second cancel is a no-op
	_, err = f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "CANCELED")
	require.NoError(t, err)
	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, 1, f.pub.Count(models.EventOrderCanceled))

	_, err = f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "PAID")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelRestoresPointsDiscount(t *testing.T) {
	f := newFixture(t, 5, 20000)

	req := f.request(2, 100000, 90000)
	req.UsePoints = true
	o := f.mustCreate(t, req)
	assert.Equal(t, int64(10000), dbtest.User(t, f.db, f.user.ID).Points)

	_, err := f.svc.UpdateOrderStatus(context.Background(), f.user.ID, o.ID, "CANCELED")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), dbtest.User(t, f.db, f.user.ID).Points)
}

func TestUpdateOrderStatus_Rules(t *testing.T) {
	f := newFixture(t, 5, 0)
	stranger := dbtest.SeedUser(t, f.db, 0)
	ctx := context.Background()
	o := f.mustCreate(t, f.request(1, 50000, 50000))

	_, err := f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "REFUNDED")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.UpdateOrderStatus(ctx, stranger.ID, o.ID, "CANCELED")
	assert.ErrorIs(t, err, models.ErrNotFound)

	same, err := f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, same.Status)

	// Only the payment notification can settle an order
	_, err = f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "PAID")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 0, f.pub.Count(models.EventOrderPaid))

	got, err := f.svc.GetOrder(ctx, f.user.ID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, int64(4), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)

	canceled, err := f.svc.UpdateOrderStatus(ctx, f.user.ID, o.ID, "CANCELED")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, canceled.Status)
	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
}

func TestUpdateOrderStatus_ConcurrentCancelRestoresOnce(t *testing.T) {
	f := newFixture(t, 10, 0)
	o := f.mustCreate(t, f.request(4, 200000, 200000))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateOrderStatus(context.Background(), f.user.ID, o.ID, "CANCELED")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, 1, f.pub.Count(models.EventOrderCanceled))
}

func TestSellCancelResell(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, f.db, 0)

	first := f.mustCreate(t, f.request(3, 150000, 150000))

	_, err := f.svc.CreateOrder(ctx, buyer.ID, f.request(3, 150000, 150000))
	assert.ErrorIs(t, err, models.ErrInsufficientInventory)

	_, err = f.svc.UpdateOrderStatus(ctx, f.user.ID, first.ID, "CANCELED")
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, buyer.ID, f.request(3, 150000, 150000))
	require.NoError(t, err)
	assert.Equal(t, int64(2), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, 5, 0)
	stranger := dbtest.SeedUser(t, f.db, 0)
	ctx := context.Background()
	o := f.mustCreate(t, f.request(1, 50000, 50000))

	got, err := f.svc.GetOrder(ctx, f.user.ID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.NotNil(t, got.Event)
	assert.Equal(t, "Jazz Night", got.Event.Title)

	_, err = f.svc.GetOrder(ctx, stranger.ID, o.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListUserOrders(t *testing.T) {
	f := newFixture(t, 50, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.mustCreate(t, f.request(1, 50000, 50000))
	}

	page, err := f.svc.ListUserOrders(ctx, f.user.ID, 1, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
	assert.Equal(t, models.Pagination{Total: 5, Pages: 3, CurrentPage: 1, Limit: 2}, page.Pagination)

	page, err = f.svc.ListUserOrders(ctx, f.user.ID, 0, 1000, "PENDING")
	require.NoError(t, err)
	assert.Len(t, page.Orders, 5)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
	assert.Equal(t, 100, page.Pagination.Limit)

	page, err = f.svc.ListUserOrders(ctx, f.user.ID, 1, 0, "PAID")
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Equal(t, 10, page.Pagination.Limit)
	assert.Equal(t, 0, page.Pagination.Pages)

	// Page numbers past any real offset clamp instead of overflowing
	page, err = f.svc.ListUserOrders(ctx, f.user.ID, math.MaxInt, 100, "")
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.LessOrEqual(t, page.Pagination.CurrentPage*page.Pagination.Limit, math.MaxInt32)

	_, err = f.svc.ListUserOrders(ctx, f.user.ID, 1, 10, "shipped")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestNewOrderServiceDefaultsPublisher(t *testing.T) {
	svc := order.NewOrderService(nil, nil, nil, nil, logger.Discard(), testConfig())
	assert.IsType(t, order.NopPublisher{}, svc.Publisher)
}

func withPoints(req models.OrderRequest) models.OrderRequest {
	req.UsePoints = true
	return req
}

func withCoupon(req models.OrderRequest) models.OrderRequest {
	req.UseCoupon = true
	return req
}
