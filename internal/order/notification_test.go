package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db/dbtest"
	"ms-orders/internal/payment"
	"ms-orders/internal/payment/services"
)

func TestMapTransactionStatus(t *testing.T) {
	tests := map[string]models.OrderStatus{
		"settlement":     models.OrderStatusPaid,
		"capture":        models.OrderStatusPaid,
		"success":        models.OrderStatusPaid,
		"SETTLEMENT":     models.OrderStatusPaid,
		"deny":           models.OrderStatusCanceled,
		"cancel":         models.OrderStatusCanceled,
		"expire":         models.OrderStatusCanceled,
		"failure":        models.OrderStatusCanceled,
		"pending":        models.OrderStatusPending,
		"authorize":      models.OrderStatusPending,
		"partial_refund": models.OrderStatusPending,
		"":               models.OrderStatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, order.MapTransactionStatus(in), in)
	}
}

// midtransFixture uses the real Midtrans adapter so notifications go through signature checks.
type midtransFixture struct {
	*fixture
	midtrans *services.MidtransService
}

func newMidtransFixture(t *testing.T, stock, points int64) *midtransFixture {
	t.Helper()
	f := newFixture(t, stock, points)
	mt, err := services.NewMidtransService(config.PaymentConfig{
		ServerKey: "SB-Mid-server-test",
		Timeout:   time.Second,
	}, logger.Discard())
	require.NoError(t, err)
	f.svc.Gateway = mt
	return &midtransFixture{fixture: f, midtrans: mt}
}

func (f *midtransFixture) notify(t *testing.T, ref, status, amount string) (*models.NotificationResult, error) {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"order_id":           ref,
		"status_code":        "200",
		"gross_amount":       amount,
		"transaction_status": status,
		"signature_key":      f.midtrans.Signature(ref, "200", amount),
	})
	require.NoError(t, err)
	return f.svc.HandleNotification(context.Background(), body, http.Header{})
}

func ref(o *models.Order) string { return fmt.Sprintf("ORDER-%d", o.ID) }

func webhookStatus(t *testing.T, err error) int {
	t.Helper()
	var we *order.WebhookError
	require.True(t, errors.As(err, &we), "expected WebhookError, got %v", err)
	return we.StatusCode
}

func TestHandleNotification_SettlementIsIdempotent(t *testing.T) {
	f := newMidtransFixture(t, 5, 10000)
	o := f.mustCreate(t, withPoints(f.request(2, 100000, 90000)))

	res, err := f.notify(t, ref(o), "settlement", "90000.00")
	require.NoError(t, err)
	assert.Equal(t, o.ID, res.OrderID)
	assert.Equal(t, models.OrderStatusPaid, res.Status)
	assert.True(t, res.Applied)

	res, err = f.notify(t, ref(o), "settlement", "90000.00")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Status)
	assert.False(t, res.Applied)

	assert.Equal(t, 1, f.pub.Count(models.EventOrderPaid))

	audit, err := f.db.ListNotifications(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.True(t, audit[0].Applied)
	assert.False(t, audit[1].Applied)
	assert.Equal(t, "90000.00", audit[0].GrossAmount)
}

func TestHandleNotification_CaptureAndSuccessPay(t *testing.T) {
	for _, status := range []string{"capture", "success"} {
		t.Run(status, func(t *testing.T) {
			f := newMidtransFixture(t, 5, 0)
			o := f.mustCreate(t, f.request(1, 50000, 50000))

			res, err := f.notify(t, ref(o), status, "50000.00")
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusPaid, res.Status)
		})
	}
}

func TestHandleNotification_ExpireRestoresLedgers(t *testing.T) {
	f := newMidtransFixture(t, 5, 20000)
	req := f.request(3, 150000, 140000)
	req.UsePoints = true
	o := f.mustCreate(t, req)
	require.Equal(t, int64(2), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	require.Equal(t, int64(10000), dbtest.User(t, f.db, f.user.ID).Points)

	res, err := f.notify(t, ref(o), "expire", "140000.00")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, res.Status)
	assert.True(t, res.Applied)

	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, int64(20000), dbtest.User(t, f.db, f.user.ID).Points)
	assert.Equal(t, 1, f.pub.Count(models.EventOrderCanceled))

	// A late settlement cannot revive the order
	res, err = f.notify(t, ref(o), "settlement", "140000.00")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, res.Status)
	assert.False(t, res.Applied)

	// A repeated expire restores nothing
	_, err = f.notify(t, ref(o), "deny", "140000.00")
	require.NoError(t, err)
	assert.Equal(t, int64(5), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
	assert.Equal(t, int64(20000), dbtest.User(t, f.db, f.user.ID).Points)
}

func TestHandleNotification_CancelAfterPaidIgnored(t *testing.T) {
	f := newMidtransFixture(t, 5, 0)
	o := f.mustCreate(t, f.request(2, 100000, 100000))

	_, err := f.notify(t, ref(o), "settlement", "100000.00")
	require.NoError(t, err)

	res, err := f.notify(t, ref(o), "cancel", "100000.00")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, res.Status)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(3), dbtest.Ticket(t, f.db, f.ticket.ID).Quantity)
}

func TestHandleNotification_PendingChangesNothing(t *testing.T) {
	f := newMidtransFixture(t, 5, 0)
	o := f.mustCreate(t, f.request(1, 50000, 50000))

	res, err := f.notify(t, ref(o), "pending", "50000.00")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, res.Status)
	assert.False(t, res.Applied)

	audit, err := f.db.ListNotifications(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.OrderStatusPending, audit[0].MappedStatus)
}

func TestHandleNotification_Rejections(t *testing.T) {
	f := newMidtransFixture(t, 5, 0)
	o := f.mustCreate(t, f.request(1, 50000, 50000))

	t.Run("bad signature", func(t *testing.T) {
		body := []byte(fmt.Sprintf(`{"order_id":%q,"status_code":"200","gross_amount":"50000.00","transaction_status":"settlement","signature_key":"deadbeef"}`, ref(o)))
		_, err := f.svc.HandleNotification(context.Background(), body, http.Header{})
		assert.Equal(t, http.StatusBadRequest, webhookStatus(t, err))
	})

	t.Run("malformed reference", func(t *testing.T) {
		_, err := f.notify(t, "INV-1", "settlement", "50000.00")
		assert.Equal(t, http.StatusBadRequest, webhookStatus(t, err))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.notify(t, "ORDER-99999", "settlement", "50000.00")
		assert.Equal(t, http.StatusNotFound, webhookStatus(t, err))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		_, err := f.notify(t, ref(o), "settlement", "1000.00")
		assert.Equal(t, http.StatusBadRequest, webhookStatus(t, err))
	})

	got, err := f.db.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, 0, f.pub.Count(models.EventOrderPaid))
}

func TestHandleNotification_ReplaySkippedWithRedis(t *testing.T) {
	f := newMidtransFixture(t, 5, 0)
	mr := f.withRedis(t)
	o := f.mustCreate(t, f.request(1, 50000, 50000))

	res, err := f.notify(t, ref(o), "settlement", "50000.00")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, mr.Exists(fmt.Sprintf("payment_notification:midtrans:%s:settlement", ref(o))))

	res, err = f.notify(t, ref(o), "settlement", "50000.00")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, models.OrderStatusPaid, res.Status)

	// The replay never reached the database
	audit, err := f.db.ListNotifications(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestHandleNotification_InformationalAcknowledged(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.gw.On("ParseNotification", []byte(`{}`)).Return(&payment.Notification{Provider: "mock", TransactionStatus: "customer.created", Informational: true}, nil)

	res, err := f.svc.HandleNotification(context.Background(), []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, res.OrderID)
	f.gw.AssertExpectations(t)
}

func TestHandleNotification_NoGateway(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.svc.Gateway = nil

	_, err := f.svc.HandleNotification(context.Background(), []byte(`{}`), http.Header{})
	assert.Equal(t, http.StatusInternalServerError, webhookStatus(t, err))
}
