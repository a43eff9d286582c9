package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db"
	"ms-orders/internal/order/db/dbtest"
	orderredis "ms-orders/internal/order/redis"
	"ms-orders/internal/payment"
)

var testTopics = config.TopicConfig{
	OrderCreated:  "ticketing.order.created",
	OrderPaid:     "ticketing.order.paid",
	OrderCanceled: "ticketing.order.canceled",
}

func testConfig() order.Config {
	return order.Config{
		PointsRedemptionCost:  10000,
		CouponCap:             10,
		CouponDiscountPercent: 10,
		FrontendBaseURL:       "http://localhost:3000",
		Topics:                testTopics,
	}
}

// Mock implementations
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreateTransaction(ctx context.Context, req payment.TransactionRequest) (*payment.Transaction, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, orderRef string) (map[string]any, error) {
	args := m.Called(orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockGateway) ParseNotification(payload []byte, header http.Header) (*payment.Notification, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Notification), args.Error(1)
}

// recordingPublisher keeps every lifecycle event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderLifecycleEvent
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, value []byte) error {
	var evt models.OrderLifecycleEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Count(t models.LifecycleEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db     *db.DB
	svc    *order.OrderService
	gw     *MockGateway
	pub    *recordingPublisher
	event  *models.Event
	ticket *models.Ticket
	user   *models.User
}

func newFixture(t *testing.T, stock, points int64) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	f := &fixture{
		db:  d,
		gw:  &MockGateway{},
		pub: &recordingPublisher{},
	}
	f.event = dbtest.SeedEvent(t, d, "Jazz Night")
	f.ticket = dbtest.SeedTicket(t, d, f.event.ID, 50000, stock)
	f.user = dbtest.SeedUser(t, d, points)
	f.svc = order.NewOrderService(d, f.gw, nil, f.pub, logger.Discard(), testConfig())
	return f
}

// withRedis swaps in a miniredis-backed store.
func (f *fixture) withRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	f.svc.Redis = orderredis.NewRedis(client, logger.Discard(), 30*time.Second, time.Hour)
	return mr
}

func (f *fixture) request(quantity, total, final int64) models.OrderRequest {
	return models.OrderRequest{
		EventID:    f.event.ID,
		TicketID:   f.ticket.ID,
		Quantity:   quantity,
		TotalPrice: total,
		FinalPrice: final,
	}
}

func (f *fixture) mustCreate(t *testing.T, req models.OrderRequest) *models.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), f.user.ID, req)
	require.NoError(t, err)
	return o
}
