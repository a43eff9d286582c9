package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ms-orders/internal/models"
)

// Publisher sends a keyed message to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// NopPublisher drops everything; used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, []byte) error { return nil }

const publishTimeout = 5 * time.Second

func (s *OrderService) topicFor(t models.LifecycleEventType) string {
	switch t {
	case models.EventOrderCreated:
		return s.cfg.Topics.OrderCreated
	case models.EventOrderPaid:
		return s.cfg.Topics.OrderPaid
	default:
		return s.cfg.Topics.OrderCanceled
	}
}

// publish emits a lifecycle event after commit. Failures are logged only;
// the database is the source of truth.
func (s *OrderService) publish(ctx context.Context, eventType models.LifecycleEventType, order *models.Order, source models.TransitionSource) {
	evt := models.OrderLifecycleEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		EventRefID: order.EventID,
		Status:     order.Status,
		FinalPrice: order.FinalPrice,
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Failed to encode %s for order %d: %v", eventType, order.ID, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.Publisher.Publish(ctx, s.topicFor(eventType), strconv.FormatInt(order.ID, 10), value); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("Publish %s for order %d failed: %v", eventType, order.ID, err))
	}
}
