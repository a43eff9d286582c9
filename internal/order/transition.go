package order

import (
	"context"
	"fmt"

	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
)

// transition moves order to next inside the caller's transaction. It is the
// only place order status changes, for both users and the gateway.
//
// It reports applied=false for same-status requests. A cancel puts the
// reserved tickets and spent points back in the same transaction, so a
// cancel that loses the race to another cancel restores nothing.
func (s *OrderService) transition(ctx context.Context, order *models.Order, next models.OrderStatus) (bool, error) {
	if order.Status == next {
		return false, nil
	}
	if order.Status.IsTerminal() {
		return false, fmt.Errorf("%w: order %d is already %s", models.ErrInvalidTransition, order.ID, order.Status)
	}
	if !order.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: order %d is %s, cannot become %s", models.ErrInvalidTransition, order.ID, order.Status, next)
	}

	moved, err := s.DB.TransitionOrderStatus(ctx, order.ID, order.Status, next)
	if err != nil {
		return false, err
	}
	if !moved {
		// Someone else moved it between our read and write.
		current, err := s.DB.GetOrderByID(ctx, order.ID)
		if err != nil {
			return false, err
		}
		order.Status = current.Status
		if current.Status == next {
			return false, nil
		}
		return false, fmt.Errorf("%w: order %d is %s, cannot become %s", models.ErrInvalidTransition, order.ID, current.Status, next)
	}

	if next == models.OrderStatusCanceled {
		if err := s.restoreLedgers(ctx, order); err != nil {
			return false, err
		}
	}
	order.Status = next
	return true, nil
}

// restoreLedgers returns stock for every detail line and the points discount.
func (s *OrderService) restoreLedgers(ctx context.Context, order *models.Order) error {
	details := order.Details
	if details == nil {
		full, err := s.DB.GetOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		details = full.Details
	}

	for _, d := range details {
		if err := s.DB.RestoreTickets(ctx, d.TicketID, d.Quantity); err != nil {
			return err
		}
	}
	if points := order.PointsToRestore(); points > 0 {
		if err := s.DB.RestorePoints(ctx, order.UserID, points); err != nil {
			return err
		}
	}
	return nil
}

// afterTransition runs the side effects of a committed transition.
func (s *OrderService) afterTransition(ctx context.Context, order *models.Order, source models.TransitionSource) {
	metrics.OrderTransition(string(order.Status), string(source))
	s.logger.LogOrder("STATUS", order.ID, fmt.Sprintf("-> %s (%s)", order.Status, source))

	switch order.Status {
	case models.OrderStatusPaid:
		s.publish(ctx, models.EventOrderPaid, order, source)
	case models.OrderStatusCanceled:
		s.publish(ctx, models.EventOrderCanceled, order, source)
	}
}
