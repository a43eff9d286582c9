package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	orderredis "ms-orders/internal/order/redis"
	"ms-orders/internal/payment"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

func validationError(public string, err error) *WebhookError {
	return &WebhookError{
		Category:      "validation",
		StatusCode:    http.StatusBadRequest,
		PublicError:   public,
		InternalError: fmt.Sprintf("%s: %v", public, err),
		OriginalErr:   err,
	}
}

// MapTransactionStatus translates a gateway transaction status into the order
// status it implies. Anything unrecognized maps to PENDING, meaning no change.
func MapTransactionStatus(transactionStatus string) models.OrderStatus {
	switch strings.ToLower(transactionStatus) {
	case "settlement", "capture", "success":
		return models.OrderStatusPaid
	case "deny", "cancel", "expire", "failure":
		return models.OrderStatusCanceled
	default:
		return models.OrderStatusPending
	}
}

// HandleNotification verifies a gateway webhook and applies it through the
// same guarded transition users go through. Deliveries may repeat and arrive
// out of order: replays and moves out of a final state are acknowledged
// without changing anything.
func (s *OrderService) HandleNotification(ctx context.Context, payload []byte, header http.Header) (*models.NotificationResult, error) {
	if s.Gateway == nil {
		return nil, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "no payment gateway configured",
		}
	}
	provider := s.Gateway.Name()

	// Step 1: authenticate and normalize
	n, err := s.Gateway.ParseNotification(payload, header)
	if err != nil {
		metrics.PaymentNotification(provider, "", "rejected")
		if errors.Is(err, payment.ErrInvalidSignature) {
			return nil, validationError("Invalid notification signature", err)
		}
		return nil, validationError("Invalid notification payload", err)
	}
	if n.Informational {
		metrics.PaymentNotification(provider, n.TransactionStatus, "ignored")
		return &models.NotificationResult{TransactionStatus: n.TransactionStatus}, nil
	}

	// Step 2: reference -> order id
	orderID, err := payment.ParseOrderReference(n.OrderRef)
	if err != nil {
		metrics.PaymentNotification(provider, n.TransactionStatus, "rejected")
		return nil, validationError("Invalid order reference", err)
	}

	// Step 3: desired status
	next := MapTransactionStatus(n.TransactionStatus)
	s.logger.Info("WEBHOOK", fmt.Sprintf("%s notification for order %d: %s -> %s", provider, orderID, n.TransactionStatus, next))

	dedupeKey := orderredis.NotificationKey(provider, n.OrderRef, n.TransactionStatus)
	if s.Redis != nil {
		seen, err := s.Redis.NotificationSeen(ctx, dedupeKey)
		if err != nil {
			s.logger.Warn("WEBHOOK", fmt.Sprintf("Dedupe lookup failed, processing anyway: %v", err))
		} else if seen {
			order, err := s.DB.GetOrderByID(ctx, orderID)
			if err != nil {
				return nil, s.processingError(orderID, err)
			}
			metrics.PaymentNotification(provider, n.TransactionStatus, "duplicate")
			s.logger.Debug("WEBHOOK", fmt.Sprintf("Duplicate notification %s skipped", dedupeKey))
			return &models.NotificationResult{OrderID: orderID, Status: order.Status, TransactionStatus: n.TransactionStatus}, nil
		}
	}

	// Step 4: guarded transition + audit row, one transaction
	var (
		order   *models.Order
		applied bool
	)
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.DB.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		order = o

		if next == models.OrderStatusPaid && !n.GrossAmount.Equal(decimal.NewFromInt(o.FinalPrice)) {
			return fmt.Errorf("%w: paid amount %s does not match order %d final price %d",
				models.ErrValidation, n.GrossAmount.String(), o.ID, o.FinalPrice)
		}

		if next != models.OrderStatusPending {
			applied, err = s.transition(ctx, o, next)
			if errors.Is(err, models.ErrInvalidTransition) {
				s.logger.Warn("WEBHOOK", fmt.Sprintf("Ignoring %s for order %d: %v", n.TransactionStatus, o.ID, err))
				applied, err = false, nil
			}
			if err != nil {
				return err
			}
		}

		return s.DB.RecordNotification(ctx, &models.PaymentNotification{
			OrderID:           o.ID,
			OrderReference:    n.OrderRef,
			Provider:          provider,
			TransactionStatus: n.TransactionStatus,
			MappedStatus:      next,
			Applied:           applied,
			GrossAmount:       n.GrossAmount.StringFixed(2),
		})
	})
	if err != nil {
		metrics.PaymentNotification(provider, n.TransactionStatus, "error")
		if errors.Is(err, models.ErrValidation) {
			return nil, validationError("Notification does not match order", err)
		}
		return nil, s.processingError(orderID, err)
	}

	if s.Redis != nil {
		if err := s.Redis.MarkNotification(ctx, dedupeKey); err != nil {
			s.logger.Warn("WEBHOOK", fmt.Sprintf("Failed to mark notification %s: %v", dedupeKey, err))
		}
	}

	result := "noop"
	if applied {
		result = "applied"
		s.afterTransition(ctx, order, models.SourceGateway)
	}
	metrics.PaymentNotification(provider, n.TransactionStatus, result)

	return &models.NotificationResult{
		OrderID:           order.ID,
		Status:            order.Status,
		TransactionStatus: n.TransactionStatus,
		Applied:           applied,
	}, nil
}

func (s *OrderService) processingError(orderID int64, err error) *WebhookError {
	if errors.Is(err, models.ErrNotFound) {
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusNotFound,
			PublicError:   "Order not found",
			InternalError: fmt.Sprintf("order %d not found: %v", orderID, err),
			OriginalErr:   err,
		}
	}
	s.logger.Error("WEBHOOK", fmt.Sprintf("Processing notification for order %d failed: %v", orderID, err))
	return &WebhookError{
		Category:      "processing",
		StatusCode:    http.StatusInternalServerError,
		PublicError:   "Webhook processing error",
		InternalError: fmt.Sprintf("process notification for order %d: %v", orderID, err),
		OriginalErr:   err,
	}
}
