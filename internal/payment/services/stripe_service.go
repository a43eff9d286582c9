package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeService is the Stripe Checkout gateway. Stripe events are translated
// into the Midtrans status words the reconciliation handler understands.
type StripeService struct {
	client        *client.API
	cfg           config.PaymentConfig
	webhookSecret string
	log           *logger.Logger
}

func NewStripeService(cfg config.PaymentConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.StripeSecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	backends := stripe.NewBackends(&http.Client{Timeout: cfg.Timeout})
	sc := client.New(cfg.StripeSecretKey, backends)

	log.Info("STRIPE", "Stripe client initialized successfully")
	return newStripeService(sc, cfg, log), nil
}

func newStripeService(sc *client.API, cfg config.PaymentConfig, log *logger.Logger) *StripeService {
	return &StripeService{
		client:        sc,
		cfg:           cfg,
		webhookSecret: cfg.StripeWebhookSecret,
		log:           log,
	}
}

func (s *StripeService) Name() string { return config.ProviderStripe }

// CreateTransaction opens a hosted Checkout session. The amount is charged as a
// single line so discounts never need a negative Stripe price.
func (s *StripeService) CreateTransaction(ctx context.Context, req payment.TransactionRequest) (_ *payment.Transaction, err error) {
	defer func(start time.Time) { metrics.ObserveGateway(s.Name(), "create", start, err) }(time.Now())

	name := req.OrderRef
	if len(req.Items) > 0 {
		name = req.Items[0].Name
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderRef),
		SuccessURL:        stripe.String(req.FinishURL),
		CancelURL:         stripe.String(req.ErrorURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.cfg.Currency),
					UnitAmount: stripe.Int64(req.GrossAmount * 100),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.OrderRef},
		},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderRef)

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for %s: %v", req.OrderRef, err))
		return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Checkout session %s created for %s", sess.ID, req.OrderRef))
	return &payment.Transaction{Token: sess.ID, RedirectURL: sess.URL}, nil
}

// GetStatus reports the most recent payment intent tagged with the order reference.
func (s *StripeService) GetStatus(ctx context.Context, orderRef string) (_ map[string]any, err error) {
	defer func(start time.Time) { metrics.ObserveGateway(s.Name(), "status", start, err) }(time.Now())

	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['order_id']:'%s'", orderRef)
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := s.client.PaymentIntents.Search(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
		}
		return map[string]any{
			"order_id":           orderRef,
			"transaction_status": "not_found",
		}, nil
	}

	pi := iter.PaymentIntent()
	return map[string]any{
		"order_id":           orderRef,
		"payment_intent":     pi.ID,
		"status":             string(pi.Status),
		"transaction_status": stripeIntentStatus(pi.Status),
		"gross_amount":       decimal.New(pi.Amount, -2).StringFixed(2),
		"currency":           string(pi.Currency),
	}, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return "settlement"
	case stripe.PaymentIntentStatusCanceled:
		return "cancel"
	default:
		return "pending"
	}
}

// ParseNotification verifies the Stripe-Signature header and maps checkout events.
func (s *StripeService) ParseNotification(payload []byte, header http.Header) (*payment.Notification, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is not configured", payment.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.log.LogSecurity("SIGNATURE", fmt.Sprintf("Stripe webhook rejected: %v", err))
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	var status string
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = "settlement"
	case "checkout.session.async_payment_failed":
		status = "failure"
	case "checkout.session.expired":
		status = "expire"
	default:
		s.log.Debug("STRIPE", fmt.Sprintf("Ignoring event type %s", event.Type))
		return &payment.Notification{Provider: s.Name(), TransactionStatus: string(event.Type), Informational: true}, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedNotification, err)
	}
	if sess.ClientReferenceID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no client_reference_id", payment.ErrMalformedNotification, sess.ID)
	}
	// A completed session for a delayed method is not paid yet.
	if event.Type == "checkout.session.completed" && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		status = "pending"
	}

	return &payment.Notification{
		Provider:          s.Name(),
		OrderRef:          sess.ClientReferenceID,
		TransactionStatus: status,
		GrossAmount:       decimal.New(sess.AmountTotal, -2),
	}, nil
}
