package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

const defaultQRSize = 256

// CreatePayment opens a gateway session for one of the user's PENDING orders
// and stores the redirect URL as the order's payment proof.
func (s *OrderService) CreatePayment(ctx context.Context, userID, orderID int64) (*models.PaymentResponse, error) {
	if s.Gateway == nil {
		return nil, fmt.Errorf("%w: no payment gateway configured", models.ErrGateway)
	}
	s.logger.Info("PAYMENT", fmt.Sprintf("Creating payment for order %d", orderID))

	// Step 1: one session creation per order at a time
	if s.Redis != nil {
		owner := uuid.NewString()
		ok, err := s.Redis.LockPayment(ctx, orderID, owner)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("PAYMENT", fmt.Sprintf("Payment creation for order %d is already in progress", orderID))
			return nil, fmt.Errorf("%w: order %d", models.ErrPaymentInProgress, orderID)
		}
		defer func() {
			if err := s.Redis.UnlockPayment(context.WithoutCancel(ctx), orderID, owner); err != nil {
				s.logger.Warn("PAYMENT", fmt.Sprintf("Failed to release payment lock for order %d: %v", orderID, err))
			}
		}()
	}

	// Step 2: only the owner's pending orders are payable
	order, err := s.DB.GetPendingOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	// Step 3: gateway session
	req, err := s.buildTransaction(order)
	if err != nil {
		return nil, err
	}
	tx, err := s.Gateway.CreateTransaction(ctx, req)
	if err != nil {
		if !errors.Is(err, models.ErrGateway) {
			err = fmt.Errorf("%w: %v", models.ErrGateway, err)
		}
		return nil, err
	}

	// Step 4: remember where the user was sent
	if err := s.DB.SetPaymentProof(ctx, order.ID, tx.RedirectURL); err != nil {
		s.logger.Warn("PAYMENT", fmt.Sprintf("Failed to store payment proof for order %d: %v", order.ID, err))
	}

	s.logger.LogOrder("PAYMENT", order.ID, fmt.Sprintf("%s session created, gross %d", s.Gateway.Name(), req.GrossAmount))
	return &models.PaymentResponse{PaymentURL: tx.RedirectURL, Token: tx.Token}, nil
}

// buildTransaction describes the order to the gateway at the price locked in
// when it was placed. The item lines must sum to the gross amount, so the gap
// between totalPrice and finalPrice is sent as its own discount line.
func (s *OrderService) buildTransaction(order *models.Order) (payment.TransactionRequest, error) {
	if len(order.Details) == 0 || order.Details[0].Ticket == nil || order.Details[0].Quantity <= 0 {
		return payment.TransactionRequest{}, fmt.Errorf("order %d has no ticket detail", order.ID)
	}
	detail := order.Details[0]
	ticket := detail.Ticket
	ref := payment.OrderReference(order.ID)

	name := ticket.Category
	if order.Event != nil {
		name = order.Event.Title + " - " + ticket.Category
	}

	req := payment.TransactionRequest{
		OrderRef:    ref,
		GrossAmount: order.FinalPrice,
		Items: []payment.Item{{
			ID:       strconv.FormatInt(ticket.ID, 10),
			Name:     name,
			Price:    order.TotalPrice / detail.Quantity,
			Quantity: detail.Quantity,
		}},
		FinishURL: fmt.Sprintf("%s/payment/success?order_id=%s", s.cfg.FrontendBaseURL, ref),
		ErrorURL:  fmt.Sprintf("%s/payment/failed?order_id=%s", s.cfg.FrontendBaseURL, ref),
	}
	if order.User != nil {
		req.Customer = payment.Customer{FirstName: order.User.Username, Email: order.User.Email}
	}
	if discount := order.FinalPrice - order.TotalPrice; discount < 0 {
		req.Items = append(req.Items, payment.Item{ID: "DISCOUNT", Name: "Discount", Price: discount, Quantity: 1})
	}

	if total := req.ItemsTotal(); total != req.GrossAmount {
		return payment.TransactionRequest{}, fmt.Errorf("order %d items sum to %d but gross amount is %d", order.ID, total, req.GrossAmount)
	}
	return req, nil
}

// GetPaymentStatus returns the stored order next to the gateway's live view of it.
func (s *OrderService) GetPaymentStatus(ctx context.Context, userID, orderID int64) (*models.PaymentStatusResponse, error) {
	if s.Gateway == nil {
		return nil, fmt.Errorf("%w: no payment gateway configured", models.ErrGateway)
	}
	order, err := s.DB.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	status, err := s.Gateway.GetStatus(ctx, payment.OrderReference(order.ID))
	if err != nil {
		s.logger.Error("PAYMENT", fmt.Sprintf("Status query for order %d failed: %v", order.ID, err))
		if !errors.Is(err, models.ErrGateway) {
			err = fmt.Errorf("%w: %v", models.ErrGateway, err)
		}
		return nil, err
	}
	return &models.PaymentStatusResponse{Order: order, PaymentStatus: status}, nil
}

// PaymentQR renders the stored payment URL as a PNG QR code.
func (s *OrderService) PaymentQR(ctx context.Context, userID, orderID int64, size int) ([]byte, error) {
	order, err := s.DB.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.PaymentProof == nil || *order.PaymentProof == "" {
		return nil, fmt.Errorf("%w: no payment started for order %d", models.ErrNotFound, orderID)
	}
	if size <= 0 || size > 1024 {
		size = defaultQRSize
	}

	png, err := qrcode.Encode(*order.PaymentProof, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode payment QR for order %d: %w", orderID, err)
	}
	return png, nil
}
