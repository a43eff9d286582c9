package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderRefPrefix is prepended to the internal order id to form the gateway reference.
const OrderRefPrefix = "ORDER-"

var (
	ErrInvalidSignature      = errors.New("invalid notification signature")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrInvalidReference      = errors.New("invalid order reference")
)

// Gateway is a hosted-checkout payment provider.
type Gateway interface {
	Name() string
	CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error)
	// GetStatus returns the provider's view of the transaction as-is.
	GetStatus(ctx context.Context, orderRef string) (map[string]any, error)
	// ParseNotification authenticates a webhook delivery and normalizes it.
	ParseNotification(payload []byte, header http.Header) (*Notification, error)
}

type Item struct {
	ID       string
	Name     string
	Price    int64
	Quantity int64
}

type Customer struct {
	FirstName string
	Email     string
}

type TransactionRequest struct {
	OrderRef    string
	GrossAmount int64
	Items       []Item
	Customer    Customer
	FinishURL   string
	ErrorURL    string
}

type Transaction struct {
	Token       string
	RedirectURL string
}

// Notification is a verified webhook in the Midtrans status vocabulary
// (settlement, capture, pending, deny, cancel, expire, failure).
type Notification struct {
	Provider          string
	OrderRef          string
	TransactionStatus string
	GrossAmount       decimal.Decimal
	// Informational deliveries carry no status change and no amount.
	Informational bool
}

func OrderReference(orderID int64) string {
	return OrderRefPrefix + strconv.FormatInt(orderID, 10)
}

// ParseOrderReference strips the prefix and returns the internal id.
func ParseOrderReference(ref string) (int64, error) {
	raw, ok := strings.CutPrefix(ref, OrderRefPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return id, nil
}

// Sum of item lines, used to check a request balances before it is sent.
func (r TransactionRequest) ItemsTotal() int64 {
	var total int64
	for _, it := range r.Items {
		total += it.Price * it.Quantity
	}
	return total
}
