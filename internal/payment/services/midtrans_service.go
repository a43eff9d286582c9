package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
)

var ErrMidtransClientInitFailed = errors.New("failed to initialize Midtrans client")

// Midtrans rejects item names longer than this many characters.
const midtransItemNameMax = 50

// MidtransService talks to the Midtrans Snap and Core APIs through the
// official SDK. Only the notification signature check is done by hand.
type MidtransService struct {
	snap *snap.Client
	core *coreapi.Client
	cfg  config.PaymentConfig
	log  *logger.Logger
}

func NewMidtransService(cfg config.PaymentConfig, log *logger.Logger) (*MidtransService, error) {
	if cfg.ServerKey == "" {
		log.Error("MIDTRANS", "MIDTRANS_SERVER_KEY not set")
		return nil, ErrMidtransClientInitFailed
	}

	s := newMidtransService(&http.Client{Timeout: cfg.Timeout}, cfg, log)
	log.Info("MIDTRANS", fmt.Sprintf("Midtrans client initialized (production: %t)", cfg.MidtransProduction))
	return s, nil
}

func newMidtransService(hc *http.Client, cfg config.PaymentConfig, log *logger.Logger) *MidtransService {
	env := midtrans.Sandbox
	if cfg.MidtransProduction {
		env = midtrans.Production
	}
	transport := &midtrans.HttpClientImplementation{
		HttpClient: hc,
		Logger:     sdkLogger{log: log},
	}

	sc := &snap.Client{}
	sc.New(cfg.ServerKey, env)
	sc.HttpClient = transport

	cc := &coreapi.Client{}
	cc.New(cfg.ServerKey, env)
	cc.HttpClient = transport

	return &MidtransService{snap: sc, core: cc, cfg: cfg, log: log}
}

func (s *MidtransService) Name() string { return config.ProviderMidtrans }

// sdkLogger routes the SDK's request logging into ours.
type sdkLogger struct{ log *logger.Logger }

func (l sdkLogger) Error(format string, a ...interface{}) {
	l.log.Error("MIDTRANS", fmt.Sprintf(format, a...))
}

func (l sdkLogger) Info(format string, a ...interface{}) {
	l.log.Debug("MIDTRANS", fmt.Sprintf(format, a...))
}

func (l sdkLogger) Debug(format string, a ...interface{}) {
	l.log.Debug("MIDTRANS", fmt.Sprintf(format, a...))
}

// truncateName cuts name to max characters without splitting a UTF-8 sequence.
func truncateName(name string, max int) string {
	if utf8.RuneCountInString(name) <= max {
		return name
	}
	return string([]rune(name)[:max])
}

// CreateTransaction opens a Snap session and returns its token and redirect URL.
// The SDK takes no context; cfg.Timeout bounds the call instead.
func (s *MidtransService) CreateTransaction(ctx context.Context, req payment.TransactionRequest) (_ *payment.Transaction, err error) {
	defer func(start time.Time) { metrics.ObserveGateway(s.Name(), "create", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
	}

	items := make([]midtrans.ItemDetails, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, midtrans.ItemDetails{
			ID:    it.ID,
			Name:  truncateName(it.Name, midtransItemNameMax),
			Price: it.Price,
			Qty:   int32(it.Quantity),
		})
	}
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{OrderID: req.OrderRef, GrossAmt: req.GrossAmount},
		Items:              &items,
		CustomerDetail:     &midtrans.CustomerDetails{FName: req.Customer.FirstName, Email: req.Customer.Email},
		Callbacks:          &snap.Callbacks{Finish: req.FinishURL},
	}

	resp, merr := s.snap.CreateTransaction(snapReq)
	if merr != nil {
		s.log.Error("MIDTRANS", fmt.Sprintf("Snap rejected %s (HTTP %d): %s", req.OrderRef, merr.StatusCode, merr.Message))
		return nil, fmt.Errorf("%w: snap returned %d: %s", models.ErrGateway, merr.StatusCode, merr.Message)
	}
	if resp == nil || resp.Token == "" {
		s.log.Error("MIDTRANS", fmt.Sprintf("Snap returned no token for %s", req.OrderRef))
		return nil, fmt.Errorf("%w: snap returned no token", models.ErrGateway)
	}

	s.log.Info("MIDTRANS", fmt.Sprintf("Snap transaction created for %s", req.OrderRef))
	return &payment.Transaction{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

// GetStatus queries the Core API transaction status. An unknown order comes
// back as the gateway's 404 body rather than an error.
func (s *MidtransService) GetStatus(ctx context.Context, orderRef string) (_ map[string]any, err error) {
	defer func(start time.Time) { metrics.ObserveGateway(s.Name(), "status", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
	}

	resp, merr := s.core.CheckTransaction(orderRef)
	if merr != nil {
		if merr.StatusCode == http.StatusNotFound {
			return map[string]any{
				"status_code":    strconv.Itoa(http.StatusNotFound),
				"status_message": merr.Message,
			}, nil
		}
		return nil, fmt.Errorf("%w: status query returned %d: %s", models.ErrGateway, merr.StatusCode, merr.Message)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: encode status: %v", models.ErrGateway, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode status: %v", models.ErrGateway, err)
	}
	return out, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// Signature computes sha512(order_id + status_code + gross_amount + server_key) in hex.
func (s *MidtransService) Signature(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + s.cfg.ServerKey))
	return hex.EncodeToString(sum[:])
}

// ParseNotification verifies the signature_key before trusting any field.
func (s *MidtransService) ParseNotification(payload []byte, _ http.Header) (*payment.Notification, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedNotification, err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" || n.SignatureKey == "" {
		return nil, fmt.Errorf("%w: missing order_id, transaction_status or signature_key", payment.ErrMalformedNotification)
	}

	expected := s.Signature(n.OrderID, n.StatusCode, n.GrossAmount)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(n.SignatureKey))) != 1 {
		s.log.LogSecurity("SIGNATURE", fmt.Sprintf("Midtrans signature mismatch for %s", n.OrderID))
		return nil, payment.ErrInvalidSignature
	}

	amount, err := decimal.NewFromString(n.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: gross_amount %q", payment.ErrMalformedNotification, n.GrossAmount)
	}

	return &payment.Notification{
		Provider:          s.Name(),
		OrderRef:          n.OrderID,
		TransactionStatus: strings.ToLower(n.TransactionStatus),
		GrossAmount:       amount,
	}, nil
}
