package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PaymentNotification is the audit row written for every verified gateway callback.
type PaymentNotification struct {
	bun.BaseModel `bun:"table:payment_notifications,alias:pn"`

	ID                int64       `bun:"id,pk,autoincrement" json:"id"`
	OrderID           int64       `bun:"order_id,notnull" json:"orderId"`
	OrderReference    string      `bun:"order_reference,notnull" json:"orderReference"`
	Provider          string      `bun:"provider,notnull" json:"provider"`
	TransactionStatus string      `bun:"transaction_status,notnull" json:"transactionStatus"`
	MappedStatus      OrderStatus `bun:"mapped_status,notnull" json:"mappedStatus"`
	Applied           bool        `bun:"applied,notnull" json:"applied"`
	GrossAmount       string      `bun:"gross_amount" json:"grossAmount"`
	ReceivedAt        time.Time   `bun:"received_at,notnull" json:"receivedAt"`
}

type PaymentResponse struct {
	PaymentURL string `json:"paymentUrl"`
	Token      string `json:"token"`
}

type PaymentStatusResponse struct {
	Order         *Order `json:"order"`
	PaymentStatus any    `json:"paymentStatus"`
}

type NotificationResult struct {
	OrderID           int64       `json:"orderId"`
	Status            OrderStatus `json:"status"`
	TransactionStatus string      `json:"transactionStatus"`
	Applied           bool        `json:"applied"`
}
