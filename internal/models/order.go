package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// ParseOrderStatus accepts only the three canonical statuses.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCanceled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCanceled
}

// CanTransitionTo reports whether s -> next is a real transition.
// Same-status moves are not transitions; callers treat them as no-ops.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && (next == OrderStatusPaid || next == OrderStatusCanceled)
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID           int64       `bun:"id,pk,autoincrement" json:"id"`
	UserID       int64       `bun:"user_id,notnull" json:"userId"`
	EventID      int64       `bun:"event_id,notnull" json:"eventId"`
	TotalPrice   int64       `bun:"total_price,notnull" json:"totalPrice"`
	FinalPrice   int64       `bun:"final_price,notnull" json:"finalPrice"`
	Status       OrderStatus `bun:"status,notnull" json:"status"`
	PaymentProof *string     `bun:"payment_proof" json:"paymentProof"`
	CreatedAt    time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`

	User    *User          `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Event   *Event         `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	Details []*OrderDetail `bun:"rel:has-many,join:id=order_id" json:"details,omitempty"`
}

// PointsToRestore is the amount credited back to the user when the order is canceled.
func (o *Order) PointsToRestore() int64 {
	if diff := o.TotalPrice - o.FinalPrice; diff > 0 {
		return diff
	}
	return 0
}

type OrderDetail struct {
	bun.BaseModel `bun:"table:order_details,alias:d"`

	ID           int64  `bun:"id,pk,autoincrement" json:"id"`
	OrderID      int64  `bun:"order_id,notnull" json:"orderId"`
	TicketID     int64  `bun:"ticket_id,notnull" json:"ticketId"`
	UserCouponID *int64 `bun:"user_coupon_id" json:"userCouponId"`
	Quantity     int64  `bun:"quantity,notnull" json:"quantity"`

	Ticket *Ticket `bun:"rel:belongs-to,join:ticket_id=id" json:"ticket,omitempty"`
}

type OrderRequest struct {
	EventID    int64 `json:"eventId"`
	TicketID   int64 `json:"ticketId"`
	Quantity   int64 `json:"quantity"`
	TotalPrice int64 `json:"totalPrice"`
	FinalPrice int64 `json:"finalPrice"`
	UsePoints  bool  `json:"usePoints"`
	UseCoupon  bool  `json:"useCoupon"`
}

// Validate checks the fields a caller must supply; the user id comes from auth.
func (r OrderRequest) Validate() error {
	switch {
	case r.EventID <= 0, r.TicketID <= 0, r.Quantity <= 0, r.TotalPrice <= 0:
		return fmt.Errorf("%w: missing required fields", ErrValidation)
	case r.FinalPrice < 0 || r.FinalPrice > r.TotalPrice:
		return fmt.Errorf("%w: finalPrice must be between 0 and totalPrice", ErrValidation)
	}
	return nil
}

type OrderFilter struct {
	Status *OrderStatus
	Page   int
	Limit  int
}

type Pagination struct {
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
}

// NewPagination computes pages = ceil(total/limit).
func NewPagination(total, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Pages: pages, CurrentPage: page, Limit: limit}
}

type OrderPage struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}
