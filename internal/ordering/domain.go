// internal/ordering/domain.go
package ordering

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. completed and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusPreparing = "preparing"
	StatusReady     = "ready"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Payment methods an order can be settled with. credit_line bills the
// member's account; the others go through a payment intent.
const (
	MethodCreditLine = "credit_line"
	MethodPix        = "pix"
	MethodCreditCard = "credit_card"
	MethodDebitCard  = "debit_card"
)

// Item is one priced, immutable order line. UnitPrice is the catalog price
// snapshot taken at pricing time.
type Item struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Order is a priced order moving through the settlement lifecycle.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	CustomerType   string          `json:"customer_type"`
	MemberID       *uuid.UUID      `json:"member_id,omitempty"`
	GuestName      string          `json:"guest_name,omitempty"`
	Channel        string          `json:"channel"`
	Items          []Item          `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountReason string          `json:"discount_reason,omitempty"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	Status         string          `json:"status"`
	ReservationID  *uuid.UUID      `json:"reservation_id,omitempty"`
	InvoiceID      *uuid.UUID      `json:"invoice_id,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	ReadyAt        *time.Time      `json:"ready_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the order can no longer transition.
func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

// OrderStatusChangedEvent is appended to the event log on every transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
}
