// internal/pricing/domain.go
package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer types an order can be placed for.
const (
	CustomerMember = "member"
	CustomerGuest  = "guest"
)

// Per-channel caps on the number of line items.
const (
	MaxItemsDefault = 50
	MaxItemsKiosk   = 20
)

// MaxQuantity bounds a single line's quantity.
const (
	MinQuantity = 1
	MaxQuantity = 99
)

// RawItem is one unpriced line of an incoming order request.
type RawItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

// RawOrder is an order request as submitted by a client, before any
// validation or pricing has happened.
type RawOrder struct {
	Channel        string          `json:"channel"`
	CustomerType   string          `json:"customer_type"`
	MemberID       *uuid.UUID      `json:"member_id,omitempty"`
	GuestName      string          `json:"guest_name,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	Items          []RawItem       `json:"items"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountReason string          `json:"discount_reason,omitempty"`
}

// PricedItem is an immutable priced line. UnitPrice is a snapshot of the
// catalog price at pricing time; later catalog changes never affect it.
type PricedItem struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// PricedOrder is the validated, fully priced result of a raw order.
type PricedOrder struct {
	Channel        string          `json:"channel"`
	CustomerType   string          `json:"customer_type"`
	MemberID       *uuid.UUID      `json:"member_id,omitempty"`
	GuestName      string          `json:"guest_name,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	Items          []PricedItem    `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountReason string          `json:"discount_reason,omitempty"`
	Total          decimal.Decimal `json:"total"`
}
