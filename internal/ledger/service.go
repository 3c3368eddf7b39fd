// internal/ledger/service.go
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the credit ledger. Reserve, Release and
// Commit are atomic with respect to concurrent calls for the same member: two
// concurrent reservations can never together exceed the credit limit.
type Service interface {
	RegisterMember(ctx context.Context, req RegisterMemberRequest) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	ListActiveMembers(ctx context.Context) ([]*Member, error)

	// SettleDebit frees credit consumed by a debit that has since been paid
	// off through an invoice.
	SettleDebit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) error

	Reserve(ctx context.Context, memberID, orderID uuid.UUID, amount decimal.Decimal) (*Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID) error
	Commit(ctx context.Context, reservationID uuid.UUID) error
	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// IsBlocked is the single owner of the blocking predicate: status
	// suspended/blocked, or overdue invoice count at or past the member's max.
	IsBlocked(ctx context.Context, memberID uuid.UUID) (bool, error)
}

// RegisterMemberRequest carries the fields set when a registration is approved.
type RegisterMemberRequest struct {
	Name               string          `json:"name"`
	Phone              string          `json:"phone"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	MaxOverdueInvoices int             `json:"max_overdue_invoices"`
	BillingCloseDay    int             `json:"billing_close_day"`
	MonthlyFee         decimal.Decimal `json:"monthly_fee"`
}
