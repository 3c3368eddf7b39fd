// internal/ledger/domain.go
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Member statuses. Members are never hard-deleted, only moved between statuses.
const (
	MemberStatusPending   = "pending"
	MemberStatusActive    = "active"
	MemberStatusSuspended = "suspended"
	MemberStatusBlocked   = "blocked"
)

// Member is a person with a standing credit account ("filho").
type Member struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone,omitempty"`
	Status             string          `json:"status"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	CreditUsed         decimal.Decimal `json:"credit_used"`
	MaxOverdueInvoices int             `json:"max_overdue_invoices"`
	BillingCloseDay    int             `json:"billing_close_day"`
	MonthlyFee         decimal.Decimal `json:"monthly_fee"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreditAvailable is the headroom left on the member's credit line.
func (m *Member) CreditAvailable() decimal.Decimal {
	return m.CreditLimit.Sub(m.CreditUsed)
}

// Reservation statuses. held is the only non-terminal state.
const (
	ReservationHeld      = "held"
	ReservationReleased  = "released"
	ReservationCommitted = "committed"
)

// Reservation is a temporary hold against a member's available credit for an
// unsettled order. Committing converts it into a permanent debit.
type Reservation struct {
	ID        uuid.UUID       `json:"id"`
	MemberID  uuid.UUID       `json:"member_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
