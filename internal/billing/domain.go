// internal/billing/domain.go
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice types.
const (
	TypeConsumption  = "consumption"
	TypeSubscription = "subscription"
)

// Invoice statuses.
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

// Invoice is a monthly charge against a member: either the rollup of a
// period's credit line consumption, or the fixed subscription fee.
// paid_amount never exceeds total; status is paid exactly when they match.
type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	MemberID    uuid.UUID       `json:"member_id"`
	Type        string          `json:"type"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	DueDate     time.Time       `json:"due_date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	LateFee     decimal.Decimal `json:"late_fee"`
	Interest    decimal.Decimal `json:"interest"`
	Total       decimal.Decimal `json:"total"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      string          `json:"status"`
	Items       []InvoiceItem   `json:"items,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// InvoiceItem snapshots one source order at rollup time. Items are never
// re-priced after the snapshot.
type InvoiceItem struct {
	OrderID     uuid.UUID       `json:"order_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// OrderCharge is the slice of an order the rollup needs.
type OrderCharge struct {
	OrderID     uuid.UUID
	Total       decimal.Decimal
	CompletedAt time.Time
}

// Config tunes the billing batches.
type Config struct {
	// DueDays is how many days after the period close an invoice is payable.
	DueDays int
	// LateFeePct is the one-time percentage added when an invoice goes
	// overdue.
	LateFeePct decimal.Decimal
	// MonthlyInterestPct is the percentage of the subtotal added as interest
	// at the overdue transition.
	MonthlyInterestPct decimal.Decimal
	// Concurrency bounds how many members a batch works on at once.
	Concurrency int
}

// DefaultConfig returns the settings used when the environment provides none.
func DefaultConfig() Config {
	return Config{
		DueDays:            10,
		LateFeePct:         decimal.NewFromInt(2),
		MonthlyInterestPct: decimal.NewFromInt(1),
		Concurrency:        4,
	}
}

// RunReport summarizes one batch run. A member's failure increments Failures
// and never aborts the run.
type RunReport struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failures  int `json:"failures"`
}

// closedPeriod returns the most recent fully closed billing period for a
// member whose cycle closes on closeDay, relative to ref.
func closedPeriod(ref time.Time, closeDay int) (start, end time.Time) {
	end = time.Date(ref.Year(), ref.Month(), closeDay, 0, 0, 0, 0, time.UTC)
	if end.After(ref) {
		end = end.AddDate(0, -1, 0)
	}
	start = end.AddDate(0, -1, 0)
	return start, end
}
