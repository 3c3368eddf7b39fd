// internal/billing/service.go
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service runs the billing batches and registers invoice payments.
type Service interface {
	// RollupMonth creates one consumption invoice per active member from the
	// member's completed, un-invoiced credit line orders in their most
	// recent closed period. Re-running for the same period is a counted
	// no-op.
	RollupMonth(ctx context.Context, ref time.Time) (*RunReport, error)

	// ScanOverdue moves unpaid invoices past their due date to overdue,
	// applying the late fee and interest exactly once, then blocks members
	// whose overdue count reached their limit.
	ScanOverdue(ctx context.Context, now time.Time) (*RunReport, error)

	// RenewSubscriptions creates the period's subscription invoice for every
	// active member with a positive monthly fee.
	RenewSubscriptions(ctx context.Context, ref time.Time) (*RunReport, error)

	// RegisterPayment applies a payment to an invoice, settling the member's
	// credit debit when a consumption invoice is paid off.
	RegisterPayment(ctx context.Context, invoiceID uuid.UUID, amount decimal.Decimal) (*Invoice, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Invoice, error)
}
