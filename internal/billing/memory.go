// internal/billing/memory.go
package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cantina/internal/faults"
)

// MemoryRepository is an in-process Repository for tests and local runs. It
// applies the same guards and uniqueness rules as the PostgreSQL
// implementation.
type MemoryRepository struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	periods  map[string]bool // member|type|periodStart uniqueness
	charges  map[uuid.UUID][]OrderCharge
	invoiced map[uuid.UUID]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invoices: make(map[uuid.UUID]*Invoice),
		periods:  make(map[string]bool),
		charges:  make(map[uuid.UUID][]OrderCharge),
		invoiced: make(map[uuid.UUID]bool),
	}
}

// AddCharge seeds a completed credit line order for a member, standing in for
// the orders table.
func (r *MemoryRepository) AddCharge(memberID uuid.UUID, charge OrderCharge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charges[memberID] = append(r.charges[memberID], charge)
}

func (r *MemoryRepository) EligibleOrders(_ context.Context, memberID uuid.UUID, start, end time.Time) ([]OrderCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OrderCharge
	for _, c := range r.charges[memberID] {
		if r.invoiced[c.OrderID] {
			continue
		}
		if c.CompletedAt.Before(start) || !c.CompletedAt.Before(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func periodKey(memberID uuid.UUID, invoiceType string, periodStart time.Time) string {
	return fmt.Sprintf("%s|%s|%s", memberID, invoiceType, periodStart.Format("2006-01-02"))
}

func (r *MemoryRepository) CreateInvoice(_ context.Context, inv *Invoice, orderIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := periodKey(inv.MemberID, inv.Type, inv.PeriodStart)
	if r.periods[key] {
		return faults.New(faults.CodeDuplicateOperation,
			"member %s already has a %s invoice for period starting %s",
			inv.MemberID, inv.Type, inv.PeriodStart.Format("2006-01-02"))
	}

	cp := *inv
	cp.Items = append([]InvoiceItem(nil), inv.Items...)
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.invoices[inv.ID] = &cp
	r.periods[key] = true
	for _, id := range orderIDs {
		r.invoiced[id] = true
	}
	return nil
}

func (r *MemoryRepository) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "invoice %s not found", id)
	}
	cp := *inv
	cp.Items = append([]InvoiceItem(nil), inv.Items...)
	return &cp, nil
}

func (r *MemoryRepository) ListByMember(_ context.Context, memberID uuid.UUID) ([]*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Invoice
	for _, inv := range r.invoices {
		if inv.MemberID == memberID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	return out, nil
}

func (r *MemoryRepository) ListDue(_ context.Context, now time.Time) ([]*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Invoice
	for _, inv := range r.invoices {
		if (inv.Status == StatusPending || inv.Status == StatusPartial) && inv.DueDate.Before(now) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (r *MemoryRepository) MarkOverdue(_ context.Context, id uuid.UUID, lateFee, interest decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return false, faults.New(faults.CodeNotFound, "invoice %s not found", id)
	}
	if inv.Status != StatusPending && inv.Status != StatusPartial {
		return false, nil
	}
	inv.Status = StatusOverdue
	inv.LateFee = lateFee
	inv.Interest = interest
	inv.Total = inv.Total.Add(lateFee).Add(interest)
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) CountOverdueByMember(_ context.Context, memberID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, inv := range r.invoices {
		if inv.MemberID == memberID && inv.Status == StatusOverdue {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) RegisterPayment(_ context.Context, id uuid.UUID, amount decimal.Decimal) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "invoice %s not found", id)
	}

	switch inv.Status {
	case StatusPending, StatusPartial, StatusOverdue:
	default:
		return nil, faults.New(faults.CodeInvalidTransition, "invoice %s is %s and takes no payments", id, inv.Status)
	}

	newPaid := inv.PaidAmount.Add(amount)
	if newPaid.GreaterThan(inv.Total) {
		return nil, faults.New(faults.CodeValidation,
			"payment of %s exceeds open balance %s on invoice %s",
			amount.StringFixed(2), inv.Total.Sub(inv.PaidAmount).StringFixed(2), id)
	}

	inv.PaidAmount = newPaid
	if newPaid.Equal(inv.Total) {
		inv.Status = StatusPaid
	} else {
		inv.Status = StatusPartial
	}
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()

	cp := *inv
	return &cp, nil
}
