// internal/billing/implementation.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cantina/internal/faults"
	"cantina/internal/ledger"
	"cantina/internal/money"
	"cantina/internal/notify"
)

// errNothingToInvoice flags a member with no eligible orders in the period.
var errNothingToInvoice = errors.New("nothing to invoice")

// service implements the Service interface.
type service struct {
	repo     Repository
	members  ledger.Service
	notifier notify.Sender
	cfg      Config
}

// NewService creates a new billing service.
func NewService(repo Repository, members ledger.Service, notifier notify.Sender, cfg Config) Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.DueDays <= 0 {
		cfg.DueDays = DefaultConfig().DueDays
	}
	return &service{
		repo:     repo,
		members:  members,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (s *service) RollupMonth(ctx context.Context, ref time.Time) (*RunReport, error) {
	return s.perMember(ctx, "rollup", func(ctx context.Context, m *ledger.Member) error {
		return s.rollupMember(ctx, m, ref)
	})
}

func (s *service) RenewSubscriptions(ctx context.Context, ref time.Time) (*RunReport, error) {
	return s.perMember(ctx, "renewal", func(ctx context.Context, m *ledger.Member) error {
		return s.renewMember(ctx, m, ref)
	})
}

// perMember fans a batch out over the active members with bounded
// concurrency. A member's failure is logged and counted; the run always
// visits every member.
func (s *service) perMember(ctx context.Context, batch string, work func(ctx context.Context, m *ledger.Member) error) (*RunReport, error) {
	members, err := s.members.ListActiveMembers(ctx)
	if err != nil {
		return nil, err
	}

	report := &RunReport{}
	var mu sync.Mutex

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Concurrency)
	for _, m := range members {
		m := m
		g.Go(func() error {
			err := work(ctx, m)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch {
			case err == nil:
				report.Created++
			case errors.Is(err, errNothingToInvoice), faults.Has(err, faults.CodeDuplicateOperation):
				report.Skipped++
			default:
				report.Failures++
				log.Printf("billing: %s for member %s: %v", batch, m.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return report, nil
}

func (s *service) rollupMember(ctx context.Context, m *ledger.Member, ref time.Time) error {
	start, end := closedPeriod(ref, m.BillingCloseDay)
	charges, err := s.repo.EligibleOrders(ctx, m.ID, start, end)
	if err != nil {
		return err
	}
	if len(charges) == 0 {
		return errNothingToInvoice
	}

	subtotal := decimal.Zero
	items := make([]InvoiceItem, 0, len(charges))
	for _, c := range charges {
		subtotal = subtotal.Add(c.Total)
		items = append(items, InvoiceItem{
			OrderID:     c.OrderID,
			Description: fmt.Sprintf("order of %s", c.CompletedAt.Format("2006-01-02")),
			Amount:      c.Total,
		})
	}

	inv := &Invoice{
		ID:          uuid.New(),
		MemberID:    m.ID,
		Type:        TypeConsumption,
		PeriodStart: start,
		PeriodEnd:   end,
		DueDate:     end.AddDate(0, 0, s.cfg.DueDays),
		Subtotal:    subtotal,
		LateFee:     decimal.Zero,
		Interest:    decimal.Zero,
		Total:       subtotal,
		PaidAmount:  decimal.Zero,
		Status:      StatusPending,
		Items:       items,
		Version:     1,
	}

	orderIDs := make([]uuid.UUID, len(charges))
	for i, c := range charges {
		orderIDs[i] = c.OrderID
	}
	return s.repo.CreateInvoice(ctx, inv, orderIDs)
}

func (s *service) renewMember(ctx context.Context, m *ledger.Member, ref time.Time) error {
	if m.MonthlyFee.Sign() <= 0 {
		return errNothingToInvoice
	}

	start, end := closedPeriod(ref, m.BillingCloseDay)
	inv := &Invoice{
		ID:          uuid.New(),
		MemberID:    m.ID,
		Type:        TypeSubscription,
		PeriodStart: start,
		PeriodEnd:   end,
		DueDate:     end.AddDate(0, 0, s.cfg.DueDays),
		Subtotal:    m.MonthlyFee,
		LateFee:     decimal.Zero,
		Interest:    decimal.Zero,
		Total:       m.MonthlyFee,
		PaidAmount:  decimal.Zero,
		Status:      StatusPending,
		Version:     1,
	}
	return s.repo.CreateInvoice(ctx, inv, nil)
}

func (s *service) ScanOverdue(ctx context.Context, now time.Time) (*RunReport, error) {
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	report := &RunReport{}
	affected := make(map[uuid.UUID]bool)

	for _, inv := range due {
		report.Processed++

		open := inv.Total.Sub(inv.PaidAmount)
		lateFee := money.Percent(open, s.cfg.LateFeePct)
		interest := money.Percent(open, s.cfg.MonthlyInterestPct)

		ok, err := s.repo.MarkOverdue(ctx, inv.ID, lateFee, interest)
		if err != nil {
			report.Failures++
			log.Printf("billing: marking invoice %s overdue: %v", inv.ID, err)
			continue
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Updated++
		affected[inv.MemberID] = true
	}

	for memberID := range affected {
		if err := s.enforceOverdueLimit(ctx, memberID); err != nil {
			report.Failures++
			log.Printf("billing: enforcing overdue limit for member %s: %v", memberID, err)
		}
	}
	return report, nil
}

func (s *service) enforceOverdueLimit(ctx context.Context, memberID uuid.UUID) error {
	count, err := s.repo.CountOverdueByMember(ctx, memberID)
	if err != nil {
		return err
	}
	m, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if count < m.MaxOverdueInvoices || m.Status != ledger.MemberStatusActive {
		return nil
	}

	if err := s.members.SetStatus(ctx, memberID, ledger.MemberStatusBlocked); err != nil {
		return err
	}
	msg := fmt.Sprintf("account blocked: %d overdue invoices", count)
	if err := s.notifier.Send(ctx, memberID.String(), msg); err != nil {
		log.Printf("billing: notifying blocked member %s: %v", memberID, err)
	}
	return nil
}

func (s *service) RegisterPayment(ctx context.Context, invoiceID uuid.UUID, amount decimal.Decimal) (*Invoice, error) {
	if amount.Sign() <= 0 {
		return nil, faults.New(faults.CodeValidation, "payment amount must be positive")
	}

	inv, err := s.repo.RegisterPayment(ctx, invoiceID, amount)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPaid {
		return inv, nil
	}

	// A paid consumption invoice frees the credit its orders consumed.
	if inv.Type == TypeConsumption {
		if err := s.members.SettleDebit(ctx, inv.MemberID, inv.Subtotal); err != nil {
			log.Printf("billing: settling debit for invoice %s: %v", inv.ID, err)
		}
	}
	if err := s.maybeUnblock(ctx, inv.MemberID); err != nil {
		log.Printf("billing: unblocking member %s: %v", inv.MemberID, err)
	}
	return inv, nil
}

// maybeUnblock lifts a block once the member is back under their overdue
// limit.
func (s *service) maybeUnblock(ctx context.Context, memberID uuid.UUID) error {
	m, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if m.Status != ledger.MemberStatusBlocked {
		return nil
	}
	count, err := s.repo.CountOverdueByMember(ctx, memberID)
	if err != nil {
		return err
	}
	if count >= m.MaxOverdueInvoices {
		return nil
	}
	return s.members.SetStatus(ctx, memberID, ledger.MemberStatusActive)
}

func (s *service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *service) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Invoice, error) {
	return s.repo.ListByMember(ctx, memberID)
}
