// internal/ledger/implementation.go
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cantina/internal/faults"
)

// reserveAttempts bounds the optimistic retry loop on the versioned balance.
const reserveAttempts = 8

// service implements the Service interface.
type service struct {
	repo   Repository
	tracer trace.Tracer
}

// NewService creates a new credit ledger service instance.
func NewService(repo Repository) Service {
	return &service{
		repo:   repo,
		tracer: otel.Tracer("cantina/ledger"),
	}
}

func (s *service) RegisterMember(ctx context.Context, req RegisterMemberRequest) (*Member, error) {
	if req.Name == "" {
		return nil, faults.New(faults.CodeValidation, "member name is required")
	}
	if req.CreditLimit.Sign() < 0 {
		return nil, faults.New(faults.CodeValidation, "credit limit cannot be negative")
	}
	if req.BillingCloseDay < 1 || req.BillingCloseDay > 28 {
		return nil, faults.New(faults.CodeValidation, "billing close day must be between 1 and 28")
	}
	if req.MaxOverdueInvoices < 1 {
		return nil, faults.New(faults.CodeValidation, "max overdue invoices must be at least 1")
	}

	m := &Member{
		ID:                 uuid.New(),
		Name:               req.Name,
		Phone:              req.Phone,
		Status:             MemberStatusActive,
		CreditLimit:        req.CreditLimit,
		CreditUsed:         decimal.Zero,
		MaxOverdueInvoices: req.MaxOverdueInvoices,
		BillingCloseDay:    req.BillingCloseDay,
		MonthlyFee:         req.MonthlyFee,
		Version:            1,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := s.repo.InsertMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.GetMember(ctx, id)
}

func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case MemberStatusPending, MemberStatusActive, MemberStatusSuspended, MemberStatusBlocked:
	default:
		return faults.New(faults.CodeValidation, "unknown member status %q", status)
	}
	return s.repo.SetMemberStatus(ctx, id, status)
}

func (s *service) ListActiveMembers(ctx context.Context) ([]*Member, error) {
	return s.repo.ListActiveMembers(ctx)
}

func (s *service) SettleDebit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return faults.New(faults.CodeValidation, "settled amount must be positive")
	}
	return s.repo.SettleDebit(ctx, memberID, amount)
}

func (s *service) IsBlocked(ctx context.Context, memberID uuid.UUID) (bool, error) {
	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return false, err
	}
	return s.isBlocked(ctx, m)
}

func (s *service) isBlocked(ctx context.Context, m *Member) (bool, error) {
	if m.Status == MemberStatusSuspended || m.Status == MemberStatusBlocked {
		return true, nil
	}
	overdue, err := s.repo.CountOverdueInvoices(ctx, m.ID)
	if err != nil {
		return false, err
	}
	return overdue >= m.MaxOverdueInvoices, nil
}

// Reserve holds amount against the member's credit line. Contention on the
// same member resolves through the versioned balance row: the guarded write
// fails on a stale version and the loop re-reads, so the limit can never be
// exceeded by interleaved reservations.
func (s *service) Reserve(ctx context.Context, memberID, orderID uuid.UUID, amount decimal.Decimal) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.reserve",
		trace.WithAttributes(
			attribute.String("member.id", memberID.String()),
			attribute.String("order.id", orderID.String()),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if amount.Sign() <= 0 {
		return nil, faults.New(faults.CodeValidation, "reservation amount must be positive")
	}

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		m, err := s.repo.GetMember(ctx, memberID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		blocked, err := s.isBlocked(ctx, m)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if blocked {
			return nil, faults.New(faults.CodeAccountBlocked, "member %s is blocked", memberID)
		}
		if m.Status != MemberStatusActive {
			return nil, faults.New(faults.CodeAccountInactive, "member %s is %s", memberID, m.Status)
		}
		if m.CreditAvailable().LessThan(amount) {
			return nil, faults.New(faults.CodeInsufficientCredit, "available credit %s is less than %s", m.CreditAvailable(), amount)
		}

		res := &Reservation{
			ID:        uuid.New(),
			MemberID:  memberID,
			OrderID:   orderID,
			Amount:    amount,
			Status:    ReservationHeld,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		ok, err := s.repo.ReserveCredit(ctx, memberID, m.Version, res)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if ok {
			span.SetAttributes(attribute.String("reservation.id", res.ID.String()))
			return res, nil
		}
		// Stale version: another reservation for this member landed first.
	}
	return nil, faults.New(faults.CodeProcessingFailed, "could not reserve credit for member %s after %d attempts", memberID, reserveAttempts)
}

// Release is idempotent: releasing an already released or committed
// reservation is a no-op.
func (s *service) Release(ctx context.Context, reservationID uuid.UUID) error {
	_, err := s.repo.ReleaseReservation(ctx, reservationID)
	return err
}

// Commit converts a held reservation into a permanent debit. Committing twice
// is a swallowed no-op; committing a released reservation is a bug signal.
func (s *service) Commit(ctx context.Context, reservationID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ledger.commit",
		trace.WithAttributes(attribute.String("reservation.id", reservationID.String())),
	)
	defer span.End()

	ok, err := s.repo.CommitReservation(ctx, reservationID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if ok {
		return nil
	}

	res, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	switch res.Status {
	case ReservationCommitted:
		return nil
	default:
		return faults.New(faults.CodeInvalidTransition, "cannot commit reservation %s in status %s", reservationID, res.Status)
	}
}

func (s *service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}
