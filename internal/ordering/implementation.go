// internal/ordering/implementation.go
package ordering

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"cantina/internal/catalog"
	"cantina/internal/faults"
	"cantina/internal/fiscal"
	"cantina/internal/ledger"
	"cantina/internal/pricing"
	"cantina/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	repo         Repository
	engine       *pricing.Engine
	ledger       ledger.Service
	events       eventstore.Store
	fiscal       fiscal.Service
	starter      PaymentStarter
	kioskLimiter *rate.Limiter
	tracer       trace.Tracer
}

// NewService creates a new ordering service instance.
func NewService(repo Repository, engine *pricing.Engine, ledgerSvc ledger.Service, events eventstore.Store, fiscalSvc fiscal.Service) Service {
	return &service{
		repo:         repo,
		engine:       engine,
		ledger:       ledgerSvc,
		events:       events,
		fiscal:       fiscalSvc,
		kioskLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		tracer:       otel.Tracer("cantina/ordering"),
	}
}

// SetPaymentStarter wires the payment intent manager in after construction.
func (s *service) SetPaymentStarter(starter PaymentStarter) {
	s.starter = starter
}

func (s *service) Create(ctx context.Context, raw pricing.RawOrder) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "ordering.create",
		trace.WithAttributes(
			attribute.String("channel", raw.Channel),
			attribute.String("customer.type", raw.CustomerType),
		),
	)
	defer span.End()

	if raw.Channel == catalog.ChannelKiosk && !s.kioskLimiter.Allow() {
		return nil, faults.New(faults.CodeRateLimited, "kiosk intake is saturated, retry shortly")
	}

	priced, err := s.engine.PriceOrder(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	method := priced.PaymentMethod
	if method == "" && priced.CustomerType == pricing.CustomerMember {
		method = MethodCreditLine
	}
	switch method {
	case MethodCreditLine:
		if priced.CustomerType != pricing.CustomerMember {
			return nil, faults.New(faults.CodeInvalidCustomerData, "guest orders cannot bill a credit line")
		}
	case MethodPix, MethodCreditCard, MethodDebitCard:
	default:
		return nil, faults.New(faults.CodeValidation, "unknown payment method %q", method)
	}

	order := &Order{
		ID:             uuid.New(),
		CustomerType:   priced.CustomerType,
		MemberID:       priced.MemberID,
		GuestName:      priced.GuestName,
		Channel:        priced.Channel,
		Subtotal:       priced.Subtotal,
		Discount:       priced.Discount,
		DiscountReason: priced.DiscountReason,
		Total:          priced.Total,
		PaymentMethod:  method,
		Status:         StatusPending,
		Version:        1,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	for _, it := range priced.Items {
		order.Items = append(order.Items, Item(it))
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("order.total", order.Total.String()),
	)

	if method == MethodCreditLine {
		return s.createOnCredit(ctx, order)
	}
	return s.createWithPayment(ctx, order)
}

// createOnCredit reserves against the member's credit line before the order is
// persisted; a persistence failure releases the hold again, so no partial
// state survives.
func (s *service) createOnCredit(ctx context.Context, order *Order) (*CreateResult, error) {
	res, err := s.ledger.Reserve(ctx, *order.MemberID, order.ID, order.Total)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order.Status = StatusConfirmed
	order.ReservationID = &res.ID
	order.ConfirmedAt = &now

	if err := s.repo.Insert(ctx, order); err != nil {
		if relErr := s.ledger.Release(ctx, res.ID); relErr != nil {
			log.Printf("failed to release reservation %s after insert failure: %v", res.ID, relErr)
		}
		return nil, err
	}

	s.appendStatusEvent(ctx, order.ID, StatusPending, StatusConfirmed, order.Version)
	return &CreateResult{Order: order}, nil
}

// createWithPayment persists the order pending and starts a payment intent;
// a failed intent creation cancels the order again (compensation) so the
// caller never sees a half-created order.
func (s *service) createWithPayment(ctx context.Context, order *Order) (*CreateResult, error) {
	if err := s.repo.Insert(ctx, order); err != nil {
		return nil, err
	}

	ticket, err := s.starter.Start(ctx, order)
	if err != nil {
		if _, ok, cErr := s.repo.UpdateStatus(ctx, order.ID, []string{StatusPending}, StatusCancelled); cErr != nil || !ok {
			log.Printf("failed to cancel order %s after intent failure: %v", order.ID, cErr)
		}
		return nil, err
	}

	// Terminal-card intents complete the order synchronously, so re-read.
	fresh, err := s.repo.Get(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Order: fresh, Payment: ticket}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) StartPreparing(ctx context.Context, id uuid.UUID) error {
	_, err := s.transition(ctx, id, []string{StatusConfirmed}, StatusPreparing)
	return err
}

func (s *service) MarkReady(ctx context.Context, id uuid.UUID) error {
	_, err := s.transition(ctx, id, []string{StatusPreparing}, StatusReady)
	return err
}

// Complete finishes a member-path order: the credit reservation becomes a
// permanent debit, exactly once. A retry after a transient commit failure
// finds the order already completed and re-runs only the idempotent commit.
func (s *service) Complete(ctx context.Context, id uuid.UUID) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusCompleted {
		o, err = s.transition(ctx, id, []string{StatusReady}, StatusCompleted)
		if err != nil {
			return err
		}
		s.requestFiscalDocument(o.ID)
	}
	if o.ReservationID != nil {
		if err := s.ledger.Commit(ctx, *o.ReservationID); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) CompleteFromPayment(ctx context.Context, orderID uuid.UUID) error {
	o, err := s.transition(ctx, orderID, []string{StatusPending, StatusConfirmed}, StatusCompleted)
	if err != nil {
		return err
	}
	s.requestFiscalDocument(o.ID)
	return nil
}

// Cancel is allowed only before preparation starts. It releases any credit
// reservation and cancels any active payment intent, both idempotently.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusCancelled {
		if _, err := s.transition(ctx, id, []string{StatusPending, StatusConfirmed}, StatusCancelled); err != nil {
			return err
		}
	}

	// A retried cancel lands here with the order already cancelled and runs
	// the compensations again: both are idempotent, and a transient failure
	// after the status flip must stay recoverable.
	if o.ReservationID != nil {
		if err := s.ledger.Release(ctx, *o.ReservationID); err != nil {
			return err
		}
	}
	if o.PaymentMethod != MethodCreditLine && s.starter != nil {
		if err := s.starter.CancelForOrder(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// transition performs a status-guarded update and reports the violated
// precondition, leaving state untouched, when the guard does not match.
func (s *service) transition(ctx context.Context, id uuid.UUID, from []string, to string) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	version, ok, err := s.repo.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, gErr := s.repo.Get(ctx, id)
		status := o.Status
		if gErr == nil {
			status = fresh.Status
		}
		return nil, faults.New(faults.CodeInvalidTransition, "cannot transition order %s from %s to %s", id, status, to)
	}

	s.appendStatusEvent(ctx, id, o.Status, to, version)
	o.Status = to
	o.Version = version
	return o, nil
}

// appendStatusEvent records the transition in the audit log. Failures are
// logged only; the transition itself has already committed.
func (s *service) appendStatusEvent(ctx context.Context, orderID uuid.UUID, from, to string, version int) {
	data, err := json.Marshal(OrderStatusChangedEvent{OrderID: orderID, From: from, To: to})
	if err != nil {
		log.Printf("failed to marshal order event: %v", err)
		return
	}
	err = s.events.Append(ctx, eventstore.Event{
		AggregateID:   orderID,
		AggregateType: "order",
		EventType:     "OrderStatusChanged",
		EventData:     data,
		Version:       version,
	})
	if err != nil {
		log.Printf("failed to append order event for %s: %v", orderID, err)
	}
}

// requestFiscalDocument fires the fiscal boundary asynchronously; it is never
// a precondition for completion.
func (s *service) requestFiscalDocument(orderID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.fiscal.Generate(ctx, orderID); err != nil {
			log.Printf("fiscal document generation failed for order %s: %v", orderID, err)
		}
	}()
}
