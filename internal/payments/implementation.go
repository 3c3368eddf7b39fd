// internal/payments/implementation.go
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cantina/internal/faults"
	"cantina/internal/notify"
	"cantina/internal/ordering"
)

// integrationFor maps a payment method onto its integration type. Credit line
// orders never reach the intent manager.
var integrationFor = map[string]string{
	ordering.MethodPix:        IntegrationCheckoutPix,
	ordering.MethodCreditCard: IntegrationManualPOS,
	ordering.MethodDebitCard:  IntegrationManualPOS,
}

// service implements the Service interface.
type service struct {
	repo      Repository
	gateway   Gateway
	completer Completer
	notifier  notify.Sender
	cfg       Config
	tracer    trace.Tracer
}

// NewService creates a new payment intent manager.
func NewService(repo Repository, gateway Gateway, completer Completer, notifier notify.Sender, cfg Config) Service {
	if cfg.MaxGatewayTries == 0 {
		cfg.MaxGatewayTries = DefaultConfig().MaxGatewayTries
	}
	if cfg.PixTTL == 0 {
		cfg.PixTTL = DefaultConfig().PixTTL
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	return &service{
		repo:      repo,
		gateway:   gateway,
		completer: completer,
		notifier:  notifier,
		cfg:       cfg,
		tracer:    otel.Tracer("cantina/payments"),
	}
}

func (s *service) CreateIntent(ctx context.Context, o *ordering.Order) (*Intent, error) {
	ctx, span := s.tracer.Start(ctx, "payments.create_intent",
		trace.WithAttributes(
			attribute.String("order.id", o.ID.String()),
			attribute.String("payment.method", o.PaymentMethod),
		),
	)
	defer span.End()

	integration, ok := integrationFor[o.PaymentMethod]
	if !ok {
		return nil, faults.New(faults.CodeValidation, "payment method %s does not take a payment intent", o.PaymentMethod)
	}

	// One active intent per order: a new attempt supersedes the old one.
	if err := s.CancelForOrder(ctx, o.ID); err != nil {
		return nil, err
	}

	intent := &Intent{
		ID:              uuid.New(),
		OrderID:         o.ID,
		IntegrationType: integration,
		Method:          o.PaymentMethod,
		Amount:          o.Total,
		Status:          StatusCreated,
	}
	if err := s.repo.Insert(ctx, intent); err != nil {
		return nil, err
	}

	switch integration {
	case IntegrationCheckoutPix:
		if err := s.openPixCharge(ctx, intent, o); err != nil {
			return nil, err
		}
	case IntegrationManualPOS:
		if err := s.settleManual(ctx, intent); err != nil {
			return nil, err
		}
	}
	return s.repo.Get(ctx, intent.ID)
}

// openPixCharge asks the gateway for a PIX charge and parks the intent in
// pending until the webhook or the poller settles it.
func (s *service) openPixCharge(ctx context.Context, intent *Intent, o *ordering.Order) error {
	expiresAt := time.Now().UTC().Add(s.cfg.PixTTL)
	req := PixRequest{
		Amount:            o.Total,
		Description:       fmt.Sprintf("order %s", o.ID),
		ExternalReference: o.ID.String(),
		NotificationURL:   s.cfg.NotificationURL,
		ExpiresAt:         expiresAt,
	}

	payment, err := s.callGateway(ctx, intent, func(ctx context.Context) (*GatewayPayment, error) {
		return s.gateway.CreatePixPayment(ctx, req)
	})
	if err != nil {
		if _, markErr := s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, StatusError, nil); markErr != nil {
			log.Printf("payments: marking intent %s as error: %v", intent.ID, markErr)
		}
		return faults.Wrap(err, faults.CodeGatewayUnavailable, "opening pix charge for order %s", o.ID)
	}

	return s.repo.AttachGateway(ctx, intent.ID, payment.ID, payment.QRCode, payment.Raw, expiresAt)
}

// settleManual records a card settled at the terminal. The money already
// moved, so the intent is born approved and the order completes right away.
func (s *service) settleManual(ctx context.Context, intent *Intent) error {
	first, err := s.approve(ctx, intent, nil)
	if err != nil {
		return err
	}
	if !first {
		return faults.New(faults.CodeDuplicateOperation, "payment intent %s already settled", intent.ID)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Intent, error) {
	return s.repo.Get(ctx, id)
}

// GetByOrder returns the order's active intent. A charge found past its
// window expires on the spot and reports so, instead of handing the client
// a QR code that can no longer be paid.
func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Intent, error) {
	intent, err := s.repo.GetActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if intent.Expired(time.Now().UTC()) {
		if _, err := s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, StatusExpired, nil); err != nil {
			return nil, err
		}
		return nil, faults.New(faults.CodePixExpired, "payment window for order %s has expired", orderID)
	}
	return intent, nil
}

func (s *service) Reconcile(ctx context.Context, gatewayID string) (*Intent, error) {
	ctx, span := s.tracer.Start(ctx, "payments.reconcile",
		trace.WithAttributes(attribute.String("gateway.payment_id", gatewayID)),
	)
	defer span.End()

	intent, err := s.repo.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}

	// Approved intents are only revisited to catch refunds; every other
	// settled status is final.
	if !Active(intent.Status) && intent.Status != StatusApproved {
		span.SetAttributes(attribute.String("reconcile.outcome", "already_settled"))
		return intent, nil
	}

	// A charge past its window expires locally; the gateway is not asked.
	if intent.Expired(time.Now().UTC()) {
		if _, err := s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, StatusExpired, nil); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("reconcile.outcome", StatusExpired))
		return s.repo.Get(ctx, intent.ID)
	}

	payment, err := s.callGateway(ctx, intent, func(ctx context.Context) (*GatewayPayment, error) {
		return s.gateway.GetPayment(ctx, intent.GatewayID)
	})
	if err != nil {
		if _, markErr := s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, StatusError, nil); markErr != nil {
			log.Printf("payments: marking intent %s as error: %v", intent.ID, markErr)
		}
		return nil, faults.Wrap(err, faults.CodeGatewayUnavailable, "fetching gateway payment %s", gatewayID)
	}

	local := MapGatewayStatus(payment.Status)
	span.SetAttributes(attribute.String("reconcile.outcome", local))

	switch local {
	case StatusApproved:
		if _, err := s.approve(ctx, intent, payment.Raw); err != nil {
			return nil, err
		}
	case StatusRefunded:
		from := append([]string{StatusApproved}, activeStatuses...)
		if _, err := s.repo.UpdateStatus(ctx, intent.ID, from, StatusRefunded, payment.Raw); err != nil {
			return nil, err
		}
	default:
		// pending, processing, rejected, cancelled, error: a plain guarded
		// move out of the active statuses.
		if _, err := s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, local, payment.Raw); err != nil {
			return nil, err
		}
	}

	return s.repo.Get(ctx, intent.ID)
}

// approve settles the intent. The repository flips the status and appends the
// approval event in one transaction; the order completion and the customer
// notification run only on the first transition, each guarded on its own.
func (s *service) approve(ctx context.Context, intent *Intent, raw json.RawMessage) (bool, error) {
	eventData, err := json.Marshal(PaymentApprovedEvent{
		IntentID: intent.ID,
		OrderID:  intent.OrderID,
		Amount:   intent.Amount,
	})
	if err != nil {
		return false, fmt.Errorf("encode approval event: %w", err)
	}

	first, err := s.repo.Approve(ctx, intent, raw, eventData)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	if err := s.completer.CompleteFromPayment(ctx, intent.OrderID); err != nil {
		// The approval stands regardless; the order is settled by hand if
		// its own guard rejected the completion.
		log.Printf("payments: completing order %s after approval of intent %s: %v", intent.OrderID, intent.ID, err)
	}
	s.notifyApproved(intent)
	return true, nil
}

func (s *service) notifyApproved(intent *Intent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msg := fmt.Sprintf("payment of %s approved for order %s", intent.Amount.StringFixed(2), intent.OrderID)
		if err := s.notifier.Send(ctx, intent.OrderID.String(), msg); err != nil {
			log.Printf("payments: notifying approval of intent %s: %v", intent.ID, err)
		}
	}()
}

func (s *service) CancelForOrder(ctx context.Context, orderID uuid.UUID) error {
	intent, err := s.repo.GetActiveByOrder(ctx, orderID)
	if err != nil {
		if faults.Has(err, faults.CodeNotFound) {
			return nil
		}
		return err
	}
	// Local cancel only: an unpaid gateway charge dies with its expiry.
	_, err = s.repo.UpdateStatus(ctx, intent.ID, activeStatuses, StatusCancelled, nil)
	return err
}

func (s *service) PollPending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.repo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, intent := range stale {
		if _, err := s.Reconcile(ctx, intent.GatewayID); err != nil {
			log.Printf("payments: polling intent %s: %v", intent.ID, err)
			continue
		}
		checked++
	}
	return checked, nil
}

// callGateway runs one gateway call with bounded retries, persisting the
// attempt counter and last error on the intent as it goes.
func (s *service) callGateway(ctx context.Context, intent *Intent, call func(ctx context.Context) (*GatewayPayment, error)) (*GatewayPayment, error) {
	attempts := intent.Attempts
	lastError := intent.LastError

	op := func() (*GatewayPayment, error) {
		attempts++
		payment, err := call(ctx)
		if err != nil {
			lastError = err.Error()
			if faults.Has(err, faults.CodeProcessingFailed) {
				// The gateway understood the request and said no; retrying
				// will not change its mind.
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return payment, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	payment, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.cfg.MaxGatewayTries),
	)

	if recErr := s.repo.RecordAttempt(ctx, intent.ID, attempts, lastError); recErr != nil {
		log.Printf("payments: recording attempt on intent %s: %v", intent.ID, recErr)
	}
	return payment, err
}
