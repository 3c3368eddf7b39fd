// internal/payments/service.go
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cantina/internal/ordering"
)

// Config tunes the intent manager.
type Config struct {
	// PixTTL is how long a PIX charge stays payable before it expires
	// locally.
	PixTTL time.Duration
	// NotificationURL is where the gateway posts payment webhooks.
	NotificationURL string
	// WebhookSecret signs webhook payloads; requests with a bad signature
	// are rejected.
	WebhookSecret string
	// MaxGatewayTries bounds retries per gateway call.
	MaxGatewayTries uint
	// StaleAfter is how long a pending intent may go without news before
	// the poller asks the gateway directly.
	StaleAfter time.Duration
}

// DefaultConfig returns the settings used when the environment provides none.
func DefaultConfig() Config {
	return Config{
		PixTTL:          30 * time.Minute,
		MaxGatewayTries: 3,
		StaleAfter:      2 * time.Minute,
	}
}

// Completer is the slice of the ordering service the intent manager needs:
// settling an order once its payment lands.
type Completer interface {
	CompleteFromPayment(ctx context.Context, orderID uuid.UUID) error
}

// Service manages the lifecycle of payment intents.
type Service interface {
	// CreateIntent opens a new intent for the order, cancelling any prior
	// intent that is still active.
	CreateIntent(ctx context.Context, o *ordering.Order) (*Intent, error)
	Get(ctx context.Context, id uuid.UUID) (*Intent, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Intent, error)
	// Reconcile folds the gateway's current view of a payment into the
	// local intent. Safe to call any number of times for the same payment.
	Reconcile(ctx context.Context, gatewayID string) (*Intent, error)
	// CancelForOrder cancels the order's active intent, if it has one.
	CancelForOrder(ctx context.Context, orderID uuid.UUID) error
	// PollPending reconciles intents that have been waiting on the gateway
	// for too long, catching payments whose webhook never arrived. Returns
	// how many intents were checked.
	PollPending(ctx context.Context) (int, error)
}

// Starter adapts the intent manager to the contract ordering expects when an
// order needs an external payment.
type Starter struct {
	Payments Service
}

func (st *Starter) Start(ctx context.Context, o *ordering.Order) (*ordering.PaymentTicket, error) {
	intent, err := st.Payments.CreateIntent(ctx, o)
	if err != nil {
		return nil, err
	}
	return &ordering.PaymentTicket{
		IntentID:  intent.ID,
		Status:    intent.Status,
		QRCode:    intent.QRCode,
		ExpiresAt: intent.ExpiresAt,
	}, nil
}

func (st *Starter) CancelForOrder(ctx context.Context, orderID uuid.UUID) error {
	return st.Payments.CancelForOrder(ctx, orderID)
}
