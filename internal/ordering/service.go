// internal/ordering/service.go
package ordering

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cantina/internal/pricing"
)

// PaymentTicket is what the payment layer hands back when an order needs an
// external payment: enough for the client to pay (QR code) and poll.
type PaymentTicket struct {
	IntentID  uuid.UUID  `json:"intent_id"`
	Status    string     `json:"status"`
	QRCode    string     `json:"qr_code,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PaymentStarter is the narrow contract ordering holds on the payment intent
// manager; the concrete implementation is wired in main.
type PaymentStarter interface {
	Start(ctx context.Context, o *Order) (*PaymentTicket, error)
	CancelForOrder(ctx context.Context, orderID uuid.UUID) error
}

// CreateResult pairs the stored order with its payment ticket, when the
// chosen method required one.
type CreateResult struct {
	Order   *Order         `json:"order"`
	Payment *PaymentTicket `json:"payment,omitempty"`
}

// Service drives orders through the settlement lifecycle.
type Service interface {
	// SetPaymentStarter wires the payment intent manager in after
	// construction; the manager needs this service first to complete orders
	// on approval.
	SetPaymentStarter(starter PaymentStarter)

	Create(ctx context.Context, raw pricing.RawOrder) (*CreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	StartPreparing(ctx context.Context, id uuid.UUID) error
	MarkReady(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error

	// CompleteFromPayment is invoked by the payment intent manager on the
	// first transition of an intent into approved.
	CompleteFromPayment(ctx context.Context, orderID uuid.UUID) error
}
