// internal/payments/domain.go
package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Integration types: hosted PIX checkout via the gateway, or a card settled
// out-of-band at a physical terminal.
const (
	IntegrationCheckoutPix = "checkout_pix"
	IntegrationManualPOS   = "manual_pos"
)

// Intent statuses.
const (
	StatusCreated    = "created"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusExpired    = "expired"
	StatusError      = "error"
)

// activeStatuses are the states an intent can still move out of through
// reconciliation. approved is special-cased: it only ever moves to refunded.
var activeStatuses = []string{StatusCreated, StatusPending, StatusProcessing}

// Active reports whether a status still counts against the one-active-intent
// rule for an order.
func Active(status string) bool {
	for _, s := range activeStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// Intent is a tracked attempt to collect payment for an order.
type Intent struct {
	ID              uuid.UUID       `json:"id"`
	OrderID         uuid.UUID       `json:"order_id"`
	IntegrationType string          `json:"integration_type"`
	Method          string          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	GatewayID       string          `json:"gateway_id,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	QRCode          string          `json:"qr_code,omitempty"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Expired reports whether the intent's payment window has closed without a
// settled outcome.
func (i *Intent) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt) && Active(i.Status)
}

// gatewayStatusMap is the fixed translation from the gateway's status
// vocabulary onto the local one. Anything unrecognized maps to error.
var gatewayStatusMap = map[string]string{
	"approved":     StatusApproved,
	"rejected":     StatusRejected,
	"pending":      StatusPending,
	"in_process":   StatusProcessing,
	"authorized":   StatusProcessing,
	"in_mediation": StatusProcessing,
	"cancelled":    StatusCancelled,
	"refunded":     StatusRefunded,
	"charged_back": StatusRefunded,
}

// MapGatewayStatus translates a gateway status into the local vocabulary.
func MapGatewayStatus(gatewayStatus string) string {
	if local, ok := gatewayStatusMap[gatewayStatus]; ok {
		return local
	}
	return StatusError
}

// PaymentApprovedEvent is appended to the event log, atomically with the
// intent and order updates, on the first transition into approved.
type PaymentApprovedEvent struct {
	IntentID uuid.UUID       `json:"intent_id"`
	OrderID  uuid.UUID       `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
}
