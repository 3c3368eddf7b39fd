// internal/payments/gateway.go
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"cantina/internal/faults"
)

// PixRequest carries what the gateway needs to open a PIX charge.
type PixRequest struct {
	Amount            decimal.Decimal `json:"transaction_amount"`
	Description       string          `json:"description"`
	ExternalReference string          `json:"external_reference"`
	NotificationURL   string          `json:"notification_url,omitempty"`
	ExpiresAt         time.Time       `json:"date_of_expiration"`
}

// GatewayPayment is the slice of the gateway's payment resource the engine
// cares about. Raw keeps the full response for auditing.
type GatewayPayment struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	QRCode string          `json:"qr_code,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Gateway is the payment provider surface the intent manager depends on.
type Gateway interface {
	CreatePixPayment(ctx context.Context, req PixRequest) (*GatewayPayment, error)
	GetPayment(ctx context.Context, gatewayID string) (*GatewayPayment, error)
}

type restGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// NewGateway builds an HTTP gateway client wrapped in a circuit breaker so a
// struggling provider stops eating request deadlines.
func NewGateway(baseURL, accessToken string) Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &restGateway{client: client, breaker: breaker}
}

func (g *restGateway) CreatePixPayment(ctx context.Context, req PixRequest) (*GatewayPayment, error) {
	return g.execute(ctx, func() (*resty.Response, error) {
		return g.client.R().SetContext(ctx).SetBody(req).Post("/v1/payments")
	})
}

func (g *restGateway) GetPayment(ctx context.Context, gatewayID string) (*GatewayPayment, error) {
	return g.execute(ctx, func() (*resty.Response, error) {
		return g.client.R().SetContext(ctx).Get("/v1/payments/" + gatewayID)
	})
}

func (g *restGateway) execute(ctx context.Context, call func() (*resty.Response, error)) (*GatewayPayment, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := call()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), resp.String())
		}
		if resp.IsError() {
			return nil, faults.New(faults.CodeProcessingFailed, "gateway rejected request with %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	body := result.([]byte)
	var payment GatewayPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("decoding gateway response: %w", err)
	}
	payment.Raw = json.RawMessage(body)
	return &payment, nil
}
