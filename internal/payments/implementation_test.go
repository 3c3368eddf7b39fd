// internal/payments/implementation_test.go
package payments_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cantina/internal/faults"
	"cantina/internal/money"
	"cantina/internal/ordering"
	"cantina/internal/payments"
)

// fakeGateway is an in-process payment provider.
type fakeGateway struct {
	mu          sync.Mutex
	payments    map[string]*payments.GatewayPayment
	createFails int
	permanent   bool
	getCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*payments.GatewayPayment{}}
}

func (g *fakeGateway) CreatePixPayment(_ context.Context, req payments.PixRequest) (*payments.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createFails > 0 {
		g.createFails--
		if g.permanent {
			return nil, faults.New(faults.CodeProcessingFailed, "gateway rejected request with 400")
		}
		return nil, errors.New("connection reset")
	}
	p := &payments.GatewayPayment{
		ID:     uuid.NewString(),
		Status: "pending",
		QRCode: "qr-" + req.ExternalReference,
		Raw:    json.RawMessage(`{"status":"pending"}`),
	}
	g.payments[p.ID] = p
	return p, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, gatewayID string) (*payments.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	p, ok := g.payments[gatewayID]
	if !ok {
		return nil, errors.New("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) setStatus(gatewayID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[gatewayID].Status = status
	g.payments[gatewayID].Raw = json.RawMessage(`{"status":"` + status + `"}`)
}

type fakeCompleter struct {
	mu        sync.Mutex
	completed []uuid.UUID
}

func (f *fakeCompleter) CompleteFromPayment(_ context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, orderID)
	return nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, _, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	svc       payments.Service
	repo      *payments.MemoryRepository
	gateway   *fakeGateway
	completer *fakeCompleter
	sender    *recordingSender
}

func setup(t *testing.T, cfg payments.Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:      payments.NewMemoryRepository(),
		gateway:   newFakeGateway(),
		completer: &fakeCompleter{},
		sender:    &recordingSender{},
	}
	f.svc = payments.NewService(f.repo, f.gateway, f.completer, f.sender, cfg)
	return f
}

func pixOrder() *ordering.Order {
	return &ordering.Order{
		ID:            uuid.New(),
		PaymentMethod: ordering.MethodPix,
		Total:         money.FromCents(25_50),
		Status:        ordering.StatusPending,
	}
}

func TestCreatePixIntent(t *testing.T) {
	f := setup(t, payments.Config{})
	o := pixOrder()

	intent, err := f.svc.CreateIntent(context.Background(), o)
	require.NoError(t, err)

	require.Equal(t, payments.StatusPending, intent.Status)
	require.Equal(t, payments.IntegrationCheckoutPix, intent.IntegrationType)
	require.NotEmpty(t, intent.GatewayID)
	require.Equal(t, "qr-"+o.ID.String(), intent.QRCode)
	require.NotNil(t, intent.ExpiresAt)
	require.Equal(t, 1, intent.Attempts)
	require.Equal(t, 0, f.completer.count())
}

func TestCreateManualIntentCompletesImmediately(t *testing.T) {
	f := setup(t, payments.Config{})
	o := pixOrder()
	o.PaymentMethod = ordering.MethodCreditCard

	intent, err := f.svc.CreateIntent(context.Background(), o)
	require.NoError(t, err)

	require.Equal(t, payments.StatusApproved, intent.Status)
	require.Equal(t, payments.IntegrationManualPOS, intent.IntegrationType)
	require.Equal(t, 1, f.completer.count())

	events, err := f.repo.Events.Load(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "payment.approved", events[0].EventType)

	require.Eventually(t, func() bool { return f.sender.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestCreditLineOrderRejected(t *testing.T) {
	f := setup(t, payments.Config{})
	o := pixOrder()
	o.PaymentMethod = ordering.MethodCreditLine

	_, err := f.svc.CreateIntent(context.Background(), o)
	require.Equal(t, faults.CodeValidation, faults.CodeOf(err))
}

func TestNewIntentSupersedesActiveOne(t *testing.T) {
	f := setup(t, payments.Config{})
	o := pixOrder()

	first, err := f.svc.CreateIntent(context.Background(), o)
	require.NoError(t, err)
	second, err := f.svc.CreateIntent(context.Background(), o)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	stale, err := f.svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusCancelled, stale.Status)

	active, err := f.svc.GetByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
}

// An approval is applied exactly once no matter how many times the webhook
// fires for the same payment.
func TestReconcileApprovalIsExactlyOnce(t *testing.T) {
	f := setup(t, payments.Config{})
	o := pixOrder()

	intent, err := f.svc.CreateIntent(context.Background(), o)
	require.NoError(t, err)
	f.gateway.setStatus(intent.GatewayID, "approved")

	for i := 0; i < 3; i++ {
		got, err := f.svc.Reconcile(context.Background(), intent.GatewayID)
		require.NoError(t, err)
		require.Equal(t, payments.StatusApproved, got.Status)
	}

	require.Equal(t, 1, f.completer.count())
	require.Equal(t, []uuid.UUID{o.ID}, f.completer.completed)

	events, err := f.repo.Events.Load(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.Eventually(t, func() bool { return f.sender.count() == 1 },
		time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.sender.count())
}

func TestReconcileRejected(t *testing.T) {
	f := setup(t, payments.Config{})
	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)
	f.gateway.setStatus(intent.GatewayID, "rejected")

	got, err := f.svc.Reconcile(context.Background(), intent.GatewayID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusRejected, got.Status)
	require.NotNil(t, got.RejectedAt)
	require.Equal(t, 0, f.completer.count())
}

func TestReconcileRefundAfterApproval(t *testing.T) {
	f := setup(t, payments.Config{})
	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)

	f.gateway.setStatus(intent.GatewayID, "approved")
	_, err = f.svc.Reconcile(context.Background(), intent.GatewayID)
	require.NoError(t, err)

	f.gateway.setStatus(intent.GatewayID, "refunded")
	got, err := f.svc.Reconcile(context.Background(), intent.GatewayID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusRefunded, got.Status)

	// But the approval side effects ran only once.
	require.Equal(t, 1, f.completer.count())
}

func TestExpiredIntentNeverHitsGateway(t *testing.T) {
	f := setup(t, payments.Config{PixTTL: time.Millisecond})
	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	callsBefore := f.gateway.getCalls

	got, err := f.svc.Reconcile(context.Background(), intent.GatewayID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusExpired, got.Status)
	require.Equal(t, callsBefore, f.gateway.getCalls)
	require.Equal(t, 0, f.completer.count())
}

func TestGetByOrderExpiresStalePixCharge(t *testing.T) {
	f := setup(t, payments.Config{PixTTL: time.Millisecond})
	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = f.svc.GetByOrder(context.Background(), intent.OrderID)
	require.Equal(t, faults.CodePixExpired, faults.CodeOf(err))

	got, err := f.svc.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusExpired, got.Status)
}

func TestGatewayRetryThenSuccess(t *testing.T) {
	f := setup(t, payments.Config{})
	f.gateway.createFails = 2

	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, intent.Status)
	require.Equal(t, 3, intent.Attempts)
}

func TestGatewayExhaustionMarksIntentError(t *testing.T) {
	f := setup(t, payments.Config{MaxGatewayTries: 2})
	f.gateway.createFails = 10

	_, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.Equal(t, faults.CodeGatewayUnavailable, faults.CodeOf(err))

	all := f.repo.All()
	require.Len(t, all, 1)
	require.Equal(t, payments.StatusError, all[0].Status)
	require.Equal(t, 2, all[0].Attempts)
	require.Equal(t, "connection reset", all[0].LastError)
}

func TestGatewayRejectionIsNotRetried(t *testing.T) {
	f := setup(t, payments.Config{})
	f.gateway.createFails = 10
	f.gateway.permanent = true

	_, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.Error(t, err)

	all := f.repo.All()
	require.Len(t, all, 1)
	require.Equal(t, 1, all[0].Attempts)
}

func TestPollPendingReconcilesStaleIntents(t *testing.T) {
	f := setup(t, payments.Config{StaleAfter: 5 * time.Millisecond})
	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)
	f.gateway.setStatus(intent.GatewayID, "approved")

	time.Sleep(20 * time.Millisecond)

	checked, err := f.svc.PollPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, checked)

	got, err := f.svc.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusApproved, got.Status)
	require.Equal(t, 1, f.completer.count())
}

func TestMapGatewayStatus(t *testing.T) {
	tests := map[string]string{
		"approved":     payments.StatusApproved,
		"rejected":     payments.StatusRejected,
		"pending":      payments.StatusPending,
		"in_process":   payments.StatusProcessing,
		"authorized":   payments.StatusProcessing,
		"in_mediation": payments.StatusProcessing,
		"cancelled":    payments.StatusCancelled,
		"refunded":     payments.StatusRefunded,
		"charged_back": payments.StatusRefunded,
		"imaginary":    payments.StatusError,
	}
	for gateway, local := range tests {
		require.Equal(t, local, payments.MapGatewayStatus(gateway), "gateway status %s", gateway)
	}
}
