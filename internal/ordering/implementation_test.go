// internal/ordering/implementation_test.go
package ordering_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cantina/internal/catalog"
	"cantina/internal/faults"
	"cantina/internal/fiscal"
	"cantina/internal/ledger"
	"cantina/internal/money"
	"cantina/internal/ordering"
	"cantina/internal/pricing"
	"cantina/pkg/eventstore"
)

// fakeStarter stands in for the payment intent manager.
type fakeStarter struct {
	started   []uuid.UUID
	cancelled []uuid.UUID
	fail      error
}

func (f *fakeStarter) Start(_ context.Context, o *ordering.Order) (*ordering.PaymentTicket, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.started = append(f.started, o.ID)
	expires := time.Now().Add(30 * time.Minute)
	return &ordering.PaymentTicket{
		IntentID:  uuid.New(),
		Status:    "pending",
		QRCode:    "qr-data",
		ExpiresAt: &expires,
	}, nil
}

func (f *fakeStarter) CancelForOrder(_ context.Context, orderID uuid.UUID) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

// flakyLedger delegates to a real ledger but fails a bounded number of
// Release/Commit calls first, simulating transient store errors.
type flakyLedger struct {
	ledger.Service
	releaseFailures int
	commitFailures  int
}

func (f *flakyLedger) Release(ctx context.Context, reservationID uuid.UUID) error {
	if f.releaseFailures > 0 {
		f.releaseFailures--
		return faults.New(faults.CodeProcessingFailed, "ledger briefly unavailable")
	}
	return f.Service.Release(ctx, reservationID)
}

func (f *flakyLedger) Commit(ctx context.Context, reservationID uuid.UUID) error {
	if f.commitFailures > 0 {
		f.commitFailures--
		return faults.New(faults.CodeProcessingFailed, "ledger briefly unavailable")
	}
	return f.Service.Commit(ctx, reservationID)
}

type fixture struct {
	orders  ordering.Service
	ledger  ledger.Service
	starter *fakeStarter
	member  *ledger.Member
	coffee  *catalog.Product
}

func setup(t *testing.T) *fixture {
	return setupWith(t, func(s ledger.Service) ledger.Service { return s })
}

// setupWith lets a test interpose on the ledger, e.g. to inject failures.
func setupWith(t *testing.T, wrap func(ledger.Service) ledger.Service) *fixture {
	t.Helper()

	catalogSvc := catalog.NewService(catalog.NewMemoryRepository())
	coffee, err := catalogSvc.AddProduct(context.Background(), "Coffee", "", money.FromCents(550), 100,
		[]string{catalog.ChannelApp, catalog.ChannelPOS, catalog.ChannelKiosk})
	require.NoError(t, err)

	ledgerSvc := wrap(ledger.NewService(ledger.NewMemoryRepository()))
	member, err := ledgerSvc.RegisterMember(context.Background(), ledger.RegisterMemberRequest{
		Name:               "Ana",
		CreditLimit:        money.FromCents(100_00),
		MaxOverdueInvoices: 2,
		BillingCloseDay:    10,
	})
	require.NoError(t, err)

	starter := &fakeStarter{}
	orders := ordering.NewService(
		ordering.NewMemoryRepository(),
		pricing.NewEngine(catalogSvc),
		ledgerSvc,
		eventstore.NewMemoryStore(),
		fiscal.NewLogService(),
	)
	orders.SetPaymentStarter(starter)

	return &fixture{orders: orders, ledger: ledgerSvc, starter: starter, member: member, coffee: coffee}
}

func (f *fixture) memberOrder(qty int) pricing.RawOrder {
	return pricing.RawOrder{
		Channel:      catalog.ChannelApp,
		CustomerType: pricing.CustomerMember,
		MemberID:     &f.member.ID,
		Items:        []pricing.RawItem{{ProductID: f.coffee.ID, Quantity: qty}},
	}
}

func (f *fixture) guestOrder(method string) pricing.RawOrder {
	return pricing.RawOrder{
		Channel:       catalog.ChannelPOS,
		CustomerType:  pricing.CustomerGuest,
		GuestName:     "Bruno",
		PaymentMethod: method,
		Items:         []pricing.RawItem{{ProductID: f.coffee.ID, Quantity: 1}},
	}
}

func TestCreateOnCreditConfirmsAndReserves(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.memberOrder(2))
	require.NoError(t, err)
	require.Nil(t, result.Payment)

	o := result.Order
	require.Equal(t, ordering.StatusConfirmed, o.Status)
	require.Equal(t, ordering.MethodCreditLine, o.PaymentMethod)
	require.NotNil(t, o.ReservationID)

	m, err := f.ledger.GetMember(context.Background(), f.member.ID)
	require.NoError(t, err)
	require.True(t, m.CreditUsed.Equal(o.Total))

	res, err := f.ledger.GetReservation(context.Background(), *o.ReservationID)
	require.NoError(t, err)
	require.Equal(t, ledger.ReservationHeld, res.Status)
}

func TestCreateDeniedLeavesNoOrder(t *testing.T) {
	f := setup(t)

	// 30 coffees at 5.50 exceed the 100.00 limit.
	_, err := f.orders.Create(context.Background(), f.memberOrder(30))
	require.Equal(t, faults.CodeInsufficientCredit, faults.CodeOf(err))

	m, err := f.ledger.GetMember(context.Background(), f.member.ID)
	require.NoError(t, err)
	require.True(t, m.CreditUsed.IsZero())
}

func TestGuestCannotUseCreditLine(t *testing.T) {
	f := setup(t)
	_, err := f.orders.Create(context.Background(), f.guestOrder(ordering.MethodCreditLine))
	require.Equal(t, faults.CodeInvalidCustomerData, faults.CodeOf(err))
}

func TestCreateWithPaymentReturnsTicket(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.guestOrder(ordering.MethodPix))
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	require.Equal(t, "qr-data", result.Payment.QRCode)
	require.Equal(t, ordering.StatusPending, result.Order.Status)
	require.Equal(t, []uuid.UUID{result.Order.ID}, f.starter.started)
}

func TestIntentFailureCancelsOrder(t *testing.T) {
	f := setup(t)
	f.starter.fail = faults.New(faults.CodeGatewayUnavailable, "gateway down")

	_, err := f.orders.Create(context.Background(), f.guestOrder(ordering.MethodPix))
	require.Equal(t, faults.CodeGatewayUnavailable, faults.CodeOf(err))
}

func TestLifecycleToCompletionCommitsReservation(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.memberOrder(1))
	require.NoError(t, err)
	id := result.Order.ID

	require.NoError(t, f.orders.StartPreparing(context.Background(), id))
	require.NoError(t, f.orders.MarkReady(context.Background(), id))
	require.NoError(t, f.orders.Complete(context.Background(), id))

	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ordering.StatusCompleted, o.Status)

	res, err := f.ledger.GetReservation(context.Background(), *o.ReservationID)
	require.NoError(t, err)
	require.Equal(t, ledger.ReservationCommitted, res.Status)

	// The debit stays on the balance.
	m, err := f.ledger.GetMember(context.Background(), f.member.ID)
	require.NoError(t, err)
	require.True(t, m.CreditUsed.Equal(o.Total))
}

func TestInvalidTransitionsRejected(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.memberOrder(1))
	require.NoError(t, err)
	id := result.Order.ID

	// confirmed -> ready skips preparing
	err = f.orders.MarkReady(context.Background(), id)
	require.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))

	// confirmed -> completed without ready
	err = f.orders.Complete(context.Background(), id)
	require.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))

	require.NoError(t, f.orders.StartPreparing(context.Background(), id))

	// cancel after preparation started
	err = f.orders.Cancel(context.Background(), id)
	require.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}

func TestCancelReleasesReservation(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.memberOrder(2))
	require.NoError(t, err)
	id := result.Order.ID

	require.NoError(t, f.orders.Cancel(context.Background(), id))
	// Cancelling again is a no-op.
	require.NoError(t, f.orders.Cancel(context.Background(), id))

	m, err := f.ledger.GetMember(context.Background(), f.member.ID)
	require.NoError(t, err)
	require.True(t, m.CreditUsed.IsZero())

	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ordering.StatusCancelled, o.Status)
}

func TestCancelRetryReleasesAfterTransientFailure(t *testing.T) {
	f := setupWith(t, func(s ledger.Service) ledger.Service {
		return &flakyLedger{Service: s, releaseFailures: 1}
	})

	result, err := f.orders.Create(context.Background(), f.memberOrder(2))
	require.NoError(t, err)
	id := result.Order.ID

	// First cancel flips the order but the release fails transiently.
	err = f.orders.Cancel(context.Background(), id)
	require.Equal(t, faults.CodeProcessingFailed, faults.CodeOf(err))

	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ordering.StatusCancelled, o.Status)

	// The retry must run the release even though the order is already
	// cancelled, otherwise the reservation leaks.
	require.NoError(t, f.orders.Cancel(context.Background(), id))

	m, err := f.ledger.GetMember(context.Background(), f.member.ID)
	require.NoError(t, err)
	require.True(t, m.CreditUsed.IsZero())
}

func TestCompleteRetryCommitsAfterTransientFailure(t *testing.T) {
	f := setupWith(t, func(s ledger.Service) ledger.Service {
		return &flakyLedger{Service: s, commitFailures: 1}
	})

	result, err := f.orders.Create(context.Background(), f.memberOrder(1))
	require.NoError(t, err)
	id := result.Order.ID

	require.NoError(t, f.orders.StartPreparing(context.Background(), id))
	require.NoError(t, f.orders.MarkReady(context.Background(), id))

	err = f.orders.Complete(context.Background(), id)
	require.Equal(t, faults.CodeProcessingFailed, faults.CodeOf(err))

	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ordering.StatusCompleted, o.Status)

	require.NoError(t, f.orders.Complete(context.Background(), id))

	res, err := f.ledger.GetReservation(context.Background(), *o.ReservationID)
	require.NoError(t, err)
	require.Equal(t, ledger.ReservationCommitted, res.Status)
}

func TestCancelExternalPaymentCancelsIntent(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.guestOrder(ordering.MethodPix))
	require.NoError(t, err)

	require.NoError(t, f.orders.Cancel(context.Background(), result.Order.ID))
	require.Equal(t, []uuid.UUID{result.Order.ID}, f.starter.cancelled)
}

func TestCompleteFromPaymentSettlesPendingOrder(t *testing.T) {
	f := setup(t)

	result, err := f.orders.Create(context.Background(), f.guestOrder(ordering.MethodPix))
	require.NoError(t, err)

	require.NoError(t, f.orders.CompleteFromPayment(context.Background(), result.Order.ID))

	o, err := f.orders.Get(context.Background(), result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, ordering.StatusCompleted, o.Status)

	// A settled order cannot be completed again.
	err = f.orders.CompleteFromPayment(context.Background(), result.Order.ID)
	require.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}
