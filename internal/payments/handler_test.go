// internal/payments/handler_test.go
package payments_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"cantina/internal/payments"
)

const webhookSecret = "test-secret"

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(body))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func webhookRouter(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := setup(t, payments.Config{WebhookSecret: webhookSecret})
	router := chi.NewRouter()
	payments.NewHandler(f.svc, webhookSecret).Routes(router)
	return f, router
}

func TestWebhookApprovesPayment(t *testing.T) {
	f, router := webhookRouter(t)

	intent, err := f.svc.CreateIntent(context.Background(), pixOrder())
	require.NoError(t, err)
	f.gateway.setStatus(intent.GatewayID, "approved")

	body := `{"action":"payment.updated","data":{"id":"` + intent.GatewayID + `"}}`

	// Redelivered webhooks must stay 200 and change nothing.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedRequest(t, body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	got, err := f.svc.Get(context.Background(), intent.ID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusApproved, got.Status)
	require.Equal(t, 1, f.completer.count())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	_, router := webhookRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments",
		bytes.NewBufferString(`{"data":{"id":"x"}}`))
	req.Header.Set("X-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsMissingPaymentID(t *testing.T) {
	_, router := webhookRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, `{"action":"payment.updated","data":{}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownPaymentIs404(t *testing.T) {
	_, router := webhookRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, `{"action":"payment.updated","data":{"id":"nope"}}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
