// internal/payments/handler.go
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cantina/internal/api"
)

// webhookTimeout caps how long a webhook delivery may spend reconciling
// before the gateway gives up and redelivers.
const webhookTimeout = 60 * time.Second

type Handler struct {
	service Service
	secret  string
}

func NewHandler(service Service, webhookSecret string) *Handler {
	return &Handler{service: service, secret: webhookSecret}
}

// Routes mounts the payment endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/payments", h.handleWebhook)
	r.Get("/payments/{id}", h.handleGet)
	r.Get("/orders/{orderID}/payment", h.handleGetByOrder)
}

// handleWebhook receives the gateway's payment notifications. The payload is
// authenticated with an HMAC-SHA256 signature over the raw body. Duplicate
// deliveries reconcile to a no-op, so the gateway always gets a 200 back for
// a known payment.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if !h.validSignature(body, r.Header.Get("X-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Action string `json:"action"`
		Data   struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if payload.Data.ID == "" {
		http.Error(w, "missing payment id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), webhookTimeout)
	defer cancel()

	intent, err := h.service.Reconcile(ctx, payload.Data.ID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": intent.Status})
}

func (h *Handler) validSignature(body []byte, signature string) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid payment intent id", http.StatusBadRequest)
		return
	}
	intent, err := h.service.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, intent)
}

func (h *Handler) handleGetByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	intent, err := h.service.GetByOrder(r.Context(), orderID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, intent)
}
