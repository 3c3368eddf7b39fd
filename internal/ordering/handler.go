// internal/ordering/handler.go
package ordering

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cantina/internal/api"
	"cantina/internal/pricing"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the order endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders/{id}", h.handleGetOrder)
	r.Post("/orders/{id}/preparing", h.transitionHandler(h.service.StartPreparing))
	r.Post("/orders/{id}/ready", h.transitionHandler(h.service.MarkReady))
	r.Post("/orders/{id}/complete", h.transitionHandler(h.service.Complete))
	r.Post("/orders/{id}/cancel", h.transitionHandler(h.service.Cancel))
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var raw pricing.RawOrder
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Create(r.Context(), raw)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order ID", http.StatusBadRequest)
		return
	}

	o, err := h.service.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	json.NewEncoder(w).Encode(o)
}

// transitionHandler adapts a status transition method into an HTTP handler.
func (h *Handler) transitionHandler(op func(ctx context.Context, id uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid order ID", http.StatusBadRequest)
			return
		}
		if err := op(r.Context(), id); err != nil {
			api.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
