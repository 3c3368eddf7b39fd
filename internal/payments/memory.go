// internal/payments/memory.go
package payments

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cantina/internal/faults"
	"cantina/pkg/eventstore"
)

// MemoryRepository is an in-process Repository for tests and local runs. It
// applies the same status guards as the PostgreSQL implementation.
type MemoryRepository struct {
	mu      sync.Mutex
	intents map[uuid.UUID]*Intent

	// Events receives the approval event when set, standing in for the
	// transactional append.
	Events *eventstore.MemoryStore
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		intents: make(map[uuid.UUID]*Intent),
		Events:  eventstore.NewMemoryStore(),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, intent *Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *intent
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.intents[intent.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "payment intent %s not found", id)
	}
	cp := *intent
	return &cp, nil
}

func (r *MemoryRepository) GetByGatewayID(_ context.Context, gatewayID string) (*Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, intent := range r.intents {
		if intent.GatewayID == gatewayID && gatewayID != "" {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, faults.New(faults.CodeNotFound, "no payment intent for gateway payment %s", gatewayID)
}

func (r *MemoryRepository) GetActiveByOrder(_ context.Context, orderID uuid.UUID) (*Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Intent
	for _, intent := range r.intents {
		if intent.OrderID != orderID || !Active(intent.Status) {
			continue
		}
		if latest == nil || intent.CreatedAt.After(latest.CreatedAt) {
			latest = intent
		}
	}
	if latest == nil {
		return nil, faults.New(faults.CodeNotFound, "no active payment intent for order %s", orderID)
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryRepository) AttachGateway(_ context.Context, id uuid.UUID, gatewayID, qrCode string, raw json.RawMessage, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return faults.New(faults.CodeNotFound, "payment intent %s not found", id)
	}
	intent.Status = StatusPending
	intent.GatewayID = gatewayID
	intent.QRCode = qrCode
	intent.GatewayResponse = raw
	expiry := expiresAt
	intent.ExpiresAt = &expiry
	intent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from []string, to string, raw json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(id, from, to, raw), nil
}

func (r *MemoryRepository) updateLocked(id uuid.UUID, from []string, to string, raw json.RawMessage) bool {
	intent, ok := r.intents[id]
	if !ok {
		return false
	}
	matched := false
	for _, s := range from {
		if intent.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	intent.Status = to
	if len(raw) > 0 {
		intent.GatewayResponse = raw
	}
	now := time.Now().UTC()
	intent.UpdatedAt = now
	switch to {
	case StatusApproved:
		intent.ApprovedAt = &now
	case StatusRejected:
		intent.RejectedAt = &now
	case StatusCancelled:
		intent.CancelledAt = &now
	}
	return true
}

func (r *MemoryRepository) RecordAttempt(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return faults.New(faults.CodeNotFound, "payment intent %s not found", id)
	}
	intent.Attempts = attempts
	intent.LastError = lastError
	intent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Approve(ctx context.Context, intent *Intent, raw json.RawMessage, eventData []byte) (bool, error) {
	r.mu.Lock()
	first := r.updateLocked(intent.ID, activeStatuses, StatusApproved, raw)
	r.mu.Unlock()
	if !first {
		return false, nil
	}
	if r.Events != nil {
		existing, _ := r.Events.Load(ctx, intent.ID)
		err := r.Events.Append(ctx, eventstore.Event{
			AggregateID:   intent.ID,
			AggregateType: "payment_intent",
			EventType:     "payment.approved",
			EventData:     eventData,
			Version:       len(existing) + 1,
		})
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// All returns every stored intent, newest last. Test helper.
func (r *MemoryRepository) All() []*Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Intent, 0, len(r.intents))
	for _, intent := range r.intents {
		cp := *intent
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) ListStale(_ context.Context, updatedBefore time.Time) ([]*Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Intent
	for _, intent := range r.intents {
		if Active(intent.Status) && intent.GatewayID != "" && intent.UpdatedAt.Before(updatedBefore) {
			cp := *intent
			out = append(out, &cp)
		}
	}
	return out, nil
}
