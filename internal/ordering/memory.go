// internal/ordering/memory.go
package ordering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cantina/internal/faults"
)

// MemoryRepository is an in-memory Repository used by tests and local runs.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (r *MemoryRepository) Insert(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	r.orders[o.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "order %s not found", id)
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return &cp, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from []string, to string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return 0, false, faults.New(faults.CodeNotFound, "order %s not found", id)
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return 0, false, nil
	}
	o.Status = to
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	now := o.UpdatedAt
	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusReady:
		o.ReadyAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
	return o.Version, true, nil
}
