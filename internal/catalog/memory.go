// internal/catalog/memory.go
package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"cantina/internal/faults"
)

// MemoryRepository is an in-memory Repository used by tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[uuid.UUID]*Product)}
}

func (r *MemoryRepository) Insert(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.products[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, faults.New(faults.CodeNotFound, "product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) UpdateStock(_ context.Context, id uuid.UUID, version, newStock int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return false, faults.New(faults.CodeNotFound, "product %s not found", id)
	}
	if p.Version != version {
		return false, nil
	}
	p.Stock = newStock
	p.Version++
	return true, nil
}

func (r *MemoryRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return faults.New(faults.CodeNotFound, "product %s not found", id)
	}
	p.Active = active
	p.Version++
	return nil
}

func (r *MemoryRepository) List(_ context.Context, channel string) ([]*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Product
	for _, p := range r.products {
		if !p.Active {
			continue
		}
		if channel != "" && !p.AvailableOn(channel) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
