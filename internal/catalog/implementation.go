// internal/catalog/implementation.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cantina/internal/faults"
)

// service implements the Service interface.
type service struct {
	repo Repository
}

// NewService creates a new catalog service instance.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Lookup(ctx context.Context, id uuid.UUID) (*Product, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) AddProduct(ctx context.Context, name, description string, unitPrice decimal.Decimal, stock int, channels []string) (*Product, error) {
	if name == "" {
		return nil, faults.New(faults.CodeValidation, "product name is required")
	}
	if unitPrice.Sign() <= 0 {
		return nil, faults.New(faults.CodeValidation, "unit price must be positive")
	}
	if stock < 0 {
		return nil, faults.New(faults.CodeValidation, "stock cannot be negative")
	}
	for _, c := range channels {
		if c != ChannelApp && c != ChannelPOS && c != ChannelKiosk {
			return nil, faults.New(faults.CodeValidation, "unknown channel %q", c)
		}
	}

	p := &Product{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		UnitPrice:   unitPrice,
		Stock:       stock,
		Active:      true,
		Channels:    channels,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateStock retries on version conflicts so concurrent stock adjustments
// never clobber each other.
func (s *service) UpdateStock(ctx context.Context, id uuid.UUID, newStock int) error {
	if newStock < 0 {
		return faults.New(faults.CodeValidation, "stock cannot be negative")
	}
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		ok, err := s.repo.UpdateStock(ctx, id, p.Version, newStock)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return faults.New(faults.CodeProcessingFailed, "could not update stock for product %s", id)
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *service) List(ctx context.Context, channel string) ([]*Product, error) {
	return s.repo.List(ctx, channel)
}
