// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader is the read-only contract the pricing engine consumes.
type Reader interface {
	Lookup(ctx context.Context, id uuid.UUID) (*Product, error)
}

// Service defines the interface for the catalog service.
type Service interface {
	Reader
	AddProduct(ctx context.Context, name, description string, unitPrice decimal.Decimal, stock int, channels []string) (*Product, error)
	UpdateStock(ctx context.Context, id uuid.UUID, newStock int) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, channel string) ([]*Product, error)
}
