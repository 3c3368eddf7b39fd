// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sales channels an order can originate from.
const (
	ChannelApp   = "app"
	ChannelPOS   = "pos"
	ChannelKiosk = "kiosk"
)

// Product represents a sellable item in the catalog.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
	Channels    []string        `json:"channels"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AvailableOn reports whether the product is sold through the given channel.
func (p *Product) AvailableOn(channel string) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}
