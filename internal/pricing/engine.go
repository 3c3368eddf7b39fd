// internal/pricing/engine.go
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"cantina/internal/catalog"
	"cantina/internal/faults"
)

// Engine turns raw order requests into priced, immutable orders. It is a pure
// computation over catalog reads: it never mutates stock or credit.
type Engine struct {
	catalog catalog.Reader
}

func NewEngine(reader catalog.Reader) *Engine {
	return &Engine{catalog: reader}
}

// PriceOrder validates and prices a raw order. Every violation returns a coded
// error naming the offending item where one exists.
func (e *Engine) PriceOrder(ctx context.Context, raw RawOrder) (*PricedOrder, error) {
	if err := validateCustomer(raw); err != nil {
		return nil, err
	}

	maxItems := MaxItemsDefault
	if raw.Channel == catalog.ChannelKiosk {
		maxItems = MaxItemsKiosk
	}
	if len(raw.Items) == 0 {
		return nil, faults.New(faults.CodeValidation, "order must contain at least one item")
	}
	if len(raw.Items) > maxItems {
		return nil, faults.New(faults.CodeTooManyItems, "channel %s accepts at most %d items, got %d", raw.Channel, maxItems, len(raw.Items))
	}

	priced := &PricedOrder{
		Channel:        raw.Channel,
		CustomerType:   raw.CustomerType,
		MemberID:       raw.MemberID,
		GuestName:      raw.GuestName,
		PaymentMethod:  raw.PaymentMethod,
		DiscountReason: raw.DiscountReason,
	}

	hasDiscount := raw.Discount.Sign() > 0
	lineTotal := decimal.Zero
	lineDiscounts := decimal.Zero
	for _, item := range raw.Items {
		line, err := e.priceLine(ctx, raw.Channel, item)
		if err != nil {
			return nil, err
		}
		if item.Discount.Sign() > 0 {
			hasDiscount = true
		}
		priced.Items = append(priced.Items, *line)
		priced.Subtotal = priced.Subtotal.Add(line.Subtotal)
		lineDiscounts = lineDiscounts.Add(line.Discount)
		lineTotal = lineTotal.Add(line.Total)
	}

	if raw.Discount.Sign() < 0 {
		return nil, faults.New(faults.CodeValidation, "order discount cannot be negative")
	}
	if raw.Discount.GreaterThan(lineTotal) {
		return nil, faults.New(faults.CodeValidation, "order discount %s exceeds order total %s", raw.Discount, lineTotal)
	}
	if hasDiscount && raw.DiscountReason == "" {
		return nil, faults.New(faults.CodeValidation, "discount requires a discount reason")
	}

	// The stored discount is the full reduction, line-level and order-level
	// combined, so total == subtotal - discount holds on the persisted row.
	priced.Discount = lineDiscounts.Add(raw.Discount)
	priced.Total = priced.Subtotal.Sub(priced.Discount)
	if priced.Total.Sign() < 0 {
		return nil, faults.New(faults.CodeValidation, "order total cannot be negative")
	}
	return priced, nil
}

func (e *Engine) priceLine(ctx context.Context, channel string, item RawItem) (*PricedItem, error) {
	if item.Quantity < MinQuantity || item.Quantity > MaxQuantity {
		return nil, faults.New(faults.CodeValidation, "item %s: quantity must be between %d and %d", item.ProductID, MinQuantity, MaxQuantity)
	}
	if item.Discount.Sign() < 0 {
		return nil, faults.New(faults.CodeValidation, "item %s: discount cannot be negative", item.ProductID)
	}

	product, err := e.catalog.Lookup(ctx, item.ProductID)
	if err != nil {
		if faults.Has(err, faults.CodeNotFound) {
			return nil, faults.New(faults.CodeProductUnavailable, "item %s: product not found", item.ProductID)
		}
		return nil, err
	}
	if !product.Active || !product.AvailableOn(channel) {
		return nil, faults.New(faults.CodeProductUnavailable, "item %s: %s is not available on %s", item.ProductID, product.Name, channel)
	}
	if product.Stock < item.Quantity {
		return nil, faults.New(faults.CodeInsufficientStock, "item %s: %d in stock, %d requested", item.ProductID, product.Stock, item.Quantity)
	}

	subtotal := product.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if item.Discount.GreaterThan(subtotal) {
		return nil, faults.New(faults.CodeValidation, "item %s: discount %s exceeds line subtotal %s", item.ProductID, item.Discount, subtotal)
	}

	return &PricedItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    item.Quantity,
		UnitPrice:   product.UnitPrice,
		Subtotal:    subtotal,
		Discount:    item.Discount,
		Total:       subtotal.Sub(item.Discount),
	}, nil
}

func validateCustomer(raw RawOrder) error {
	switch raw.CustomerType {
	case CustomerMember:
		if raw.MemberID == nil {
			return faults.New(faults.CodeInvalidCustomerData, "member orders require a member id")
		}
	case CustomerGuest:
		if raw.Channel == catalog.ChannelPOS && raw.GuestName == "" {
			return faults.New(faults.CodeInvalidCustomerData, "POS guest orders require a guest name")
		}
	default:
		return faults.New(faults.CodeInvalidCustomerData, "unknown customer type %q", raw.CustomerType)
	}

	switch raw.Channel {
	case catalog.ChannelApp, catalog.ChannelPOS, catalog.ChannelKiosk:
		return nil
	default:
		return faults.New(faults.CodeValidation, "unknown channel %q", raw.Channel)
	}
}
