// internal/pricing/engine_test.go
package pricing_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"cantina/internal/catalog"
	"cantina/internal/faults"
	"cantina/internal/money"
	"cantina/internal/pricing"
)

func setupCatalog(t *testing.T) (catalog.Service, *catalog.Product, *catalog.Product) {
	t.Helper()
	svc := catalog.NewService(catalog.NewMemoryRepository())

	coffee, err := svc.AddProduct(context.Background(), "Coffee", "espresso", money.FromCents(550), 100,
		[]string{catalog.ChannelApp, catalog.ChannelPOS, catalog.ChannelKiosk})
	require.NoError(t, err)

	lunch, err := svc.AddProduct(context.Background(), "Lunch plate", "daily special", money.FromCents(2490), 10,
		[]string{catalog.ChannelApp, catalog.ChannelPOS})
	require.NoError(t, err)

	return svc, coffee, lunch
}

func memberOrder(productID uuid.UUID, qty int) pricing.RawOrder {
	memberID := uuid.New()
	return pricing.RawOrder{
		Channel:      catalog.ChannelApp,
		CustomerType: pricing.CustomerMember,
		MemberID:     &memberID,
		Items:        []pricing.RawItem{{ProductID: productID, Quantity: qty}},
	}
}

func TestPriceOrderComputesTotals(t *testing.T) {
	svc, coffee, lunch := setupCatalog(t)
	engine := pricing.NewEngine(svc)

	memberID := uuid.New()
	priced, err := engine.PriceOrder(context.Background(), pricing.RawOrder{
		Channel:      catalog.ChannelPOS,
		CustomerType: pricing.CustomerMember,
		MemberID:     &memberID,
		Items: []pricing.RawItem{
			{ProductID: coffee.ID, Quantity: 2},
			{ProductID: lunch.ID, Quantity: 1, Discount: money.FromCents(200)},
		},
		Discount:       money.FromCents(100),
		DiscountReason: "loyalty voucher",
	})
	require.NoError(t, err)

	require.Len(t, priced.Items, 2)
	require.True(t, priced.Items[0].Subtotal.Equal(money.FromCents(1100)))
	require.True(t, priced.Items[1].Total.Equal(money.FromCents(2290)))
	require.True(t, priced.Subtotal.Equal(money.FromCents(3590)))
	// The order's discount folds the 2.00 item discount and the 1.00 order
	// discount together, so total is always subtotal minus discount.
	require.True(t, priced.Discount.Equal(money.FromCents(300)))
	require.True(t, priced.Total.Equal(money.FromCents(3290)))
	require.True(t, priced.Total.Equal(priced.Subtotal.Sub(priced.Discount)))
}

func TestPriceOrderSnapshotsUnitPrice(t *testing.T) {
	svc, coffee, _ := setupCatalog(t)
	engine := pricing.NewEngine(svc)

	priced, err := engine.PriceOrder(context.Background(), memberOrder(coffee.ID, 1))
	require.NoError(t, err)
	require.True(t, priced.Items[0].UnitPrice.Equal(coffee.UnitPrice))
}

func TestPriceOrderValidation(t *testing.T) {
	svc, coffee, lunch := setupCatalog(t)
	engine := pricing.NewEngine(svc)
	memberID := uuid.New()

	manyItems := make([]pricing.RawItem, 21)
	for i := range manyItems {
		manyItems[i] = pricing.RawItem{ProductID: coffee.ID, Quantity: 1}
	}

	tests := []struct {
		name     string
		raw      pricing.RawOrder
		wantCode faults.Code
	}{
		{
			name: "member without member id",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
			},
			wantCode: faults.CodeInvalidCustomerData,
		},
		{
			name: "pos guest without name",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelPOS, CustomerType: pricing.CustomerGuest,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
			},
			wantCode: faults.CodeInvalidCustomerData,
		},
		{
			name: "unknown customer type",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: "robot",
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
			},
			wantCode: faults.CodeInvalidCustomerData,
		},
		{
			name: "unknown channel",
			raw: pricing.RawOrder{
				Channel: "drive-thru", CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "no items",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "kiosk over item cap",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelKiosk, CustomerType: pricing.CustomerGuest,
				Items: manyItems,
			},
			wantCode: faults.CodeTooManyItems,
		},
		{
			name: "zero quantity",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 0}},
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "quantity over cap",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 100}},
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "unknown product",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: uuid.New(), Quantity: 1}},
			},
			wantCode: faults.CodeProductUnavailable,
		},
		{
			name: "product not on channel",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelKiosk, CustomerType: pricing.CustomerGuest,
				Items: []pricing.RawItem{{ProductID: lunch.ID, Quantity: 1}},
			},
			wantCode: faults.CodeProductUnavailable,
		},
		{
			name: "insufficient stock",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: lunch.ID, Quantity: 11}},
			},
			wantCode: faults.CodeInsufficientStock,
		},
		{
			name: "negative item discount",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1, Discount: money.FromCents(-100)}},
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "item discount over line subtotal",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items: []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1, Discount: money.FromCents(600)}},
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "order discount over total",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items:    []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
				Discount: money.FromCents(600), DiscountReason: "anything",
			},
			wantCode: faults.CodeValidation,
		},
		{
			name: "discount without reason",
			raw: pricing.RawOrder{
				Channel: catalog.ChannelApp, CustomerType: pricing.CustomerMember, MemberID: &memberID,
				Items:    []pricing.RawItem{{ProductID: coffee.ID, Quantity: 1}},
				Discount: money.FromCents(100),
			},
			wantCode: faults.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.PriceOrder(context.Background(), tt.raw)
			require.Error(t, err)
			require.Equal(t, tt.wantCode, faults.CodeOf(err), "got error: %v", err)
		})
	}
}

func TestPriceOrderArithmetic(t *testing.T) {
	svc := catalog.NewService(catalog.NewMemoryRepository())
	engine := pricing.NewEngine(svc)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "lines")
		items := make([]pricing.RawItem, 0, n)
		expectedSubtotal := decimal.Zero
		expectedTotal := decimal.Zero

		for i := 0; i < n; i++ {
			priceCents := rapid.Int64Range(1, 100_00).Draw(t, "price")
			qty := rapid.IntRange(1, 99).Draw(t, "qty")
			lineSubtotal := money.FromCents(priceCents).Mul(decimal.NewFromInt(int64(qty)))
			discount := money.FromCents(rapid.Int64Range(0, lineSubtotal.Mul(decimal.NewFromInt(100)).IntPart()).Draw(t, "discount"))

			p, err := svc.AddProduct(context.Background(), "p", "", money.FromCents(priceCents), qty,
				[]string{catalog.ChannelApp})
			require.NoError(t, err)

			items = append(items, pricing.RawItem{ProductID: p.ID, Quantity: qty, Discount: discount})
			expectedSubtotal = expectedSubtotal.Add(lineSubtotal)
			expectedTotal = expectedTotal.Add(lineSubtotal.Sub(discount))
		}

		orderDiscount := money.FromCents(rapid.Int64Range(0, expectedTotal.Mul(decimal.NewFromInt(100)).IntPart()).Draw(t, "orderDiscount"))
		expectedTotal = expectedTotal.Sub(orderDiscount)

		memberID := uuid.New()
		priced, err := engine.PriceOrder(context.Background(), pricing.RawOrder{
			Channel:        catalog.ChannelApp,
			CustomerType:   pricing.CustomerMember,
			MemberID:       &memberID,
			Items:          items,
			Discount:       orderDiscount,
			DiscountReason: "promo",
		})
		require.NoError(t, err)

		require.True(t, priced.Subtotal.Equal(expectedSubtotal),
			"subtotal %s, want %s", priced.Subtotal, expectedSubtotal)
		require.True(t, priced.Total.Equal(expectedTotal),
			"total %s, want %s", priced.Total, expectedTotal)
		require.True(t, priced.Total.Equal(priced.Subtotal.Sub(priced.Discount)),
			"total %s, subtotal %s, discount %s", priced.Total, priced.Subtotal, priced.Discount)
		require.False(t, priced.Total.IsNegative())
	})
}
