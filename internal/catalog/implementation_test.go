// internal/catalog/implementation_test.go
package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cantina/internal/catalog"
	"cantina/internal/faults"
	"cantina/internal/money"
)

func TestAddProductValidation(t *testing.T) {
	svc := catalog.NewService(catalog.NewMemoryRepository())

	_, err := svc.AddProduct(context.Background(), "", "", money.FromCents(100), 1, nil)
	require.Equal(t, faults.CodeValidation, faults.CodeOf(err))

	_, err = svc.AddProduct(context.Background(), "Coffee", "", money.FromCents(0), 1, nil)
	require.Equal(t, faults.CodeValidation, faults.CodeOf(err))

	_, err = svc.AddProduct(context.Background(), "Coffee", "", money.FromCents(100), -1, nil)
	require.Equal(t, faults.CodeValidation, faults.CodeOf(err))

	_, err = svc.AddProduct(context.Background(), "Coffee", "", money.FromCents(100), 1, []string{"vending"})
	require.Equal(t, faults.CodeValidation, faults.CodeOf(err))
}

func TestUpdateStockAndDeactivate(t *testing.T) {
	svc := catalog.NewService(catalog.NewMemoryRepository())

	p, err := svc.AddProduct(context.Background(), "Coffee", "", money.FromCents(550), 5,
		[]string{catalog.ChannelApp})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStock(context.Background(), p.ID, 12))

	fresh, err := svc.Lookup(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, 12, fresh.Stock)
	require.Greater(t, fresh.Version, p.Version)

	require.NoError(t, svc.Deactivate(context.Background(), p.ID))
	fresh, err = svc.Lookup(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, fresh.Active)
}

func TestListFiltersByChannel(t *testing.T) {
	svc := catalog.NewService(catalog.NewMemoryRepository())

	_, err := svc.AddProduct(context.Background(), "Coffee", "", money.FromCents(550), 5,
		[]string{catalog.ChannelApp, catalog.ChannelKiosk})
	require.NoError(t, err)
	lunch, err := svc.AddProduct(context.Background(), "Lunch", "", money.FromCents(2490), 5,
		[]string{catalog.ChannelPOS})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), lunch.ID))

	kiosk, err := svc.List(context.Background(), catalog.ChannelKiosk)
	require.NoError(t, err)
	require.Len(t, kiosk, 1)
	require.Equal(t, "Coffee", kiosk[0].Name)

	// Deactivated products never show up, even on their own channel.
	pos, err := svc.List(context.Background(), catalog.ChannelPOS)
	require.NoError(t, err)
	require.Empty(t, pos)
}
