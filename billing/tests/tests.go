package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/billing"
)

// Catalog names the seed products a backend under test must serve.
type Catalog struct {
	ConsumableID   string
	SubscriptionID string
}

// Factory builds a fresh backend seeded with the returned catalog, plus a
// teardown.
type Factory func(t *testing.T) (billing.Biller, Catalog, func())

// RunBillerTests exercises any billing.Biller against the invariants every
// backend shares. Operations a backend reports as unsupported are skipped,
// not failed.
func RunBillerTests(t *testing.T, factory Factory) {
	for _, tf := range []struct {
		name string
		f    func(t *testing.T, b billing.Biller, catalog Catalog)
	}{
		{"connectIdempotent", testConnectIdempotent},
		{"getProducts", testGetProducts},
		{"getProductsUnknown", testGetProductsUnknown},
		{"purchaseLifecycle", testPurchaseLifecycle},
		{"consumeLifecycle", testConsumeLifecycle},
		{"consumeNotOwned", testConsumeNotOwned},
		{"disconnectSafe", testDisconnectSafe},
	} {
		t.Run(tf.name, func(t *testing.T) {
			b, catalog, teardown := factory(t)
			defer teardown()

			tf.f(t, b, catalog)
		})
	}
}

func skipIfUnsupported(t *testing.T, err error) {
	if billing.CodeOf(err) == billing.CodeFeatureNotSupported {
		t.Skip("operation not supported by this backend")
	}
}

func testConnectIdempotent(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()

	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Disconnect())
	require.NoError(t, b.Connect(ctx))
}

func testGetProducts(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	products, err := b.GetProducts(ctx, []string{catalog.ConsumableID}, billing.KindConsumable)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, catalog.ConsumableID, products[0].ID)
}

func testGetProductsUnknown(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	products, err := b.GetProducts(ctx, []string{"definitely.not.a.product"}, billing.KindConsumable)
	require.NoError(t, err)
	require.Empty(t, products)
}

func testPurchaseLifecycle(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	purchase, err := b.Purchase(ctx, catalog.ConsumableID, billing.KindConsumable)
	skipIfUnsupported(t, err)
	require.NoError(t, err)
	require.Equal(t, catalog.ConsumableID, purchase.ProductID())
	require.NotEmpty(t, purchase.Token)
	require.True(t, purchase.State.IsTerminal())

	purchases, err := b.GetPurchases(ctx, billing.KindConsumable)
	require.NoError(t, err)

	var queried *billing.Purchase
	for _, p := range purchases {
		if p.Token == purchase.Token {
			queried = p
		}
	}
	require.NotNil(t, queried)
	require.True(t, purchase.Equal(queried))
}

func testConsumeLifecycle(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	purchase, err := b.Purchase(ctx, catalog.ConsumableID, billing.KindConsumable)
	skipIfUnsupported(t, err)
	require.NoError(t, err)

	consumed, err := b.Consume(ctx, catalog.ConsumableID, purchase.Token)
	skipIfUnsupported(t, err)
	require.NoError(t, err)
	require.Equal(t, purchase.Token, consumed.Token)

	// Consuming removes the entitlement.
	purchases, err := b.GetPurchases(ctx, billing.KindConsumable)
	require.NoError(t, err)
	for _, p := range purchases {
		require.NotEqual(t, purchase.Token, p.Token)
	}
}

func testConsumeNotOwned(t *testing.T, b billing.Biller, catalog Catalog) {
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	_, err := b.Consume(ctx, catalog.ConsumableID, "")
	skipIfUnsupported(t, err)
	require.Error(t, err)
	require.Equal(t, billing.CodeNotOwned, billing.CodeOf(err))
}

func testDisconnectSafe(t *testing.T, b billing.Biller, catalog Catalog) {
	// Disconnecting without connecting must not fail.
	require.NoError(t, b.Disconnect())
	require.NoError(t, b.Disconnect())
}
