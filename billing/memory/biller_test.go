package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/billing"
	billingtests "github.com/unibilling/unibilling/billing/tests"
)

func seededBiller() (*Biller, billingtests.Catalog) {
	b := NewBiller()
	b.SeedProducts(
		&billing.Product{
			ID:             "coin_100",
			Name:           "100 Coins",
			LocalizedPrice: "0.99 USD",
			MicrosPrice:    990000,
			CurrencyCode:   "USD",
			Kind:           billing.KindConsumable,
		},
		&billing.Product{
			ID:             "premium_monthly",
			Name:           "Premium",
			LocalizedPrice: "4.99 USD",
			MicrosPrice:    4990000,
			CurrencyCode:   "USD",
			Kind:           billing.KindSubscription,
		},
	)
	return b, billingtests.Catalog{
		ConsumableID:   "coin_100",
		SubscriptionID: "premium_monthly",
	}
}

func TestMemoryBiller(t *testing.T) {
	billingtests.RunBillerTests(t, func(t *testing.T) (billing.Biller, billingtests.Catalog, func()) {
		b, catalog := seededBiller()
		return b, catalog, func() {}
	})
}

func TestPurchaseRequiresConnection(t *testing.T) {
	b, _ := seededBiller()

	_, err := b.Purchase(context.Background(), "coin_100", billing.KindConsumable)
	require.Error(t, err)
	require.Equal(t, billing.CodeServiceDisconnected, billing.CodeOf(err))
}

func TestDurableAlreadyOwned(t *testing.T) {
	b, _ := seededBiller()
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	first, err := b.Purchase(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)
	require.Equal(t, billing.StatePurchased, first.State)

	second, err := b.Purchase(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)
	require.Equal(t, billing.StateAlreadyOwned, second.State)
}

func TestConsumableRepurchase(t *testing.T) {
	b, _ := seededBiller()
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	first, err := b.Purchase(ctx, "coin_100", billing.KindConsumable)
	require.NoError(t, err)
	second, err := b.Purchase(ctx, "coin_100", billing.KindConsumable)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	purchases, err := b.GetPurchases(ctx, billing.KindConsumable)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
}

func TestUpdateSubscription(t *testing.T) {
	b, _ := seededBiller()
	b.SeedProducts(&billing.Product{
		ID:   "premium_annual",
		Kind: billing.KindSubscription,
	})
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	original, err := b.Purchase(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)

	updated, err := b.UpdateSubscription(ctx, original.Token, "premium_annual", billing.ProrationImmediateWithTimeProration)
	require.NoError(t, err)
	require.Equal(t, "premium_annual", updated.ProductID())
	require.True(t, updated.AutoRenewing)

	purchases, err := b.GetPurchases(ctx, billing.KindSubscription)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, updated.Token, purchases[0].Token)
}

func TestHistorySurvivesConsume(t *testing.T) {
	b, _ := seededBiller()
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	purchase, err := b.Purchase(ctx, "coin_100", billing.KindConsumable)
	require.NoError(t, err)
	_, err = b.Consume(ctx, "coin_100", purchase.Token)
	require.NoError(t, err)

	history, err := b.GetPurchaseHistory(ctx, billing.KindConsumable)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, purchase.Token, history[0].Token)
}
