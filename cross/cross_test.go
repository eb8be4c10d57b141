package cross

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/billing/memory"
	historymemory "github.com/unibilling/unibilling/history/memory"
)

func seededBiller() *memory.Biller {
	b := memory.NewBiller()
	b.SeedProducts(&billing.Product{
		ID:           "coin_100",
		Name:         "100 Coins",
		MicrosPrice:  990000,
		CurrencyCode: "USD",
		Kind:         billing.KindConsumable,
	})
	return b
}

func TestUnsupportedPlatform(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	require.False(t, IsSupported())

	err := Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, billing.CodeNotSupportedOnPlatform, billing.CodeOf(err))

	_, err = Purchase(context.Background(), "coin_100", billing.KindConsumable)
	require.Equal(t, billing.CodeNotSupportedOnPlatform, billing.CodeOf(err))
}

func TestFactoryInvokedOnce(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var calls int
	SetFactory(func() (billing.Biller, error) {
		calls++
		return seededBiller(), nil
	})
	require.True(t, IsSupported())

	first, err := Current()
	require.NoError(t, err)
	second, err := Current()
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestSetFactoryReplacesInstance(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetFactory(func() (billing.Biller, error) {
		return seededBiller(), nil
	})
	first, err := Current()
	require.NoError(t, err)

	SetFactory(func() (billing.Biller, error) {
		return seededBiller(), nil
	})
	second, err := Current()
	require.NoError(t, err)
	require.NotSame(t, first, second)
}

func TestForwardsToBackend(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetFactory(func() (billing.Biller, error) {
		return seededBiller(), nil
	})

	ctx := context.Background()
	require.NoError(t, Connect(ctx))

	products, err := GetProducts(ctx, []string{"coin_100"}, billing.KindConsumable)
	require.NoError(t, err)
	require.Len(t, products, 1)

	purchase, err := Purchase(ctx, "coin_100", billing.KindConsumable)
	require.NoError(t, err)
	require.Equal(t, billing.StatePurchased, purchase.State)

	owned, err := GetPurchases(ctx, billing.KindConsumable)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	consumed, err := Consume(ctx, "coin_100", purchase.Token)
	require.NoError(t, err)
	require.Equal(t, purchase.Token, consumed.Token)

	require.NoError(t, Disconnect())
}

func TestHasActiveSubscription(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	SetFactory(func() (billing.Biller, error) {
		b := memory.NewBiller()
		b.SeedProducts(&billing.Product{
			ID:           "premium_monthly",
			Name:         "Premium",
			MicrosPrice:  4990000,
			CurrencyCode: "USD",
			Kind:         billing.KindSubscription,
		})
		return b, nil
	})

	ctx := context.Background()
	require.NoError(t, Connect(ctx))

	active, err := HasActiveSubscription(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)
	require.False(t, active)

	_, err = Purchase(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)

	active, err = HasActiveSubscription(ctx, "premium_monthly", billing.KindSubscription)
	require.NoError(t, err)
	require.True(t, active)
}

func TestWithHistoryRecordsPurchases(t *testing.T) {
	store := historymemory.NewInMemory()
	b := WithHistory(zap.NewNop(), seededBiller(), store, "memory")

	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	purchase, err := b.Purchase(ctx, "coin_100", billing.KindConsumable)
	require.NoError(t, err)

	record, err := store.GetPurchase(ctx, purchase.Token)
	require.NoError(t, err)
	require.Equal(t, "memory", record.Platform)
	require.True(t, purchase.Equal(record.Purchase))
}

func TestWithHistorySkipsNonSettled(t *testing.T) {
	store := historymemory.NewInMemory()
	inner := seededBiller()
	b := WithHistory(zap.NewNop(), inner, store, "memory")

	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	_, err := b.Purchase(ctx, "not.a.product", billing.KindConsumable)
	require.Error(t, err)

	records, err := store.ListByProduct(ctx, "not.a.product")
	require.NoError(t, err)
	require.Empty(t, records)
}
