package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/history"
	"github.com/unibilling/unibilling/query"
)

// RunStoreTests exercises any history.Store implementation.
func RunStoreTests(t *testing.T, s history.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s history.Store){
		testRoundTrip,
		testDuplicate,
		testListByProduct,
		testListPaging,
	} {
		tf(t, s)
		teardown()
	}
}

func purchaseAt(token, productID string, at time.Time) *billing.Purchase {
	return &billing.Purchase{
		ProductIDs:   []string{productID},
		Token:        token,
		OrderID:      "order-" + token,
		PurchasedAt:  at,
		State:        billing.StatePurchased,
		Acknowledged: true,
		Quantity:     1,
	}
}

func testRoundTrip(t *testing.T, s history.Store) {
	ctx := context.Background()

	_, err := s.GetPurchase(ctx, "token-1")
	require.ErrorIs(t, err, history.ErrNotFound)

	purchase := purchaseAt("token-1", "coin_100", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.RecordPurchase(ctx, "playstore", purchase))

	record, err := s.GetPurchase(ctx, "token-1")
	require.NoError(t, err)
	require.Equal(t, "playstore", record.Platform)
	require.True(t, purchase.Equal(record.Purchase))
	require.False(t, record.RecordedAt.IsZero())
}

func testDuplicate(t *testing.T, s history.Store) {
	ctx := context.Background()

	purchase := purchaseAt("token-1", "coin_100", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.RecordPurchase(ctx, "playstore", purchase))
	require.ErrorIs(t, s.RecordPurchase(ctx, "playstore", purchase), history.ErrExists)
}

func testListByProduct(t *testing.T, s history.Store) {
	ctx := context.Background()

	older := purchaseAt("token-1", "coin_100", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := purchaseAt("token-2", "coin_100", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	other := purchaseAt("token-3", "premium_monthly", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.RecordPurchase(ctx, "playstore", older))
	require.NoError(t, s.RecordPurchase(ctx, "playstore", newer))
	require.NoError(t, s.RecordPurchase(ctx, "appstore", other))

	records, err := s.ListByProduct(ctx, "coin_100")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "token-2", records[0].Purchase.Token)
	require.Equal(t, "token-1", records[1].Purchase.Token)

	records, err = s.ListByProduct(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, records)
}

func testListPaging(t *testing.T, s history.Store) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		purchase := purchaseAt(
			fmt.Sprintf("token-%d", i),
			"coin_100",
			time.Date(2024, time.Month(i), 1, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, s.RecordPurchase(ctx, "playstore", purchase))
	}

	records, err := s.ListByProduct(ctx, "coin_100", query.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "token-3", records[0].Purchase.Token)
	require.Equal(t, "token-2", records[1].Purchase.Token)

	records, err = s.ListByProduct(ctx, "coin_100", query.WithLimit(2), query.WithToken("token-2"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "token-1", records[0].Purchase.Token)

	records, err = s.ListByProduct(ctx, "coin_100", query.WithAscending())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "token-1", records[0].Purchase.Token)
	require.Equal(t, "token-3", records[2].Purchase.Token)
}
