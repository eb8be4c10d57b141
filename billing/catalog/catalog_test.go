package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/billing"
)

func TestCache_ResolveFetchesOnce(t *testing.T) {
	fetches := 0
	fetch := func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
		fetches++
		return []*billing.Product{
			{ID: ids[0], Kind: kind, MicrosPrice: 990000, CurrencyCode: "USD"},
		}, nil
	}

	c := New(fetch, time.Minute)

	p, err := c.Resolve(context.Background(), "coin_100", billing.KindInApp)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "coin_100", p.ID)
	require.Equal(t, 1, fetches)

	p, err = c.Resolve(context.Background(), "coin_100", billing.KindInApp)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 1, fetches)
}

func TestCache_UnknownSku(t *testing.T) {
	fetch := func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
		return nil, nil
	}

	c := New(fetch, time.Minute)

	p, err := c.Resolve(context.Background(), "missing", billing.KindInApp)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestCache_KindsDoNotCollide(t *testing.T) {
	fetch := func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
		return []*billing.Product{{ID: ids[0], Kind: kind}}, nil
	}

	c := New(fetch, time.Minute)

	inapp, err := c.Resolve(context.Background(), "dual", billing.KindInApp)
	require.NoError(t, err)
	sub, err := c.Resolve(context.Background(), "dual", billing.KindSubscription)
	require.NoError(t, err)

	require.Equal(t, billing.KindInApp, inapp.Kind)
	require.Equal(t, billing.KindSubscription, sub.Kind)
}

func TestCache_PutPrimes(t *testing.T) {
	fetch := func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
		t.Fatal("fetch should not run for primed products")
		return nil, nil
	}

	c := New(fetch, time.Minute)
	c.Put(&billing.Product{ID: "sub_premium", Kind: billing.KindSubscription})

	p, err := c.Resolve(context.Background(), "sub_premium", billing.KindSubscription)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestCache_ResolveCopies(t *testing.T) {
	fetch := func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
		return []*billing.Product{{ID: ids[0], Kind: kind, Name: "original"}}, nil
	}

	c := New(fetch, time.Minute)

	first, err := c.Resolve(context.Background(), "coin_100", billing.KindInApp)
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := c.Resolve(context.Background(), "coin_100", billing.KindInApp)
	require.NoError(t, err)
	require.Equal(t, "original", second.Name)
}
