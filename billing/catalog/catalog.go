// Package catalog provides a read-through resolver for store product
// descriptors, so a purchase flow does not re-issue a native batch query
// for a product fetched moments earlier.
//
// The resolved product is always returned as a value to be threaded into
// the purchase call; nothing here is implicit per-adapter state.
package catalog

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/unibilling/unibilling/billing"
)

// FetchFunc issues the native batch product query.
type FetchFunc func(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error)

// Cache caches normalized products by (kind, id) with a TTL.
type Cache struct {
	fetch FetchFunc
	cache *ttlcache.Cache
}

func New(fetch FetchFunc, ttl time.Duration) *Cache {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Cache{
		fetch: fetch,
		cache: cache,
	}
}

// Resolve returns the product for id, fetching it when not cached.
// A nil product with nil error means the store does not know the sku.
func (c *Cache) Resolve(ctx context.Context, id string, kind billing.ItemKind) (*billing.Product, error) {
	if cached, ok := c.cache.Get(cacheKey(id, kind)); ok {
		p := cached.(billing.Product)
		return &p, nil
	}

	products, err := c.fetch(ctx, []string{id}, kind)
	if err != nil {
		return nil, err
	}

	c.Put(products...)

	for _, p := range products {
		if p.ID == id {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

// Put primes the cache with already-fetched products, typically the result
// of a caller's GetProducts batch.
func (c *Cache) Put(products ...*billing.Product) {
	for _, p := range products {
		if p == nil {
			continue
		}
		c.cache.Set(cacheKey(p.ID, p.Kind), *p)
	}
}

// Purge drops every cached product.
func (c *Cache) Purge() {
	c.cache.Purge()
}

func cacheKey(id string, kind billing.ItemKind) string {
	return kind.String() + "/" + id
}
