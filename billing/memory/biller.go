// Package memory provides an in-memory billing backend for tests and
// local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unibilling/unibilling/billing"
)

// Platform identifies this backend in history records.
const Platform = "memory"

type ownedPurchase struct {
	purchase *billing.Purchase
	kind     billing.ItemKind
}

// Biller is an in-memory billing.Biller. Purchases succeed immediately
// and come back acknowledged; entitlements live until consumed.
type Biller struct {
	mu        sync.RWMutex
	connected bool
	products  map[string]*billing.Product
	owned     map[string]*ownedPurchase
	history   []*ownedPurchase
}

var _ billing.Biller = (*Biller)(nil)

func NewBiller() *Biller {
	return &Biller{
		products: make(map[string]*billing.Product),
		owned:    make(map[string]*ownedPurchase),
	}
}

// SeedProducts loads the catalog served by GetProducts.
func (b *Biller) SeedProducts(products ...*billing.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, product := range products {
		clone := *product
		b.products[productKey(product.ID, product.Kind)] = &clone
	}
}

func productKey(id string, kind billing.ItemKind) string {
	return kind.String() + "/" + id
}

func (b *Biller) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Biller) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Biller) requireConnected() error {
	if !b.connected {
		return billing.NewError(billing.CodeServiceDisconnected, "billing client is not connected")
	}
	return nil
}

func (b *Biller) GetProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	products := make([]*billing.Product, 0, len(ids))
	for _, id := range ids {
		if product, ok := b.products[productKey(id, kind)]; ok {
			clone := *product
			products = append(products, &clone)
		}
	}
	return products, nil
}

func (b *Biller) Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	options := billing.ApplyPurchaseOptions(opts...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	if _, ok := b.products[productKey(productID, kind)]; !ok {
		return nil, billing.Errorf(billing.CodeInvalidProduct, "product %q not found in catalog", productID)
	}

	if kind != billing.KindConsumable {
		for _, record := range b.owned {
			if record.purchase.ProductID() == productID {
				return &billing.Purchase{
					ProductIDs: []string{productID},
					State:      billing.StateAlreadyOwned,
					Quantity:   1,
				}, nil
			}
		}
	}

	purchase := &billing.Purchase{
		ProductIDs:          []string{productID},
		Token:               uuid.NewString(),
		OrderID:             "order-" + uuid.NewString(),
		PurchasedAt:         time.Now().UTC(),
		State:               billing.StatePurchased,
		Acknowledged:        true,
		Quantity:            1,
		Payload:             options.Payload,
		ObfuscatedAccountID: options.ObfuscatedAccountID,
		ObfuscatedProfileID: options.ObfuscatedProfileID,
	}

	record := &ownedPurchase{purchase: purchase, kind: kind}
	b.owned[purchase.Token] = record
	b.history = append(b.history, record)

	return purchase.Clone(), nil
}

func (b *Biller) GetPurchases(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	var purchases []*billing.Purchase
	for _, record := range b.owned {
		if record.kind == kind {
			purchases = append(purchases, record.purchase.Clone())
		}
	}
	return purchases, nil
}

func (b *Biller) GetPurchaseHistory(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	var purchases []*billing.Purchase
	for _, record := range b.history {
		if record.kind == kind {
			purchases = append(purchases, record.purchase.Clone())
		}
	}
	return purchases, nil
}

func (b *Biller) Consume(ctx context.Context, productID, token string) (*billing.Purchase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	if token == "" {
		var candidates []*billing.Purchase
		for _, record := range b.owned {
			candidates = append(candidates, record.purchase)
		}
		resolved := billing.MostRecentConsumable(candidates, productID)
		if resolved == nil {
			return nil, billing.Errorf(billing.CodeNotOwned, "no unconsumed purchase of %q found", productID)
		}
		token = resolved.Token
	}

	record, ok := b.owned[token]
	if !ok {
		return nil, billing.Errorf(billing.CodeNotOwned, "purchase %q not found", token)
	}

	delete(b.owned, token)
	return record.purchase.Clone(), nil
}

func (b *Biller) Acknowledge(ctx context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireConnected(); err != nil {
		return err
	}

	record, ok := b.owned[token]
	if !ok {
		return billing.Errorf(billing.CodeNotOwned, "purchase %q not found", token)
	}
	record.purchase.Acknowledged = true
	return nil
}

func (b *Biller) UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	record, ok := b.owned[oldToken]
	if !ok || record.kind != billing.KindSubscription {
		return nil, billing.Errorf(billing.CodeNotOwned, "subscription %q not found", oldToken)
	}
	if _, ok := b.products[productKey(newProductID, billing.KindSubscription)]; !ok {
		return nil, billing.Errorf(billing.CodeInvalidProduct, "subscription %q not found in catalog", newProductID)
	}

	delete(b.owned, oldToken)

	purchase := &billing.Purchase{
		ProductIDs:   []string{newProductID},
		Token:        uuid.NewString(),
		OrderID:      "order-" + uuid.NewString(),
		PurchasedAt:  time.Now().UTC(),
		State:        billing.StatePurchased,
		Acknowledged: true,
		AutoRenewing: true,
		Quantity:     1,
	}

	replaced := &ownedPurchase{purchase: purchase, kind: billing.KindSubscription}
	b.owned[purchase.Token] = replaced
	b.history = append(b.history, replaced)

	return purchase.Clone(), nil
}
