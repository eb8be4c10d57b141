package msstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
)

// Platform identifies this backend in history records.
const Platform = "msstore"

// Adapter implements billing.Biller over the Microsoft Store context.
//
// The store settles entitlements itself, so there is no acknowledgment or
// consumption protocol and purchases come back already acknowledged.
type Adapter struct {
	log   *zap.Logger
	store Context

	mu        sync.Mutex
	connected bool
}

var _ billing.Biller = (*Adapter)(nil)

func New(log *zap.Logger, store Context) *Adapter {
	return &Adapter{
		log:   log,
		store: store,
	}
}

// Connect verifies the app holds an active store license.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	license, err := a.store.GetAppLicense(ctx)
	if err != nil {
		return billing.WrapError(billing.CodeServiceUnavailable, err, "failed to load app license")
	}
	if !license.IsActive {
		return billing.NewError(billing.CodeBillingUnavailable, "app license is not active")
	}

	a.connected = true
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	listings, err := a.store.GetAssociatedProducts(ctx, productKinds(kind))
	if err != nil {
		return nil, billing.WrapError(billing.CodeProductRequestFailed, err, "failed to load associated products")
	}

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	products := make([]*billing.Product, 0, len(listings))
	for _, listing := range listings {
		if !requested[listing.StoreID] {
			continue
		}
		products = append(products, productFromListing(listing, kind))
	}
	return products, nil
}

func (a *Adapter) Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	response, err := a.store.RequestPurchase(ctx, productID)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "purchase request failed")
	}

	purchase := &billing.Purchase{
		ProductIDs:   []string{productID},
		Token:        productID,
		Acknowledged: true,
		Quantity:     1,
	}

	switch response.Status {
	case StatusSucceeded:
		purchase.State = billing.StatePurchased
		return purchase, nil
	case StatusAlreadyPurchased:
		purchase.State = billing.StateAlreadyOwned
		return purchase, nil
	case StatusNotPurchased:
		// The user backed out of the purchase dialog.
		purchase.State = billing.StateCancelled
		purchase.Acknowledged = false
		return purchase, nil
	case StatusNetworkError:
		return nil, billing.Errorf(billing.CodeServiceUnavailable, "store network error: %s", response.ExtendedError)
	default:
		return nil, billing.Errorf(billing.CodeGeneralError, "store server error: %s", response.ExtendedError)
	}
}

// GetPurchases reports the add-ons in the user's collection.
func (a *Adapter) GetPurchases(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	listings, err := a.store.GetUserCollection(ctx, productKinds(kind))
	if err != nil {
		return nil, billing.WrapError(billing.CodeRestoreFailed, err, "failed to load user collection")
	}

	purchases := make([]*billing.Purchase, 0, len(listings))
	for _, listing := range listings {
		if !listing.InUserCollection {
			continue
		}
		purchases = append(purchases, purchaseFromListing(listing))
	}
	return purchases, nil
}

// GetPurchaseHistory is the user collection on this store; expired
// entitlements stay in it.
func (a *Adapter) GetPurchaseHistory(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	return a.GetPurchases(ctx, kind)
}

// Consume is not exposed by the store context; consumable fulfillment is
// reported through the store's own service APIs.
func (a *Adapter) Consume(ctx context.Context, productID, token string) (*billing.Purchase, error) {
	return nil, billing.NewError(billing.CodeFeatureNotSupported, "consumable fulfillment is not available through the store context")
}

// Acknowledge is not part of this store's protocol.
func (a *Adapter) Acknowledge(ctx context.Context, token string) error {
	return billing.NewError(billing.CodeFeatureNotSupported, "this store has no acknowledgment protocol")
}

// UpdateSubscription is managed by the store UI.
func (a *Adapter) UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	return nil, billing.NewError(billing.CodeFeatureNotSupported, "subscription changes are managed by the store")
}

// productKinds maps an item kind onto the native kind filter.
func productKinds(kind billing.ItemKind) []string {
	switch kind {
	case billing.KindSubscription:
		return []string{ProductKindSubscription, ProductKindDurable}
	case billing.KindConsumable:
		return []string{ProductKindConsumable}
	default:
		return []string{ProductKindDurable, ProductKindConsumable}
	}
}

func productFromListing(listing Listing, kind billing.ItemKind) *billing.Product {
	localized := listing.FormattedPrice
	if localized == "" {
		localized = billing.FormatPrice(listing.PriceMicros, listing.CurrencyCode)
	}

	return &billing.Product{
		ID:             listing.StoreID,
		Name:           listing.Title,
		Description:    listing.Description,
		LocalizedPrice: localized,
		MicrosPrice:    listing.PriceMicros,
		CurrencyCode:   listing.CurrencyCode,
		Kind:           kind,
		Extra:          listing,
	}
}

func purchaseFromListing(listing Listing) *billing.Purchase {
	p := &billing.Purchase{
		ProductIDs:   []string{listing.StoreID},
		Token:        listing.StoreID,
		State:        billing.StatePurchased,
		Acknowledged: true,
		Quantity:     1,
	}
	if !listing.AcquiredDate.IsZero() {
		p.PurchasedAt = listing.AcquiredDate.UTC()
	}
	if !listing.ExpirationDate.IsZero() {
		p.ExpiresAt = listing.ExpirationDate.UTC()
	}
	return p
}
