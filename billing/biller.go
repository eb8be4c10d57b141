package billing

import (
	"context"
	"time"
)

// Biller is the unified contract over a store's billing backend. One
// implementation exists per store; the cross package selects the active one.
//
// Every operation auto-connects when the native connection is not ready, and
// either returns a canonical value or fails with a *billing.Error.
type Biller interface {
	// Connect establishes the store service connection. Idempotent: when
	// already connected it returns immediately without re-issuing the
	// native handshake.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection handle. Always succeeds and is
	// safe to call when not connected.
	Disconnect() error

	// GetProducts resolves the requested ids into normalized products.
	// Skus the store does not know are dropped from the result, not errored.
	GetProducts(ctx context.Context, ids []string, kind ItemKind) ([]*Product, error)

	// Purchase launches the native purchase flow for a product and awaits
	// exactly one terminal outcome. "Already owned" surfaces as a result in
	// StateAlreadyOwned or StateRestored, not as an error.
	Purchase(ctx context.Context, productID string, kind ItemKind, opts ...PurchaseOption) (*Purchase, error)

	// GetPurchases returns the current entitlement set for the item kind.
	// Purchases observed purchased-but-unacknowledged are settled first;
	// ones whose acknowledgment fails are reported as StateNotAcknowledged.
	GetPurchases(ctx context.Context, kind ItemKind) ([]*Purchase, error)

	// GetPurchaseHistory returns past purchases without entitlement status,
	// on stores that expose a history query.
	GetPurchaseHistory(ctx context.Context, kind ItemKind) ([]*Purchase, error)

	// Consume marks a consumable purchase as consumed. When token is empty
	// the most recent unconsumed purchase of productID is selected; if none
	// exists the call fails with CodeNotOwned.
	Consume(ctx context.Context, productID, token string) (*Purchase, error)

	// Acknowledge confirms delivery of a purchase to the store.
	Acknowledge(ctx context.Context, token string) error

	// UpdateSubscription upgrades or downgrades an active subscription,
	// on stores that support proration.
	UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration Proration) (*Purchase, error)
}

// PurchaseOption configures an individual purchase flow.
type PurchaseOption func(*PurchaseOptions)

// PurchaseOptions are the caller-supplied knobs for Purchase.
type PurchaseOptions struct {
	// Payload is an optional developer payload echoed back on the purchase.
	Payload string

	// ObfuscatedAccountID and ObfuscatedProfileID associate the purchase
	// with the caller's account/profile without exposing raw identifiers.
	ObfuscatedAccountID string
	ObfuscatedProfileID string

	// OfferToken selects a specific subscription offer. When empty the
	// adapter picks the product's default offer.
	OfferToken string
}

func WithPayload(payload string) PurchaseOption {
	return func(o *PurchaseOptions) {
		o.Payload = payload
	}
}

func WithObfuscatedAccountID(id string) PurchaseOption {
	return func(o *PurchaseOptions) {
		o.ObfuscatedAccountID = id
	}
}

func WithObfuscatedProfileID(id string) PurchaseOption {
	return func(o *PurchaseOptions) {
		o.ObfuscatedProfileID = id
	}
}

func WithOfferToken(token string) PurchaseOption {
	return func(o *PurchaseOptions) {
		o.OfferToken = token
	}
}

// ApplyPurchaseOptions folds options into their resolved form.
func ApplyPurchaseOptions(opts ...PurchaseOption) PurchaseOptions {
	var applied PurchaseOptions
	for _, opt := range opts {
		opt(&applied)
	}
	return applied
}

// HasActiveSubscription reports whether the entitlement set contains an
// acknowledged, non-expired purchase of the given product. Shared across
// adapters; stores do not expose a dedicated query for this.
func HasActiveSubscription(ctx context.Context, b Biller, productID string, kind ItemKind) (bool, error) {
	purchases, err := b.GetPurchases(ctx, kind)
	if err != nil {
		return false, err
	}

	now := time.Now()
	for _, p := range purchases {
		if !p.Acknowledged {
			continue
		}
		if p.State != StatePurchased && p.State != StateRestored {
			continue
		}
		if !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now) {
			continue
		}
		for _, id := range p.ProductIDs {
			if id == productID {
				return true, nil
			}
		}
	}
	return false, nil
}
