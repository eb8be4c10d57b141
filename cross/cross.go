// Package cross exposes a process-wide billing entry point. The platform
// wiring registers a factory for its backend once at startup; everything
// else purchases through the package-level operations without caring
// which store is underneath.
package cross

import (
	"context"
	"sync"

	"github.com/unibilling/unibilling/billing"
)

// Factory builds the backend for the current platform. It is invoked
// lazily, on the first operation that needs the backend.
type Factory func() (billing.Biller, error)

var (
	mu       sync.Mutex
	factory  Factory
	instance billing.Biller
)

// SetFactory registers the backend factory and drops any previously built
// instance.
func SetFactory(f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
	instance = nil
}

// Reset unregisters the factory and the instance.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	factory = nil
	instance = nil
}

// IsSupported reports whether a backend is registered for this platform.
func IsSupported() bool {
	mu.Lock()
	defer mu.Unlock()
	return factory != nil
}

// Current returns the backend, building it on first use.
func Current() (billing.Biller, error) {
	mu.Lock()
	defer mu.Unlock()
	return currentLocked()
}

func currentLocked() (billing.Biller, error) {
	if instance != nil {
		return instance, nil
	}
	if factory == nil {
		return nil, billing.NewError(billing.CodeNotSupportedOnPlatform, "no billing backend is registered for this platform")
	}

	built, err := factory()
	if err != nil {
		return nil, err
	}
	instance = built
	return instance, nil
}

func Connect(ctx context.Context) error {
	b, err := Current()
	if err != nil {
		return err
	}
	return b.Connect(ctx)
}

func Disconnect() error {
	b, err := Current()
	if err != nil {
		return err
	}
	return b.Disconnect()
}

func GetProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.GetProducts(ctx, ids, kind)
}

func Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.Purchase(ctx, productID, kind, opts...)
}

func GetPurchases(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.GetPurchases(ctx, kind)
}

func GetPurchaseHistory(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.GetPurchaseHistory(ctx, kind)
}

func Consume(ctx context.Context, productID, token string) (*billing.Purchase, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.Consume(ctx, productID, token)
}

func Acknowledge(ctx context.Context, token string) error {
	b, err := Current()
	if err != nil {
		return err
	}
	return b.Acknowledge(ctx, token)
}

func UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	b, err := Current()
	if err != nil {
		return nil, err
	}
	return b.UpdateSubscription(ctx, oldToken, newProductID, proration)
}

func HasActiveSubscription(ctx context.Context, productID string, kind billing.ItemKind) (bool, error) {
	b, err := Current()
	if err != nil {
		return false, err
	}
	return billing.HasActiveSubscription(ctx, b, productID, kind)
}
