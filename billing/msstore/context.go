// Package msstore implements the unified billing contract over the
// Microsoft Store. Unlike the mobile stores the native surface is
// request/response, so no callback bridging is involved; the store
// context is consumed through the Context seam below.
package msstore

import (
	"context"
	"time"
)

// PurchaseStatus mirrors the native store purchase statuses.
type PurchaseStatus int

const (
	StatusSucceeded PurchaseStatus = iota
	StatusAlreadyPurchased
	StatusNotPurchased
	StatusNetworkError
	StatusServerError
)

// Native product kind strings.
const (
	ProductKindDurable      = "Durable"
	ProductKindConsumable   = "Consumable"
	ProductKindSubscription = "Subscription"
)

// Listing is an add-on as the store describes it.
type Listing struct {
	StoreID     string
	Title       string
	Description string

	FormattedPrice string
	PriceMicros    int64
	CurrencyCode   string

	Kind string

	InUserCollection bool
	AcquiredDate     time.Time
	ExpirationDate   time.Time
}

// AddOnLicense is the license state of a single add-on.
type AddOnLicense struct {
	SkuStoreID     string
	IsActive       bool
	ExpirationDate time.Time
}

// AppLicense is the license for the app itself plus its add-ons.
type AppLicense struct {
	IsActive      bool
	IsTrial       bool
	AddOnLicenses map[string]AddOnLicense
}

// PurchaseResponse is the outcome of a purchase request.
type PurchaseResponse struct {
	Status        PurchaseStatus
	ExtendedError string
}

// Context is the seam over the native store context.
type Context interface {
	GetAppLicense(ctx context.Context) (AppLicense, error)
	GetAssociatedProducts(ctx context.Context, kinds []string) ([]Listing, error)
	GetUserCollection(ctx context.Context, kinds []string) ([]Listing, error)
	RequestPurchase(ctx context.Context, storeID string) (PurchaseResponse, error)
}
