package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind is the store-catalog category of a purchasable item.
type ItemKind uint8

const (
	KindUnknown ItemKind = iota

	// KindInApp is a one-time managed purchase.
	KindInApp

	// KindSubscription is an auto-renewing subscription.
	KindSubscription

	// KindConsumable is a purchase that can be bought again after being
	// marked consumed.
	KindConsumable
)

func (k ItemKind) String() string {
	switch k {
	case KindInApp:
		return "inapp"
	case KindSubscription:
		return "subscription"
	case KindConsumable:
		return "consumable"
	default:
		return "unknown"
	}
}

// PurchaseState is the canonical state of a purchase across every backend.
// Each store's native vocabulary maps onto a strict subset of these.
type PurchaseState uint8

const (
	StateUnspecified PurchaseState = iota
	StatePurchased
	StatePending
	StateFailed
	StateCancelled
	StateNotAcknowledged
	StateRestored
	StateRefunded
	StatePurchasing
	StateFreeTrial
	StatePaymentPending
	StateAlreadyOwned
	StateInsufficientQuantity
	StateDeferred
	StateServerError
	StateUnknown
)

func (s PurchaseState) String() string {
	switch s {
	case StateUnspecified:
		return "unspecified"
	case StatePurchased:
		return "purchased"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateNotAcknowledged:
		return "not_acknowledged"
	case StateRestored:
		return "restored"
	case StateRefunded:
		return "refunded"
	case StatePurchasing:
		return "purchasing"
	case StateFreeTrial:
		return "free_trial"
	case StatePaymentPending:
		return "payment_pending"
	case StateAlreadyOwned:
		return "already_owned"
	case StateInsufficientQuantity:
		return "insufficient_quantity"
	case StateDeferred:
		return "deferred"
	case StateServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state ends a purchase attempt.
func (s PurchaseState) IsTerminal() bool {
	switch s {
	case StatePurchasing, StatePending, StatePaymentPending, StateDeferred:
		return false
	default:
		return true
	}
}

// Proration governs how switching subscription tiers affects billing
// timing and amount.
type Proration uint8

const (
	// ProrationImmediateWithTimeProration upgrades immediately; remaining
	// time is credited by pushing forward the next billing date.
	ProrationImmediateWithTimeProration Proration = iota

	// ProrationImmediateChargeProratedPrice upgrades immediately and charges
	// the prorated price difference for the remaining period.
	ProrationImmediateChargeProratedPrice

	// ProrationImmediateWithoutProration upgrades immediately; the new price
	// is charged at the next renewal.
	ProrationImmediateWithoutProration

	// ProrationDeferred applies the change only when the subscription renews.
	ProrationDeferred

	// ProrationImmediateChargeFullPrice upgrades immediately and charges the
	// full new price.
	ProrationImmediateChargeFullPrice
)

// PeriodUnit is the increment a subscription period is measured in.
type PeriodUnit uint8

const (
	PeriodUnitUnknown PeriodUnit = iota
	PeriodUnitDay
	PeriodUnitWeek
	PeriodUnitMonth
	PeriodUnitYear
)

func (u PeriodUnit) String() string {
	switch u {
	case PeriodUnitDay:
		return "day"
	case PeriodUnitWeek:
		return "week"
	case PeriodUnitMonth:
		return "month"
	case PeriodUnitYear:
		return "year"
	default:
		return "unknown"
	}
}

// SubscriptionPeriod is a subscription billing period duration.
type SubscriptionPeriod struct {
	Count int
	Unit  PeriodUnit
}

// ParsePeriod decodes the "P<n><unit>" subset of ISO 8601 durations the
// stores emit for billing periods, e.g. "P1M", "P7D", "P1Y". Anything
// else comes back zero.
func ParsePeriod(period string) SubscriptionPeriod {
	if len(period) < 3 || period[0] != 'P' {
		return SubscriptionPeriod{}
	}

	count := 0
	for _, r := range period[1 : len(period)-1] {
		if r < '0' || r > '9' {
			return SubscriptionPeriod{}
		}
		count = count*10 + int(r-'0')
	}

	var unit PeriodUnit
	switch period[len(period)-1] {
	case 'D':
		unit = PeriodUnitDay
	case 'W':
		unit = PeriodUnitWeek
	case 'M':
		unit = PeriodUnitMonth
	case 'Y':
		unit = PeriodUnitYear
	default:
		return SubscriptionPeriod{}
	}

	return SubscriptionPeriod{Count: count, Unit: unit}
}

// PaymentMode is how a discount offer is paid.
type PaymentMode uint8

const (
	PaymentModeUnknown PaymentMode = iota
	PaymentModeFreeTrial
	PaymentModePayUpFront
	PaymentModePayAsYouGo
)

// Discount is an introductory or promotional offer attached to a product.
type Discount struct {
	ID              string
	PaymentMode     PaymentMode
	NumberOfPeriods int
	Period          SubscriptionPeriod

	// LocalizedPrice and MicrosPrice describe the discounted price.
	LocalizedPrice string
	MicrosPrice    int64
}

// Product is an item offered for sale, normalized from a store response.
// Immutable once constructed; lifecycle is query-scoped.
type Product struct {
	ID          string
	Name        string
	Description string

	// LocalizedPrice is the formatted price including currency sign.
	LocalizedPrice string

	// MicrosPrice is the price in micro-units: 1,000,000 micro-units equal
	// one unit of the currency.
	MicrosPrice int64

	// CurrencyCode is the ISO 4217 currency code, e.g. "USD".
	CurrencyCode string

	Kind ItemKind

	// Introductory is the intro offer, if the store reported one.
	Introductory *Discount

	// SubscriptionPeriod and FreeTrialPeriod are ISO 8601 period strings.
	SubscriptionPeriod string
	FreeTrialPeriod    string

	// OfferToken identifies the default offer/plan to use when purchasing a
	// subscription, on stores that require one.
	OfferToken string

	// Extra carries store-specific product fields the canonical model does
	// not cover. Typed by the adapter that produced it.
	Extra any
}

// FormatPrice renders a plain fallback price string from micro-units when
// the store does not supply a localized one.
func FormatPrice(micros int64, currency string) string {
	price := decimal.New(micros, -6).Round(2)
	if currency == "" {
		return price.StringFixed(2)
	}
	return price.StringFixed(2) + " " + currency
}

// Purchase is a record of a completed or in-flight transaction.
type Purchase struct {
	// ProductIDs are the store skus covered by this purchase. Most
	// purchases cover exactly one.
	ProductIDs []string

	// Token is the opaque purchase/transaction token used for consumption
	// and acknowledgment.
	Token string

	// OrderID is the store's order/transaction identifier.
	OrderID string

	PurchasedAt time.Time

	// ExpiresAt is set for subscriptions only.
	ExpiresAt time.Time

	State        PurchaseState
	Acknowledged bool
	AutoRenewing bool
	Quantity     int

	// Payload is the developer-supplied payload, if any.
	Payload string

	ObfuscatedAccountID string
	ObfuscatedProfileID string

	// RawPayload and Signature are the backend's original response data,
	// kept for external verification.
	RawPayload string
	Signature  string
}

// ProductID returns the primary product id of the purchase.
func (p *Purchase) ProductID() string {
	if len(p.ProductIDs) == 0 {
		return ""
	}
	return p.ProductIDs[0]
}

// Equal reports whether two purchases are the same under canonical
// equality: order id, product ids, token, state, payload, obfuscated
// account/profile ids, and quantity. Timestamps are excluded since
// backends normalize them differently.
func (p *Purchase) Equal(o *Purchase) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.OrderID != o.OrderID ||
		p.Token != o.Token ||
		p.State != o.State ||
		p.Payload != o.Payload ||
		p.ObfuscatedAccountID != o.ObfuscatedAccountID ||
		p.ObfuscatedProfileID != o.ObfuscatedProfileID ||
		p.Quantity != o.Quantity {
		return false
	}
	if len(p.ProductIDs) != len(o.ProductIDs) {
		return false
	}
	for i := range p.ProductIDs {
		if p.ProductIDs[i] != o.ProductIDs[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the purchase.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	out := *p
	out.ProductIDs = append([]string(nil), p.ProductIDs...)
	return &out
}

// MostRecentConsumable selects the purchase to consume when only a product
// id is given: the most recent unconsumed purchase of that id, ties broken
// by order id. Returns nil if the product has no consumable purchase.
func MostRecentConsumable(purchases []*Purchase, productID string) *Purchase {
	var candidates []*Purchase
	for _, p := range purchases {
		if p == nil {
			continue
		}
		for _, id := range p.ProductIDs {
			if id == productID {
				candidates = append(candidates, p)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].PurchasedAt.Equal(candidates[j].PurchasedAt) {
			return candidates[i].PurchasedAt.After(candidates[j].PurchasedAt)
		}
		return candidates[i].OrderID > candidates[j].OrderID
	})
	return candidates[0]
}
