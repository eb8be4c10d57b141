// Package playstore implements the unified billing contract over the
// Google Play billing service. The native SDK is consumed through the
// Client seam below, which mirrors the listener-driven shape of the real
// billing client.
package playstore

// ResponseCode mirrors the Play billing service response codes.
type ResponseCode int

const (
	ResponseServiceTimeout      ResponseCode = -3
	ResponseFeatureNotSupported ResponseCode = -2
	ResponseServiceDisconnected ResponseCode = -1
	ResponseOK                  ResponseCode = 0
	ResponseUserCancelled       ResponseCode = 1
	ResponseServiceUnavailable  ResponseCode = 2
	ResponseBillingUnavailable  ResponseCode = 3
	ResponseItemUnavailable     ResponseCode = 4
	ResponseDeveloperError      ResponseCode = 5
	ResponseError               ResponseCode = 6
	ResponseItemAlreadyOwned    ResponseCode = 7
	ResponseItemNotOwned        ResponseCode = 8
)

// Result is the response envelope attached to every billing callback.
type Result struct {
	Code         ResponseCode
	DebugMessage string
}

// Native purchase states.
const (
	PurchaseStateUnspecified = 0
	PurchaseStatePurchased   = 1
	PurchaseStatePending     = 2
)

// Purchase is a purchase record as the billing service reports it.
type Purchase struct {
	Skus                []string
	Token               string
	OrderID             string
	PurchaseTimeMillis  int64
	ExpiryTimeMillis    int64
	PurchaseState       int
	Acknowledged        bool
	AutoRenewing        bool
	Quantity            int
	DeveloperPayload    string
	ObfuscatedAccountID string
	ObfuscatedProfileID string
	OriginalJSON        string
	Signature           string
}

// ProductDetail is a native product descriptor.
type ProductDetail struct {
	SKU         string
	Title       string
	Description string

	Price             string
	PriceAmountMicros int64
	PriceCurrencyCode string

	SubscriptionPeriod string
	FreeTrialPeriod    string

	IntroductoryPrice             string
	IntroductoryPriceAmountMicros int64
	IntroductoryPriceCycles       int
	IntroductoryPricePeriod       string

	// OfferToken is the default base-plan offer for subscriptions.
	OfferToken string

	OriginalPrice             string
	OriginalPriceAmountMicros int64
	IconURL                   string
}

// HistoryRecord is a past purchase without entitlement status.
type HistoryRecord struct {
	Skus               []string
	Token              string
	PurchaseTimeMillis int64
	DeveloperPayload   string
}

// ProrationMode mirrors the Play subscription replacement modes.
type ProrationMode int

const (
	ProrationImmediateWithTimeProration    ProrationMode = 1
	ProrationImmediateAndChargeProratedFee ProrationMode = 2
	ProrationImmediateWithoutProration     ProrationMode = 3
	ProrationDeferred                      ProrationMode = 4
	ProrationImmediateAndChargeFullPrice   ProrationMode = 5
)

// Item kind strings as the billing service spells them.
const (
	SkuTypeInApp = "inapp"
	SkuTypeSubs  = "subs"
)

// FlowParams configures a billing flow launch.
type FlowParams struct {
	Product    ProductDetail
	OfferToken string

	ObfuscatedAccountID string
	ObfuscatedProfileID string
	DeveloperPayload    string

	// OldPurchaseToken and Proration are set for subscription updates only.
	OldPurchaseToken string
	Proration        ProrationMode
}

// ConnectionListener receives connection lifecycle events.
type ConnectionListener interface {
	OnBillingSetupFinished(result Result)
	OnBillingServiceDisconnected()
}

// PurchasesUpdatedListener receives the terminal event of a billing flow,
// and unsolicited purchase updates (e.g. a deferred purchase completing
// out of band).
type PurchasesUpdatedListener interface {
	OnPurchasesUpdated(result Result, purchases []Purchase)
}

// Client is the seam over the native Play billing client. Exactly one
// connection is owned per adapter.
type Client interface {
	// StartConnection begins the handshake. Setup completion and later
	// disconnects arrive on the connection listener; purchase flow results
	// arrive on the purchases listener.
	StartConnection(conn ConnectionListener, purchases PurchasesUpdatedListener)

	IsReady() bool
	EndConnection()

	QueryProductDetails(skuType string, skus []string, onResponse func(Result, []ProductDetail))

	// LaunchBillingFlow starts the purchase UI. The returned result only
	// reports launch problems; the terminal outcome arrives on the
	// purchases listener.
	LaunchBillingFlow(params FlowParams) Result

	QueryPurchases(skuType string, onResponse func(Result, []Purchase))
	QueryPurchaseHistory(skuType string, onResponse func(Result, []HistoryRecord))
	AcknowledgePurchase(token string, onResponse func(Result))
	ConsumePurchase(token string, onResponse func(Result, string))
}
