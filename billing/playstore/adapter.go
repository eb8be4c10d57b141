package playstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/billing/catalog"
	"github.com/unibilling/unibilling/billing/pending"
	"github.com/unibilling/unibilling/billing/settle"
	"github.com/unibilling/unibilling/event"
	"github.com/unibilling/unibilling/receipt"
)

// Platform identifies this backend in history records and update events.
const Platform = "playstore"

const (
	connectKey  = "connect"
	purchaseKey = "purchase"

	defaultCatalogTTL = 5 * time.Minute
)

type config struct {
	verifier       receipt.Verifier
	purchasePolicy pending.Policy
	catalogTTL     time.Duration
	updates        *event.PurchaseBus
}

type Option func(*config)

// WithVerifier enables server-side receipt verification before purchases
// are acknowledged.
func WithVerifier(v receipt.Verifier) Option {
	return func(c *config) {
		c.verifier = v
	}
}

// WithPurchasePolicy selects what happens when a purchase is launched
// while another is still awaiting its native result. The default rejects
// the second call.
func WithPurchasePolicy(p pending.Policy) Option {
	return func(c *config) {
		c.purchasePolicy = p
	}
}

// WithCatalogTTL overrides how long resolved product descriptors are kept.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.catalogTTL = ttl
	}
}

// WithUpdateBus publishes purchase updates that arrive outside any
// launched flow, e.g. a pending purchase completing out of band.
func WithUpdateBus(bus *event.PurchaseBus) Option {
	return func(c *config) {
		c.updates = bus
	}
}

type purchaseEvent struct {
	result    Result
	purchases []Purchase
}

// Adapter implements billing.Biller over the Play billing service.
//
// The adapter owns the single native connection and all pending-operation
// state; operations of different kinds use distinct keys and may run
// concurrently, while purchase flows are serialized by the native UI.
type Adapter struct {
	log     *zap.Logger
	client  Client
	updates *event.PurchaseBus

	settler *settle.Settler
	catalog *catalog.Cache

	connectOps  *pending.Registry[struct{}]
	purchaseOps *pending.Registry[purchaseEvent]
	productOps  *pending.Registry[[]ProductDetail]
	queryOps    *pending.Registry[[]Purchase]
	historyOps  *pending.Registry[[]HistoryRecord]
	ackOps      *pending.Registry[struct{}]
	consumeOps  *pending.Registry[string]

	// connMu serializes the native handshake; mu guards connected.
	connMu    sync.Mutex
	mu        sync.Mutex
	connected bool
}

var _ billing.Biller = (*Adapter)(nil)

func New(log *zap.Logger, client Client, opts ...Option) *Adapter {
	cfg := config{
		purchasePolicy: pending.PolicyReject,
		catalogTTL:     defaultCatalogTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Adapter{
		log:     log,
		client:  client,
		updates: cfg.updates,

		// PolicyReplace lets a retried handshake supersede one whose
		// caller gave up waiting.
		connectOps:  pending.NewRegistry[struct{}](pending.PolicyReplace),
		purchaseOps: pending.NewRegistry[purchaseEvent](cfg.purchasePolicy),
		productOps:  pending.NewRegistry[[]ProductDetail](pending.PolicyReject),
		queryOps:    pending.NewRegistry[[]Purchase](pending.PolicyReject),
		historyOps:  pending.NewRegistry[[]HistoryRecord](pending.PolicyReject),
		ackOps:      pending.NewRegistry[struct{}](pending.PolicyReject),
		consumeOps:  pending.NewRegistry[string](pending.PolicyReject),
	}

	a.catalog = catalog.New(a.fetchProducts, cfg.catalogTTL)

	settleOpts := []settle.Option{}
	if cfg.verifier != nil {
		settleOpts = append(settleOpts, settle.WithVerifier(cfg.verifier))
	}
	a.settler = settle.New(log, a.Acknowledge, settleOpts...)

	return a
}

// Connect establishes the billing service connection. Idempotent: when the
// client is already ready no native handshake is issued.
func (a *Adapter) Connect(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	a.mu.Lock()
	ready := a.connected && a.client.IsReady()
	a.mu.Unlock()
	if ready {
		return nil
	}

	op, err := a.connectOps.Register(connectKey)
	if err != nil {
		return billing.WrapError(billing.CodeGeneralError, err, "connection handshake already in flight")
	}

	a.client.StartConnection(a, a)

	if _, err := op.Wait(ctx); err != nil {
		if be, ok := err.(*billing.Error); ok {
			return be
		}
		return billing.WrapError(billing.CodeServiceUnavailable, err, "billing setup did not complete")
	}
	return nil
}

// Disconnect tears down the connection and fails anything still awaiting a
// native event. Safe to call when not connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mu.Unlock()

	if wasConnected {
		a.client.EndConnection()
	}

	err := billing.NewError(billing.CodeServiceDisconnected, "billing client disconnected")
	a.rejectOutstanding(err)
	a.catalog.Purge()
	return nil
}

func (a *Adapter) rejectOutstanding(err error) {
	a.connectOps.RejectAll(err)
	a.purchaseOps.RejectAll(err)
	a.productOps.RejectAll(err)
	a.queryOps.RejectAll(err)
	a.historyOps.RejectAll(err)
	a.ackOps.RejectAll(err)
	a.consumeOps.RejectAll(err)
}

// OnBillingSetupFinished is the native handshake callback.
func (a *Adapter) OnBillingSetupFinished(result Result) {
	if err := errorFromResult(result); err != nil {
		a.connectOps.Reject(connectKey, err)
		return
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	a.connectOps.Resolve(connectKey, struct{}{})
}

// OnBillingServiceDisconnected fires when the store service drops the
// connection mid-session. One reconnect is attempted; if that fails too,
// every outstanding operation is rejected rather than left hanging.
func (a *Adapter) OnBillingServiceDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.log.Warn("Billing service disconnected, attempting reconnect")

	if err := a.Connect(context.Background()); err != nil {
		a.log.Warn("Reconnect failed, rejecting outstanding operations", zap.Error(err))
		a.rejectOutstanding(billing.WrapError(billing.CodeServiceDisconnected, err, "billing service disconnected"))
	}
}

// OnPurchasesUpdated is the terminal event of a billing flow. Events with
// no awaiting purchase are unsolicited (e.g. a pending purchase settling
// out of band); they go to the update bus when one is configured.
func (a *Adapter) OnPurchasesUpdated(result Result, purchases []Purchase) {
	if a.purchaseOps.Resolve(purchaseKey, purchaseEvent{result: result, purchases: purchases}) {
		return
	}

	if a.updates != nil && result.Code == ResponseOK && len(purchases) > 0 {
		normalized := make([]*billing.Purchase, 0, len(purchases))
		for _, native := range purchases {
			normalized = append(normalized, purchaseFromNative(native))
		}
		a.updates.OnEvent(Platform, &event.PurchaseUpdate{
			Platform:  Platform,
			Timestamp: time.Now(),
			Purchases: normalized,
		})
		return
	}

	a.log.Debug("Dropping unsolicited purchases update",
		zap.Int("code", int(result.Code)),
		zap.Int("purchases", len(purchases)),
	)
}

func (a *Adapter) GetProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	details, err := a.queryProductDetails(ctx, ids, kind)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	// Unknown skus are absent from the response; foreign ones are dropped.
	products := make([]*billing.Product, 0, len(details))
	for _, detail := range details {
		if !requested[detail.SKU] {
			continue
		}
		products = append(products, productFromDetail(detail, kind))
	}

	a.catalog.Put(products...)
	return products, nil
}

func (a *Adapter) queryProductDetails(ctx context.Context, ids []string, kind billing.ItemKind) ([]ProductDetail, error) {
	key := pending.NewKey("products")
	op, err := a.productOps.Register(key)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "failed to register product query")
	}

	a.client.QueryProductDetails(skuType(kind), ids, func(result Result, details []ProductDetail) {
		if err := errorFromResult(result); err != nil {
			a.productOps.Reject(key, billing.WrapError(billing.CodeProductRequestFailed, err, err.Message))
			return
		}
		a.productOps.Resolve(key, details)
	})

	return op.Wait(ctx)
}

func (a *Adapter) fetchProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	details, err := a.queryProductDetails(ctx, ids, kind)
	if err != nil {
		return nil, err
	}

	products := make([]*billing.Product, 0, len(details))
	for _, detail := range details {
		products = append(products, productFromDetail(detail, kind))
	}
	return products, nil
}

func (a *Adapter) Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	options := billing.ApplyPurchaseOptions(opts...)

	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	product, err := a.catalog.Resolve(ctx, productID, kind)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, billing.Errorf(billing.CodeInvalidProduct, "product %q not found in store catalog", productID)
	}

	offerToken := options.OfferToken
	if offerToken == "" && kind == billing.KindSubscription {
		// Subscriptions need an offer; fall back to the default base plan.
		offerToken = product.OfferToken
	}

	detail, _ := product.Extra.(ProductDetail)

	return a.launchFlow(ctx, productID, FlowParams{
		Product:             detail,
		OfferToken:          offerToken,
		ObfuscatedAccountID: options.ObfuscatedAccountID,
		ObfuscatedProfileID: options.ObfuscatedProfileID,
		DeveloperPayload:    options.Payload,
	})
}

func (a *Adapter) UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	product, err := a.catalog.Resolve(ctx, newProductID, billing.KindSubscription)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, billing.Errorf(billing.CodeInvalidProduct, "subscription %q not found in store catalog", newProductID)
	}

	detail, _ := product.Extra.(ProductDetail)

	return a.launchFlow(ctx, newProductID, FlowParams{
		Product:          detail,
		OfferToken:       product.OfferToken,
		OldPurchaseToken: oldToken,
		Proration:        prorationMode(proration),
	})
}

func (a *Adapter) launchFlow(ctx context.Context, productID string, params FlowParams) (*billing.Purchase, error) {
	op, err := a.purchaseOps.Register(purchaseKey)
	if err != nil {
		return nil, billing.WrapError(billing.CodeDeveloperError, err, "another purchase is awaiting its native result")
	}

	result := a.client.LaunchBillingFlow(params)
	if result.Code == ResponseItemAlreadyOwned {
		// Owning the item is a benign outcome: report it as a state, not an
		// error, and clear the slot without a native terminal event.
		a.purchaseOps.Resolve(purchaseKey, purchaseEvent{result: result})
		_, _ = op.Wait(ctx)
		return &billing.Purchase{
			ProductIDs: []string{productID},
			State:      billing.StateAlreadyOwned,
			Quantity:   1,
		}, nil
	}
	if err := errorFromResult(result); err != nil {
		a.purchaseOps.Reject(purchaseKey, err)
		_, _ = op.Wait(ctx)
		return nil, err
	}

	event, err := op.Wait(ctx)
	if err != nil {
		if be, ok := err.(*billing.Error); ok {
			return nil, be
		}
		if errors.Is(err, pending.ErrSuperseded) {
			return nil, billing.WrapError(billing.CodeDeveloperError, err, "purchase superseded by a newer launch")
		}
		return nil, billing.WrapError(billing.CodeGeneralError, err, "purchase flow did not complete")
	}
	return a.concludeFlow(ctx, productID, event)
}

func (a *Adapter) concludeFlow(ctx context.Context, productID string, event purchaseEvent) (*billing.Purchase, error) {
	switch event.result.Code {
	case ResponseOK:
		normalized := make([]*billing.Purchase, 0, len(event.purchases))
		for _, native := range event.purchases {
			normalized = append(normalized, purchaseFromNative(native))
		}
		settled := a.settler.SettleAll(ctx, normalized)

		for _, p := range settled {
			for _, id := range p.ProductIDs {
				if id == productID {
					return p, nil
				}
			}
		}
		if len(settled) > 0 {
			return settled[len(settled)-1], nil
		}
		return nil, billing.NewError(billing.CodeGeneralError, "purchase completed without a purchase record")

	case ResponseUserCancelled:
		return &billing.Purchase{
			ProductIDs: []string{productID},
			State:      billing.StateCancelled,
			Quantity:   1,
		}, nil

	case ResponseItemAlreadyOwned:
		return &billing.Purchase{
			ProductIDs: []string{productID},
			State:      billing.StateAlreadyOwned,
			Quantity:   1,
		}, nil

	default:
		if err := errorFromResult(event.result); err != nil {
			return nil, err
		}
		return nil, billing.NewError(billing.CodeGeneralError, "unexpected purchase result")
	}
}

func (a *Adapter) GetPurchases(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	key := pending.NewKey("purchases")
	op, err := a.queryOps.Register(key)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "failed to register purchases query")
	}

	a.client.QueryPurchases(skuType(kind), func(result Result, purchases []Purchase) {
		if err := errorFromResult(result); err != nil {
			a.queryOps.Reject(key, err)
			return
		}
		a.queryOps.Resolve(key, purchases)
	})

	natives, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}

	normalized := make([]*billing.Purchase, 0, len(natives))
	for _, native := range natives {
		normalized = append(normalized, purchaseFromNative(native))
	}

	// Purchased-but-unacknowledged entries run the completion protocol;
	// ones that fail it come back as NotAcknowledged, never dropped.
	return a.settler.SettleAll(ctx, normalized), nil
}

func (a *Adapter) GetPurchaseHistory(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	key := pending.NewKey("history")
	op, err := a.historyOps.Register(key)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "failed to register history query")
	}

	a.client.QueryPurchaseHistory(skuType(kind), func(result Result, records []HistoryRecord) {
		if err := errorFromResult(result); err != nil {
			a.historyOps.Reject(key, err)
			return
		}
		a.historyOps.Resolve(key, records)
	})

	records, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}

	history := make([]*billing.Purchase, 0, len(records))
	for _, record := range records {
		history = append(history, purchaseFromHistory(record))
	}
	return history, nil
}

func (a *Adapter) Acknowledge(ctx context.Context, token string) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}

	key := pending.NewKey("acknowledge")
	op, err := a.ackOps.Register(key)
	if err != nil {
		return billing.WrapError(billing.CodeGeneralError, err, "failed to register acknowledge")
	}

	a.client.AcknowledgePurchase(token, func(result Result) {
		if err := errorFromResult(result); err != nil {
			a.ackOps.Reject(key, err)
			return
		}
		a.ackOps.Resolve(key, struct{}{})
	})

	_, err = op.Wait(ctx)
	return err
}

func (a *Adapter) Consume(ctx context.Context, productID, token string) (*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	consumed := &billing.Purchase{
		ProductIDs: []string{productID},
		Token:      token,
		Quantity:   1,
	}

	if token == "" {
		// The service only reports unconsumed purchases, so the newest
		// match is the one to consume.
		purchases, err := a.GetPurchases(ctx, billing.KindInApp)
		if err != nil {
			return nil, err
		}
		resolved := billing.MostRecentConsumable(purchases, productID)
		if resolved == nil {
			return nil, billing.Errorf(billing.CodeNotOwned, "no unconsumed purchase of %q found", productID)
		}
		consumed = resolved.Clone()
	}

	key := pending.NewKey("consume")
	op, err := a.consumeOps.Register(key)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "failed to register consume")
	}

	a.client.ConsumePurchase(consumed.Token, func(result Result, consumedToken string) {
		if err := errorFromResult(result); err != nil {
			a.consumeOps.Reject(key, err)
			return
		}
		a.consumeOps.Resolve(key, consumedToken)
	})

	if _, err := op.Wait(ctx); err != nil {
		return nil, err
	}

	consumed.State = billing.StatePurchased
	return consumed, nil
}
