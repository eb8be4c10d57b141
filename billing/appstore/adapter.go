package appstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/billing/catalog"
	"github.com/unibilling/unibilling/billing/pending"
	"github.com/unibilling/unibilling/event"
	"github.com/unibilling/unibilling/receipt"
)

// Platform identifies this backend in history records and update events.
const Platform = "appstore"

const (
	restoreKey = "restore"

	defaultCatalogTTL = 5 * time.Minute
)

type config struct {
	verifier   receipt.Verifier
	catalogTTL time.Duration
	updates    *event.PurchaseBus
}

type Option func(*config)

// WithVerifier enables server-side receipt verification before a purchase
// transaction is finished. Transactions whose receipt fails verification
// stay on the queue.
func WithVerifier(v receipt.Verifier) Option {
	return func(c *config) {
		c.verifier = v
	}
}

// WithCatalogTTL overrides how long resolved product descriptors are kept.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.catalogTTL = ttl
	}
}

// WithUpdateBus publishes transactions that arrive outside any launched
// payment, e.g. a deferred purchase approved after a restart.
func WithUpdateBus(bus *event.PurchaseBus) Option {
	return func(c *config) {
		c.updates = bus
	}
}

type productsResult struct {
	products   []Product
	invalidIDs []string
}

// Adapter implements billing.Biller over the App Store payment queue.
//
// Purchases are correlated by product id: StoreKit reports each payment's
// transactions with the product they belong to, so flows for different
// products may run concurrently. The store has no acknowledgment or
// consumption protocol; Consume finishes the transaction instead, and
// entitlements are recovered by restoring completed transactions.
type Adapter struct {
	log      *zap.Logger
	queue    PaymentQueue
	verifier receipt.Verifier
	updates  *event.PurchaseBus
	catalog  *catalog.Cache

	productOps  *pending.Registry[productsResult]
	purchaseOps *pending.Registry[Transaction]
	restoreOps  *pending.Registry[[]Transaction]

	mu        sync.Mutex
	connected bool
	restored  []Transaction
	restoring bool
}

var _ billing.Biller = (*Adapter)(nil)

func New(log *zap.Logger, queue PaymentQueue, opts ...Option) *Adapter {
	cfg := config{catalogTTL: defaultCatalogTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Adapter{
		log:      log,
		queue:    queue,
		verifier: cfg.verifier,
		updates:  cfg.updates,

		productOps:  pending.NewRegistry[productsResult](pending.PolicyReject),
		purchaseOps: pending.NewRegistry[Transaction](pending.PolicyReject),
		restoreOps:  pending.NewRegistry[[]Transaction](pending.PolicyReject),
	}
	a.catalog = catalog.New(a.fetchProducts, cfg.catalogTTL)
	return a
}

// Connect attaches the adapter to the payment queue. The App Store needs
// no handshake, so this never blocks.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}
	a.queue.SetObserver(a)
	a.connected = true
	return nil
}

// Disconnect detaches from the queue and fails anything still awaiting a
// transaction. Safe to call when not connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.restoring = false
	a.restored = nil
	a.mu.Unlock()

	if wasConnected {
		a.queue.SetObserver(nil)
	}

	err := billing.NewError(billing.CodeServiceDisconnected, "billing client disconnected")
	a.productOps.RejectAll(err)
	a.purchaseOps.RejectAll(err)
	a.restoreOps.RejectAll(err)
	a.catalog.Purge()
	return nil
}

// OnTransactionsUpdated routes queue transactions to the purchase that
// launched them. Restored transactions are collected until the restore
// pass completes; completed transactions nothing is waiting for are
// published on the update bus when one is configured, otherwise dropped
// to be picked up by a restore.
func (a *Adapter) OnTransactionsUpdated(transactions []Transaction) {
	for _, txn := range transactions {
		switch txn.State {
		case TransactionPurchasing:
			continue
		case TransactionRestored:
			a.mu.Lock()
			if a.restoring {
				a.restored = append(a.restored, txn)
			}
			a.mu.Unlock()
		default:
			if a.purchaseOps.Resolve(purchaseKeyFor(txn.ProductID), txn) {
				continue
			}
			if a.updates != nil && txn.State == TransactionPurchased {
				a.updates.OnEvent(Platform, &event.PurchaseUpdate{
					Platform:  Platform,
					Timestamp: time.Now(),
					Purchases: []*billing.Purchase{purchaseFromTransaction(txn)},
				})
				continue
			}
			a.log.Debug("Dropping transaction with no awaiting purchase",
				zap.String("product_id", txn.ProductID),
				zap.Int("state", int(txn.State)),
			)
		}
	}
}

// OnRestoreCompleted ends a restore pass.
func (a *Adapter) OnRestoreCompleted(err error) {
	a.mu.Lock()
	restored := a.restored
	a.restored = nil
	a.restoring = false
	a.mu.Unlock()

	if err != nil {
		skErr, ok := err.(*SKError)
		if !ok {
			skErr = &SKError{Code: SKErrorUnknown, Message: err.Error()}
		}
		a.restoreOps.Reject(restoreKey, billing.WrapError(billing.CodeRestoreFailed, errorFromSK(skErr), "restore failed"))
		return
	}
	a.restoreOps.Resolve(restoreKey, restored)
}

func purchaseKeyFor(productID string) string {
	return "purchase:" + productID
}

func (a *Adapter) GetProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	natives, err := a.requestProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	products := make([]*billing.Product, 0, len(natives))
	for _, native := range natives {
		products = append(products, productFromNative(native, kind))
	}

	a.catalog.Put(products...)
	return products, nil
}

func (a *Adapter) requestProducts(ctx context.Context, ids []string) ([]Product, error) {
	key := pending.NewKey("products")
	op, err := a.productOps.Register(key)
	if err != nil {
		return nil, billing.WrapError(billing.CodeGeneralError, err, "failed to register product request")
	}

	a.queue.RequestProducts(ids, func(products []Product, invalidIDs []string, reqErr error) {
		if reqErr != nil {
			a.productOps.Reject(key, billing.WrapError(billing.CodeProductRequestFailed, reqErr, "product request failed"))
			return
		}
		a.productOps.Resolve(key, productsResult{products: products, invalidIDs: invalidIDs})
	})

	result, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.invalidIDs) > 0 {
		a.log.Debug("Store rejected product identifiers", zap.Strings("invalid_ids", result.invalidIDs))
	}
	return result.products, nil
}

func (a *Adapter) fetchProducts(ctx context.Context, ids []string, kind billing.ItemKind) ([]*billing.Product, error) {
	natives, err := a.requestProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	products := make([]*billing.Product, 0, len(natives))
	for _, native := range natives {
		products = append(products, productFromNative(native, kind))
	}
	return products, nil
}

func (a *Adapter) Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	options := billing.ApplyPurchaseOptions(opts...)

	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	if !a.queue.CanMakePayments() {
		return nil, billing.NewError(billing.CodePaymentNotAllowed, "payments are disabled on this device")
	}

	product, err := a.catalog.Resolve(ctx, productID, kind)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, billing.Errorf(billing.CodeInvalidProduct, "product %q not found in store catalog", productID)
	}

	op, err := a.purchaseOps.Register(purchaseKeyFor(productID))
	if err != nil {
		return nil, billing.WrapError(billing.CodeDeveloperError, err, "a purchase of this product is awaiting its transaction")
	}

	a.queue.AddPayment(Payment{
		ProductID:           productID,
		Quantity:            1,
		ApplicationUsername: options.ObfuscatedAccountID,
	})

	txn, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return a.concludeTransaction(ctx, txn)
}

func (a *Adapter) concludeTransaction(ctx context.Context, txn Transaction) (*billing.Purchase, error) {
	switch txn.State {
	case TransactionPurchased, TransactionRestored:
		p := purchaseFromTransaction(txn)
		if a.verifier != nil {
			valid, err := a.verifier.VerifyReceipt(ctx, txn.Receipt)
			if err != nil {
				return nil, billing.WrapError(billing.CodeGeneralError, err, "receipt verification failed")
			}
			if !valid {
				// Leave the transaction unfinished so it redelivers.
				return nil, billing.NewError(billing.CodePaymentInvalid, "receipt did not verify")
			}
		}
		a.queue.FinishTransaction(txn.ID)
		return p, nil

	case TransactionDeferred:
		// Pending parental approval. The eventual outcome arrives as an
		// unsolicited transaction on a later launch.
		return purchaseFromTransaction(txn), nil

	default:
		err := errorFromSK(txn.Error)
		if err == nil {
			err = billing.NewError(billing.CodeGeneralError, "transaction failed without an error")
		}
		if err.Code == billing.CodeUserCancelled {
			a.queue.FinishTransaction(txn.ID)
			p := purchaseFromTransaction(txn)
			p.State = billing.StateCancelled
			return p, nil
		}
		a.queue.FinishTransaction(txn.ID)
		return nil, err
	}
}

// GetPurchases restores completed transactions and reports the newest
// entitlement per original transaction.
func (a *Adapter) GetPurchases(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	op, err := a.restoreOps.Register(restoreKey)
	if err != nil {
		return nil, billing.WrapError(billing.CodeRestoreFailed, err, "a restore is already running")
	}

	a.mu.Lock()
	a.restoring = true
	a.restored = nil
	a.mu.Unlock()

	a.queue.RestoreCompletedTransactions()

	transactions, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}

	// Renewals of one subscription share an original transaction id; keep
	// only the newest per lineage.
	newest := make(map[string]Transaction, len(transactions))
	for _, txn := range transactions {
		lineage := txn.OriginalID
		if lineage == "" {
			lineage = txn.ID
		}
		if prev, ok := newest[lineage]; !ok || txn.Date.After(prev.Date) {
			newest[lineage] = txn
		}
	}

	purchases := make([]*billing.Purchase, 0, len(newest))
	for _, txn := range transactions {
		lineage := txn.OriginalID
		if lineage == "" {
			lineage = txn.ID
		}
		if kept, ok := newest[lineage]; ok && kept.ID == txn.ID {
			purchases = append(purchases, purchaseFromTransaction(txn))
			delete(newest, lineage)
		}
	}
	return purchases, nil
}

// GetPurchaseHistory is not available on the App Store; past transactions
// only surface through a restore.
func (a *Adapter) GetPurchaseHistory(ctx context.Context, kind billing.ItemKind) ([]*billing.Purchase, error) {
	return nil, billing.NewError(billing.CodeFeatureNotSupported, "purchase history is not available on the app store")
}

// Consume finishes the transaction backing a consumable so it can be
// bought again.
func (a *Adapter) Consume(ctx context.Context, productID, token string) (*billing.Purchase, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}

	if token == "" {
		purchases, err := a.GetPurchases(ctx, billing.KindInApp)
		if err != nil {
			return nil, err
		}
		resolved := billing.MostRecentConsumable(purchases, productID)
		if resolved == nil {
			return nil, billing.Errorf(billing.CodeNotOwned, "no restorable purchase of %q found", productID)
		}
		token = resolved.Token
	}

	a.queue.FinishTransaction(token)
	return &billing.Purchase{
		ProductIDs:   []string{productID},
		Token:        token,
		State:        billing.StatePurchased,
		Acknowledged: true,
		Quantity:     1,
	}, nil
}

// Acknowledge is not part of the App Store protocol; entitlements are
// settled by finishing transactions.
func (a *Adapter) Acknowledge(ctx context.Context, token string) error {
	return billing.NewError(billing.CodeFeatureNotSupported, "the app store has no acknowledgment protocol")
}

// UpdateSubscription is managed by the store UI on Apple platforms.
func (a *Adapter) UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	return nil, billing.NewError(billing.CodeFeatureNotSupported, "subscription changes are managed by the app store")
}
