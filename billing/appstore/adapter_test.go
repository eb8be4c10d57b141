package appstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/event"
)

type fakeQueue struct {
	mu sync.Mutex

	observer    TransactionObserver
	canPay      bool
	products    []Product
	invalidIDs  []string
	requestErr  error
	payments    []Payment
	paymentTxns map[string][]Transaction
	restoreTxns []Transaction
	restoreErr  error
	finished    []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		canPay:      true,
		paymentTxns: make(map[string][]Transaction),
	}
}

func (f *fakeQueue) SetObserver(observer TransactionObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = observer
}

func (f *fakeQueue) CanMakePayments() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canPay
}

func (f *fakeQueue) RequestProducts(ids []string, onResponse func([]Product, []string, error)) {
	f.mu.Lock()
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	var products []Product
	for _, p := range f.products {
		if requested[p.ProductID] {
			products = append(products, p)
		}
	}
	invalid := append([]string(nil), f.invalidIDs...)
	reqErr := f.requestErr
	f.mu.Unlock()

	onResponse(products, invalid, reqErr)
}

func (f *fakeQueue) AddPayment(payment Payment) {
	f.mu.Lock()
	f.payments = append(f.payments, payment)
	txns := f.paymentTxns[payment.ProductID]
	observer := f.observer
	f.mu.Unlock()

	if len(txns) > 0 {
		observer.OnTransactionsUpdated(txns)
	}
}

func (f *fakeQueue) RestoreCompletedTransactions() {
	f.mu.Lock()
	txns := append([]Transaction(nil), f.restoreTxns...)
	restoreErr := f.restoreErr
	observer := f.observer
	f.mu.Unlock()

	if len(txns) > 0 {
		observer.OnTransactionsUpdated(txns)
	}
	observer.OnRestoreCompleted(restoreErr)
}

func (f *fakeQueue) FinishTransaction(transactionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, transactionID)
}

func newTestAdapter(t *testing.T, opts ...Option) (*Adapter, *fakeQueue) {
	t.Helper()

	queue := newFakeQueue()
	return New(zap.NewNop(), queue, opts...), queue
}

func coinProduct() Product {
	return Product{
		ProductID:    "com.example.coins500",
		Title:        "500 Coins",
		PriceMicros:  2990000,
		CurrencyCode: "USD",
	}
}

func coinTransaction(state TransactionState) Transaction {
	return Transaction{
		ID:        "txn-1",
		ProductID: "com.example.coins500",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		State:     state,
		Quantity:  1,
		Receipt:   "cmVjZWlwdA==",
	}
}

func TestGetProducts(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.products = []Product{coinProduct()}

	products, err := a.GetProducts(context.Background(), []string{"com.example.coins500"}, billing.KindInApp)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "2.99 USD", products[0].LocalizedPrice)
}

func TestPurchaseSuccessFinishesTransaction(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.products = []Product{coinProduct()}
	queue.paymentTxns["com.example.coins500"] = []Transaction{coinTransaction(TransactionPurchased)}

	p, err := a.Purchase(context.Background(), "com.example.coins500", billing.KindInApp)
	require.NoError(t, err)
	require.Equal(t, billing.StatePurchased, p.State)
	require.True(t, p.Acknowledged)
	require.Equal(t, []string{"txn-1"}, queue.finished)
}

func TestPurchaseCancelled(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.products = []Product{coinProduct()}
	txn := coinTransaction(TransactionFailed)
	txn.Error = &SKError{Code: SKErrorPaymentCancelled, Message: "cancelled"}
	queue.paymentTxns["com.example.coins500"] = []Transaction{txn}

	p, err := a.Purchase(context.Background(), "com.example.coins500", billing.KindInApp)
	require.NoError(t, err)
	require.Equal(t, billing.StateCancelled, p.State)
	require.Equal(t, []string{"txn-1"}, queue.finished)
}

func TestPurchaseTermsChanged(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.products = []Product{coinProduct()}
	txn := coinTransaction(TransactionFailed)
	txn.Error = &SKError{Code: SKErrorUnknown, UnderlyingCode: 3038, Message: "terms"}
	queue.paymentTxns["com.example.coins500"] = []Transaction{txn}

	_, err := a.Purchase(context.Background(), "com.example.coins500", billing.KindInApp)
	require.Error(t, err)
	require.Equal(t, billing.CodeTermsChanged, billing.CodeOf(err))
}

func TestPurchaseDeferredNotFinished(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.products = []Product{coinProduct()}
	queue.paymentTxns["com.example.coins500"] = []Transaction{coinTransaction(TransactionDeferred)}

	p, err := a.Purchase(context.Background(), "com.example.coins500", billing.KindInApp)
	require.NoError(t, err)
	require.Equal(t, billing.StateDeferred, p.State)
	require.Empty(t, queue.finished)
}

func TestPurchasePaymentsDisabled(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.canPay = false

	_, err := a.Purchase(context.Background(), "com.example.coins500", billing.KindInApp)
	require.Error(t, err)
	require.Equal(t, billing.CodePaymentNotAllowed, billing.CodeOf(err))
}

func TestPurchaseUnknownProduct(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Purchase(context.Background(), "com.example.missing", billing.KindInApp)
	require.Error(t, err)
	require.Equal(t, billing.CodeInvalidProduct, billing.CodeOf(err))
}

func TestGetPurchasesDedupesRenewals(t *testing.T) {
	a, queue := newTestAdapter(t)
	older := Transaction{
		ID:         "txn-r1",
		OriginalID: "txn-orig",
		ProductID:  "com.example.premium",
		Date:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		State:      TransactionRestored,
	}
	newer := older
	newer.ID = "txn-r2"
	newer.Date = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	queue.restoreTxns = []Transaction{older, newer}

	purchases, err := a.GetPurchases(context.Background(), billing.KindSubscription)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.Equal(t, "txn-r2", purchases[0].Token)
	require.Equal(t, billing.StateRestored, purchases[0].State)
	require.True(t, purchases[0].Acknowledged)
}

func TestGetPurchasesRestoreFailure(t *testing.T) {
	a, queue := newTestAdapter(t)
	queue.restoreErr = &SKError{Code: SKErrorClientInvalid, Message: "no account"}

	_, err := a.GetPurchases(context.Background(), billing.KindInApp)
	require.Error(t, err)
	require.Equal(t, billing.CodeRestoreFailed, billing.CodeOf(err))
}

func TestConsumeResolvesNewestTransaction(t *testing.T) {
	a, queue := newTestAdapter(t)
	older := coinTransaction(TransactionRestored)
	older.ID = "txn-old"
	older.Date = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := coinTransaction(TransactionRestored)
	newer.ID = "txn-new"
	newer.Date = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	queue.restoreTxns = []Transaction{older, newer}

	p, err := a.Consume(context.Background(), "com.example.coins500", "")
	require.NoError(t, err)
	require.Equal(t, "txn-new", p.Token)
	require.Contains(t, queue.finished, "txn-new")
}

func TestConsumeNotOwned(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.Consume(context.Background(), "com.example.coins500", "")
	require.Error(t, err)
	require.Equal(t, billing.CodeNotOwned, billing.CodeOf(err))
}

func TestAcknowledgeNotSupported(t *testing.T) {
	a, _ := newTestAdapter(t)

	err := a.Acknowledge(context.Background(), "txn-1")
	require.Equal(t, billing.CodeFeatureNotSupported, billing.CodeOf(err))
}

func TestHistoryNotSupported(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.GetPurchaseHistory(context.Background(), billing.KindInApp)
	require.Equal(t, billing.CodeFeatureNotSupported, billing.CodeOf(err))
}

func TestUpdateSubscriptionNotSupported(t *testing.T) {
	a, _ := newTestAdapter(t)

	_, err := a.UpdateSubscription(context.Background(), "txn-1", "com.example.premium", billing.ProrationDeferred)
	require.Equal(t, billing.CodeFeatureNotSupported, billing.CodeOf(err))
}

func TestUnsolicitedTransactionDropped(t *testing.T) {
	a, _ := newTestAdapter(t)
	require.NoError(t, a.Connect(context.Background()))

	a.OnTransactionsUpdated([]Transaction{coinTransaction(TransactionPurchased)})
	require.Zero(t, a.purchaseOps.Outstanding())
}

func TestUnsolicitedTransactionPublished(t *testing.T) {
	bus := event.NewBus[string, *event.PurchaseUpdate]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got *event.PurchaseUpdate
	bus.AddHandler(event.HandlerFunc[string, *event.PurchaseUpdate](func(_ string, e *event.PurchaseUpdate) {
		got = e
		wg.Done()
	}))

	a, _ := newTestAdapter(t, WithUpdateBus(bus))
	require.NoError(t, a.Connect(context.Background()))

	a.OnTransactionsUpdated([]Transaction{coinTransaction(TransactionPurchased)})
	wg.Wait()

	require.Equal(t, Platform, got.Platform)
	require.Len(t, got.Purchases, 1)
	require.Equal(t, "txn-1", got.Purchases[0].OrderID)
}

func TestDisconnectRejectsOutstanding(t *testing.T) {
	a, _ := newTestAdapter(t)
	require.NoError(t, a.Connect(context.Background()))

	op, err := a.purchaseOps.Register(purchaseKeyFor("com.example.coins500"))
	require.NoError(t, err)

	require.NoError(t, a.Disconnect())

	_, err = op.Wait(context.Background())
	require.Error(t, err)
	require.Equal(t, billing.CodeServiceDisconnected, billing.CodeOf(err))
}
