// Package appstore implements the unified billing contract over the Apple
// App Store. StoreKit is consumed through the PaymentQueue seam below,
// which mirrors the observer-driven shape of the native payment queue.
package appstore

import "time"

// StoreKit error domain codes.
const (
	SKErrorUnknown                  = 0
	SKErrorClientInvalid            = 1
	SKErrorPaymentCancelled         = 2
	SKErrorPaymentInvalid           = 3
	SKErrorPaymentNotAllowed        = 4
	SKErrorStoreProductNotAvailable = 5

	// underlyingTermsChanged surfaces when the user must accept updated
	// App Store terms and conditions before the payment can proceed.
	underlyingTermsChanged = 3038
)

// SKError is a StoreKit failure attached to a transaction.
type SKError struct {
	Code           int
	UnderlyingCode int
	Message        string
}

func (e *SKError) Error() string {
	return e.Message
}

// TransactionState mirrors the native payment transaction states.
type TransactionState int

const (
	TransactionPurchasing TransactionState = iota
	TransactionPurchased
	TransactionFailed
	TransactionRestored
	TransactionDeferred
)

// Transaction is a payment transaction as the queue reports it. Receipt
// carries the base64 receipt data covering the transaction.
type Transaction struct {
	ID         string
	OriginalID string
	ProductID  string
	Date       time.Time
	State      TransactionState
	Quantity   int
	Receipt    string
	Error      *SKError
}

// Product is a native store product descriptor.
type Product struct {
	ProductID   string
	Title       string
	Description string

	LocalizedPrice string
	PriceMicros    int64
	CurrencyCode   string

	SubscriptionPeriod string
	FreeTrialPeriod    string

	IntroductoryPrice       string
	IntroductoryPriceMicros int64
	IntroductoryCycles      int
	IntroductoryPeriod      string
}

// Payment is a purchase request to enqueue.
type Payment struct {
	ProductID           string
	Quantity            int
	ApplicationUsername string
}

// TransactionObserver receives payment queue events. Transactions for a
// launched payment and for a restore both arrive on OnTransactionsUpdated;
// OnRestoreCompleted marks the end of a restore pass.
type TransactionObserver interface {
	OnTransactionsUpdated(transactions []Transaction)
	OnRestoreCompleted(err error)
}

// PaymentQueue is the seam over the StoreKit payment queue.
type PaymentQueue interface {
	SetObserver(observer TransactionObserver)
	CanMakePayments() bool
	RequestProducts(ids []string, onResponse func(products []Product, invalidIDs []string, err error))
	AddPayment(payment Payment)
	RestoreCompletedTransactions()

	// FinishTransaction removes a completed transaction from the queue.
	// Unfinished transactions are redelivered on the next launch.
	FinishTransaction(transactionID string)
}
