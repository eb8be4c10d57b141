package appstore

import (
	"github.com/unibilling/unibilling/billing"
)

// errorFromSK maps a StoreKit error onto the canonical taxonomy.
func errorFromSK(skErr *SKError) *billing.Error {
	if skErr == nil {
		return nil
	}
	if skErr.UnderlyingCode == underlyingTermsChanged {
		return billing.NewError(billing.CodeTermsChanged, skErr.Message)
	}

	switch skErr.Code {
	case SKErrorPaymentCancelled:
		return billing.NewError(billing.CodeUserCancelled, skErr.Message)
	case SKErrorPaymentInvalid:
		return billing.NewError(billing.CodePaymentInvalid, skErr.Message)
	case SKErrorPaymentNotAllowed:
		return billing.NewError(billing.CodePaymentNotAllowed, skErr.Message)
	case SKErrorStoreProductNotAvailable:
		return billing.NewError(billing.CodeItemUnavailable, skErr.Message)
	case SKErrorClientInvalid:
		return billing.NewError(billing.CodeAppStoreUnavailable, skErr.Message)
	default:
		return billing.NewError(billing.CodeGeneralError, skErr.Message)
	}
}

func productFromNative(native Product, kind billing.ItemKind) *billing.Product {
	localized := native.LocalizedPrice
	if localized == "" {
		localized = billing.FormatPrice(native.PriceMicros, native.CurrencyCode)
	}

	p := &billing.Product{
		ID:                 native.ProductID,
		Name:               native.Title,
		Description:        native.Description,
		LocalizedPrice:     localized,
		MicrosPrice:        native.PriceMicros,
		CurrencyCode:       native.CurrencyCode,
		Kind:               kind,
		SubscriptionPeriod: native.SubscriptionPeriod,
		FreeTrialPeriod:    native.FreeTrialPeriod,
		Extra:              native,
	}

	if native.IntroductoryPrice != "" || native.IntroductoryPriceMicros > 0 {
		p.Introductory = &billing.Discount{
			LocalizedPrice:  native.IntroductoryPrice,
			MicrosPrice:     native.IntroductoryPriceMicros,
			NumberOfPeriods: native.IntroductoryCycles,
			Period:          billing.ParsePeriod(native.IntroductoryPeriod),
		}
	}

	return p
}

// purchaseFromTransaction normalizes a queue transaction. The App Store
// has no acknowledgment protocol, so completed transactions come back
// already acknowledged.
func purchaseFromTransaction(txn Transaction) *billing.Purchase {
	p := &billing.Purchase{
		ProductIDs: []string{txn.ProductID},
		Token:      txn.ID,
		OrderID:    txn.OriginalID,
		Quantity:   txn.Quantity,
		RawPayload: txn.Receipt,
	}
	if p.OrderID == "" {
		p.OrderID = txn.ID
	}
	if p.Quantity == 0 {
		p.Quantity = 1
	}
	if !txn.Date.IsZero() {
		p.PurchasedAt = txn.Date.UTC()
	}

	switch txn.State {
	case TransactionPurchased:
		p.State = billing.StatePurchased
		p.Acknowledged = true
	case TransactionRestored:
		p.State = billing.StateRestored
		p.Acknowledged = true
	case TransactionDeferred:
		p.State = billing.StateDeferred
	case TransactionFailed:
		p.State = billing.StateFailed
	default:
		p.State = billing.StatePurchasing
	}

	return p
}
