package playstore

import (
	"time"

	"github.com/unibilling/unibilling/billing"
)

// errorFromResult maps a native response code onto the canonical taxonomy.
// OK returns nil. ItemAlreadyOwned also returns nil: owning the item
// already is a canonical state, not a failure; callers that care check the
// code themselves.
func errorFromResult(result Result) *billing.Error {
	message := result.DebugMessage

	switch result.Code {
	case ResponseOK, ResponseItemAlreadyOwned:
		return nil
	case ResponseBillingUnavailable:
		return billing.NewError(billing.CodeBillingUnavailable, message)
	case ResponseDeveloperError:
		return billing.NewError(billing.CodeDeveloperError, message)
	case ResponseFeatureNotSupported:
		return billing.NewError(billing.CodeFeatureNotSupported, message)
	case ResponseItemNotOwned:
		return billing.NewError(billing.CodeNotOwned, message)
	case ResponseItemUnavailable:
		return billing.NewError(billing.CodeItemUnavailable, message)
	case ResponseServiceDisconnected:
		return billing.NewError(billing.CodeServiceDisconnected, message)
	case ResponseServiceTimeout:
		return billing.NewError(billing.CodeServiceTimeout, message)
	case ResponseServiceUnavailable:
		return billing.NewError(billing.CodeServiceUnavailable, message)
	case ResponseUserCancelled:
		return billing.NewError(billing.CodeUserCancelled, message)
	default:
		return billing.NewError(billing.CodeGeneralError, message)
	}
}

func skuType(kind billing.ItemKind) string {
	if kind == billing.KindSubscription {
		return SkuTypeSubs
	}
	// Consumables are regular in-app products that get consumed.
	return SkuTypeInApp
}

func prorationMode(p billing.Proration) ProrationMode {
	switch p {
	case billing.ProrationImmediateChargeProratedPrice:
		return ProrationImmediateAndChargeProratedFee
	case billing.ProrationImmediateWithoutProration:
		return ProrationImmediateWithoutProration
	case billing.ProrationDeferred:
		return ProrationDeferred
	case billing.ProrationImmediateChargeFullPrice:
		return ProrationImmediateAndChargeFullPrice
	default:
		return ProrationImmediateWithTimeProration
	}
}

func productFromDetail(detail ProductDetail, kind billing.ItemKind) *billing.Product {
	localized := detail.Price
	if localized == "" {
		localized = billing.FormatPrice(detail.PriceAmountMicros, detail.PriceCurrencyCode)
	}

	p := &billing.Product{
		ID:                 detail.SKU,
		Name:               detail.Title,
		Description:        detail.Description,
		LocalizedPrice:     localized,
		MicrosPrice:        detail.PriceAmountMicros,
		CurrencyCode:       detail.PriceCurrencyCode,
		Kind:               kind,
		SubscriptionPeriod: detail.SubscriptionPeriod,
		FreeTrialPeriod:    detail.FreeTrialPeriod,
		OfferToken:         detail.OfferToken,
		Extra:              detail,
	}

	if detail.IntroductoryPrice != "" || detail.IntroductoryPriceAmountMicros > 0 {
		p.Introductory = &billing.Discount{
			LocalizedPrice:  detail.IntroductoryPrice,
			MicrosPrice:     detail.IntroductoryPriceAmountMicros,
			NumberOfPeriods: detail.IntroductoryPriceCycles,
			Period:          billing.ParsePeriod(detail.IntroductoryPricePeriod),
		}
	}

	return p
}

func purchaseFromNative(native Purchase) *billing.Purchase {
	p := &billing.Purchase{
		ProductIDs:          append([]string(nil), native.Skus...),
		Token:               native.Token,
		OrderID:             native.OrderID,
		Acknowledged:        native.Acknowledged,
		AutoRenewing:        native.AutoRenewing,
		Quantity:            native.Quantity,
		Payload:             native.DeveloperPayload,
		ObfuscatedAccountID: native.ObfuscatedAccountID,
		ObfuscatedProfileID: native.ObfuscatedProfileID,
		RawPayload:          native.OriginalJSON,
		Signature:           native.Signature,
	}

	if native.PurchaseTimeMillis > 0 {
		p.PurchasedAt = time.UnixMilli(native.PurchaseTimeMillis).UTC()
	}
	if native.ExpiryTimeMillis > 0 {
		p.ExpiresAt = time.UnixMilli(native.ExpiryTimeMillis).UTC()
	}

	switch native.PurchaseState {
	case PurchaseStatePurchased:
		p.State = billing.StatePurchased
	case PurchaseStatePending:
		p.State = billing.StatePending
	default:
		p.State = billing.StateUnspecified
	}

	return p
}

func purchaseFromHistory(record HistoryRecord) *billing.Purchase {
	p := &billing.Purchase{
		ProductIDs: append([]string(nil), record.Skus...),
		Token:      record.Token,
		Payload:    record.DeveloperPayload,
		State:      billing.StateUnspecified,
	}
	if record.PurchaseTimeMillis > 0 {
		p.PurchasedAt = time.UnixMilli(record.PurchaseTimeMillis).UTC()
	}
	return p
}

