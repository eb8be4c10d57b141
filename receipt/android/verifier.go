package android

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/unibilling/unibilling/receipt"
)

// Verifier checks Play purchase tokens against the Google Play Developer
// API. The receipt string is the purchase token.
type Verifier struct {

	// The contents of a service account JSON file.
	serviceAccountJSON []byte

	// packageName is the Android app's package name.
	packageName string

	// productID is the product the token must be for.
	productID string

	// subscription selects the subscriptions endpoint instead of the
	// one-time products endpoint.
	subscription bool
}

func NewVerifier(serviceAccountJSON []byte, packageName, productID string) receipt.Verifier {
	return &Verifier{
		serviceAccountJSON: serviceAccountJSON,
		packageName:        packageName,
		productID:          productID,
	}
}

func NewSubscriptionVerifier(serviceAccountJSON []byte, packageName, productID string) receipt.Verifier {
	return &Verifier{
		serviceAccountJSON: serviceAccountJSON,
		packageName:        packageName,
		productID:          productID,
		subscription:       true,
	}
}

func (v *Verifier) VerifyReceipt(ctx context.Context, token string) (bool, error) {
	svc, err := androidpublisher.NewService(ctx, option.WithCredentialsJSON(v.serviceAccountJSON))
	if err != nil {
		return false, errors.Wrap(err, "failed to create android publisher client")
	}

	if v.subscription {
		sub, err := svc.Purchases.Subscriptions.Get(v.packageName, v.productID, token).Context(ctx).Do()
		if err != nil {
			// A 404 means the token doesn't exist; treat any API rejection
			// as an invalid receipt.
			return false, nil
		}
		// 0 = payment pending, 1 = received, 2 = free trial.
		return sub.PaymentState != nil && (*sub.PaymentState == 1 || *sub.PaymentState == 2), nil
	}

	product, err := svc.Purchases.Products.Get(v.packageName, v.productID, token).Context(ctx).Do()
	if err != nil {
		return false, nil
	}

	// PurchaseState 0 = purchased, 1 = canceled, 2 = pending.
	return product.PurchaseState == 0, nil
}

func (v *Verifier) ReceiptIdentifier(ctx context.Context, token string) ([]byte, error) {
	// Play purchase tokens are already unique per product and user pair.
	return []byte(token), nil
}
