package apple

import (
	"context"

	"github.com/devsisters/go-applereceipt"
	"github.com/devsisters/go-applereceipt/applepki"

	"github.com/unibilling/unibilling/receipt"
)

// Verifier validates App Store receipts locally against Apple's root
// certificate chain.
type Verifier struct {
	// bundleID is the app's bundle identifier, e.g. "com.example.app".
	bundleID string

	// productID is the product the receipt must cover. Empty accepts any.
	productID string
}

func NewVerifier(bundleID, productID string) receipt.Verifier {
	return &Verifier{
		bundleID:  bundleID,
		productID: productID,
	}
}

func (v *Verifier) VerifyReceipt(ctx context.Context, encodedReceipt string) (bool, error) {
	parsed, err := applereceipt.DecodeBase64(encodedReceipt, applepki.CertPool())
	if err != nil {
		// A receipt that fails to decode is invalid, not an infrastructure
		// failure.
		return false, nil
	}

	if parsed.BundleIdentifier != v.bundleID {
		return false, nil
	}

	if v.productID == "" {
		return true, nil
	}
	for _, iap := range parsed.InAppPurchaseReceipts {
		if iap.ProductIdentifier == v.productID {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) ReceiptIdentifier(ctx context.Context, encodedReceipt string) ([]byte, error) {
	parsed, err := applereceipt.DecodeBase64(encodedReceipt, applepki.CertPool())
	if err != nil {
		return nil, err
	}

	return parsed.SHA1Hash, nil
}
