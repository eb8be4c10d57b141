// Package receipt defines the external purchase-verification collaborator
// invoked by the purchase completion protocol when server-side verification
// is configured.
package receipt

import "context"

type Verifier interface {

	// VerifyReceipt takes a purchase receipt (for the App Store a
	// base64-encoded receipt blob, for Play a purchase token) and determines
	// whether it represents a valid purchase of the expected product.
	VerifyReceipt(ctx context.Context, receipt string) (bool, error)

	// ReceiptIdentifier takes a receipt and returns a stable identifier for
	// it, used to recognize the same receipt across calls.
	ReceiptIdentifier(ctx context.Context, receipt string) ([]byte, error)
}
