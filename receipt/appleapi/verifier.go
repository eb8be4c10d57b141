// Package appleapi verifies App Store receipts against Apple's
// verifyReceipt endpoint, for deployments that prefer server-side
// validation over local certificate checks.
package appleapi

import (
	"context"
	"crypto/sha256"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/unibilling/unibilling/receipt"
)

const (
	productionURL = "https://buy.itunes.apple.com/verifyReceipt"
	sandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// statusOK means the receipt is valid.
	statusOK = 0

	// statusSandboxReceipt means a sandbox receipt was sent to the
	// production endpoint; Apple requires retrying against sandbox.
	statusSandboxReceipt = 21007
)

type verifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions,omitempty"`
}

type verifyResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		BundleID string             `json:"bundle_id"`
		InApp    []inAppTransaction `json:"in_app"`
	} `json:"receipt"`
}

type inAppTransaction struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
}

// Verifier calls Apple's verifyReceipt endpoint over HTTPS.
type Verifier struct {
	client *resty.Client

	bundleID     string
	productID    string
	sharedSecret string
}

func NewVerifier(bundleID, productID, sharedSecret string) receipt.Verifier {
	return &Verifier{
		client:       resty.New(),
		bundleID:     bundleID,
		productID:    productID,
		sharedSecret: sharedSecret,
	}
}

func (v *Verifier) VerifyReceipt(ctx context.Context, encodedReceipt string) (bool, error) {
	resp, err := v.verify(ctx, productionURL, encodedReceipt)
	if err != nil {
		return false, err
	}

	if resp.Status == statusSandboxReceipt {
		resp, err = v.verify(ctx, sandboxURL, encodedReceipt)
		if err != nil {
			return false, err
		}
	}

	if resp.Status != statusOK {
		return false, nil
	}
	if resp.Receipt.BundleID != v.bundleID {
		return false, nil
	}
	if v.productID == "" {
		return true, nil
	}
	for _, txn := range resp.Receipt.InApp {
		if txn.ProductID == v.productID {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) ReceiptIdentifier(ctx context.Context, encodedReceipt string) ([]byte, error) {
	sum := sha256.Sum256([]byte(encodedReceipt))
	return sum[:], nil
}

func (v *Verifier) verify(ctx context.Context, url, encodedReceipt string) (*verifyResponse, error) {
	var result verifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(&verifyRequest{
			ReceiptData: encodedReceipt,
			Password:    v.sharedSecret,
		}).
		SetResult(&result).
		Post(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call verifyReceipt")
	}
	if resp.IsError() {
		return nil, errors.Errorf("verifyReceipt returned http %d", resp.StatusCode())
	}
	return &result, nil
}
