package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"github.com/unibilling/unibilling/receipt"
)

// Issuer mints signed test receipts binding a product to its purchase
// token, the two facts a store receipt attests to after normalization.
type Issuer struct {
	key ed25519.PrivateKey
}

// NewIssuer generates a fresh signing key and returns the issuer together
// with a verifier holding the matching public key.
func NewIssuer() (*Issuer, receipt.Verifier, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error generating signing key")
	}
	return &Issuer{key: priv}, NewVerifier(pub), nil
}

// Issue signs a receipt covering the given product and token.
// The receipt format is: productID|token|base64(signature).
func (i *Issuer) Issue(productID, token string) string {
	signature := ed25519.Sign(i.key, signedContent(productID, token))
	return productID + "|" + token + "|" + base64.StdEncoding.EncodeToString(signature)
}

// Verifier is an in-memory verifier for receipts minted by an Issuer. A
// receipt is valid only when the signature covers exactly the product and
// token it claims, so a receipt for one product cannot vouch for another.
type Verifier struct {
	publicKey ed25519.PublicKey
}

func NewVerifier(pubKey ed25519.PublicKey) receipt.Verifier {
	return &Verifier{publicKey: pubKey}
}

func (v *Verifier) VerifyReceipt(ctx context.Context, r string) (bool, error) {
	productID, token, signature, err := parseReceipt(r)
	if err != nil {
		// A malformed receipt is invalid, not an error.
		return false, nil
	}

	return ed25519.Verify(v.publicKey, signedContent(productID, token), signature), nil
}

// ReceiptIdentifier hashes the signed content, the way the store
// verifiers derive identifiers from their receipt payloads.
func (v *Verifier) ReceiptIdentifier(ctx context.Context, r string) ([]byte, error) {
	productID, token, _, err := parseReceipt(r)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(signedContent(productID, token))
	return sum[:], nil
}

func signedContent(productID, token string) []byte {
	return []byte(productID + "\n" + token)
}

func parseReceipt(r string) (productID, token string, signature []byte, err error) {
	parts := strings.Split(r, "|")
	if len(parts) != 3 {
		return "", "", nil, errors.Errorf("invalid receipt format: %s", r)
	}

	signature, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", nil, errors.Wrap(err, "error decoding signature")
	}

	return parts[0], parts[1], signature, nil
}
