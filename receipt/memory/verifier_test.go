package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/receipt/tests"
)

func TestMemoryVerifier(t *testing.T) {
	issuer, verifier, err := NewIssuer()
	if err != nil {
		t.Fatalf("error creating issuer: %v", err)
	}

	messageGenerator := func() string {
		return "premium_entitlement"
	}
	validReceiptFunc := func(msg string) string {
		return issuer.Issue(msg, "token-1")
	}

	teardown := func() {}

	tests.RunVerifierTests(t, verifier, messageGenerator, validReceiptFunc, teardown)
}

func TestReceiptBoundToProduct(t *testing.T) {
	issuer, verifier, err := NewIssuer()
	require.NoError(t, err)

	ctx := context.Background()
	minted := issuer.Issue("coin_100", "token-1")

	valid, err := verifier.VerifyReceipt(ctx, minted)
	require.NoError(t, err)
	require.True(t, valid)

	// A receipt claiming a different product must not verify.
	tampered := strings.Replace(minted, "coin_100", "coin_500", 1)
	valid, err = verifier.VerifyReceipt(ctx, tampered)
	require.NoError(t, err)
	require.False(t, valid)

	// Nor one replayed against a different purchase token.
	replayed := strings.Replace(minted, "token-1", "token-2", 1)
	valid, err = verifier.VerifyReceipt(ctx, replayed)
	require.NoError(t, err)
	require.False(t, valid)
}
