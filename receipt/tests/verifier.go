package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/receipt"
)

type MessageGenerator func() string
type ValidReceiptFromMessage func(message string) string

// RunVerifierTests exercises any receipt.Verifier against a generator of
// valid receipts for it.
func RunVerifierTests(t *testing.T, v receipt.Verifier, msgGen MessageGenerator, validReceiptFunc ValidReceiptFromMessage, teardown func()) {
	for _, tf := range []func(t *testing.T, v receipt.Verifier, msgGen MessageGenerator, validReceiptFunc ValidReceiptFromMessage){
		testValidReceipt,
		testInvalidReceipt,
	} {
		tf(t, v, msgGen, validReceiptFunc)
		teardown()
	}
}

func testValidReceipt(t *testing.T, v receipt.Verifier, msgGen MessageGenerator, validReceiptFunc ValidReceiptFromMessage) {
	ctx := context.Background()

	message := msgGen()
	validReceipt := validReceiptFunc(message)

	identifier, err := v.ReceiptIdentifier(ctx, validReceipt)
	require.NoError(t, err)
	require.NotNil(t, identifier)

	valid, err := v.VerifyReceipt(ctx, validReceipt)
	require.NoError(t, err)
	require.True(t, valid)
}

func testInvalidReceipt(t *testing.T, v receipt.Verifier, msgGen MessageGenerator, validReceiptFunc ValidReceiptFromMessage) {
	ctx := context.Background()

	valid, _ := v.VerifyReceipt(ctx, "invalid")
	require.False(t, valid)
}
