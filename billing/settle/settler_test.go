package settle

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/receipt/memory"
)

type countingAck struct {
	calls  int
	failOn map[string]error
}

func (a *countingAck) ack(_ context.Context, token string) error {
	a.calls++
	if a.failOn == nil {
		return nil
	}
	return a.failOn[token]
}

func purchasedUnacked(product, token string) *billing.Purchase {
	return &billing.Purchase{
		ProductIDs: []string{product},
		Token:      token,
		OrderID:    "order-" + token,
		State:      billing.StatePurchased,
		Quantity:   1,
	}
}

func TestSettler_AcknowledgesUnacked(t *testing.T) {
	ack := &countingAck{}
	s := New(zap.NewNop(), ack.ack)

	settled := s.Settle(context.Background(), purchasedUnacked("sub_premium", "tok1"))
	require.Equal(t, 1, ack.calls)
	require.Equal(t, billing.StatePurchased, settled.State)
	require.True(t, settled.Acknowledged)
}

func TestSettler_SkipsAcknowledged(t *testing.T) {
	ack := &countingAck{}
	s := New(zap.NewNop(), ack.ack)

	p := purchasedUnacked("sub_premium", "tok1")
	p.Acknowledged = true

	settled := s.Settle(context.Background(), p)
	require.Equal(t, 0, ack.calls)
	require.Equal(t, p, settled)

	// Running the protocol twice over the same settled purchase must not
	// re-issue the native call.
	again := s.Settle(context.Background(), settled)
	require.Equal(t, 0, ack.calls)
	require.True(t, again.Acknowledged)
}

func TestSettler_SkipsNonPurchased(t *testing.T) {
	ack := &countingAck{}
	s := New(zap.NewNop(), ack.ack)

	p := purchasedUnacked("coin_100", "tok1")
	p.State = billing.StateCancelled

	settled := s.Settle(context.Background(), p)
	require.Equal(t, 0, ack.calls)
	require.Equal(t, billing.StateCancelled, settled.State)
}

func TestSettler_AckFailure(t *testing.T) {
	ack := &countingAck{failOn: map[string]error{
		"tok-bad": errors.New("service timeout"),
	}}
	s := New(zap.NewNop(), ack.ack)

	settled := s.Settle(context.Background(), purchasedUnacked("sub_premium", "tok-bad"))
	require.Equal(t, billing.StateNotAcknowledged, settled.State)
	require.False(t, settled.Acknowledged)
}

func TestSettler_BatchFailureIsPerItem(t *testing.T) {
	ack := &countingAck{failOn: map[string]error{
		"tok-bad": errors.New("service timeout"),
	}}
	s := New(zap.NewNop(), ack.ack)

	batch := []*billing.Purchase{
		purchasedUnacked("coin_100", "tok-ok"),
		purchasedUnacked("coin_500", "tok-bad"),
		purchasedUnacked("sub_premium", "tok-ok2"),
	}

	settled := s.SettleAll(context.Background(), batch)
	require.Len(t, settled, 3)
	require.Equal(t, billing.StatePurchased, settled[0].State)
	require.Equal(t, billing.StateNotAcknowledged, settled[1].State)
	require.Equal(t, billing.StatePurchased, settled[2].State)
}

func TestSettler_VerifierRejects(t *testing.T) {
	issuer, verifier, err := memory.NewIssuer()
	require.NoError(t, err)

	ack := &countingAck{}
	s := New(zap.NewNop(), ack.ack, WithVerifier(verifier))

	valid := purchasedUnacked("sub_premium", "tok1")
	valid.RawPayload = issuer.Issue("sub_premium", "tok1")

	settled := s.Settle(context.Background(), valid)
	require.Equal(t, 1, ack.calls)
	require.True(t, settled.Acknowledged)

	forged := purchasedUnacked("sub_premium", "tok2")
	forged.RawPayload = "not|signed"

	settled = s.Settle(context.Background(), forged)
	require.Equal(t, 1, ack.calls)
	require.Equal(t, billing.StateNotAcknowledged, settled.State)
}
