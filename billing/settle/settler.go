// Package settle implements the post-purchase completion protocol: stores
// that mandate acknowledgment within a bounded window get the acknowledge
// call for every purchase observed purchased-but-unacknowledged, and the
// outcome is folded into the canonical state.
package settle

import (
	"context"

	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/receipt"
)

// AckFunc issues the store-native acknowledge call for a purchase token.
type AckFunc func(ctx context.Context, token string) error

type Option func(*Settler)

// WithVerifier enables server-side receipt verification before
// acknowledging. A purchase that fails verification is not acknowledged.
func WithVerifier(v receipt.Verifier) Option {
	return func(s *Settler) {
		s.verifier = v
	}
}

// Settler runs the completion protocol for one adapter.
type Settler struct {
	log      *zap.Logger
	ack      AckFunc
	verifier receipt.Verifier
}

func New(log *zap.Logger, ack AckFunc, opts ...Option) *Settler {
	s := &Settler{
		log: log,
		ack: ack,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle acknowledges a purchase observed in StatePurchased that the store
// has not yet marked acknowledged. Already-acknowledged purchases are
// returned untouched without a native call. On acknowledgment failure the
// purchase is reported as StateNotAcknowledged, never dropped.
func (s *Settler) Settle(ctx context.Context, p *billing.Purchase) *billing.Purchase {
	if p == nil {
		return nil
	}
	if p.State != billing.StatePurchased || p.Acknowledged {
		return p
	}

	log := s.log.With(
		zap.String("product_id", p.ProductID()),
		zap.String("order_id", p.OrderID),
	)

	if s.verifier != nil {
		valid, err := s.verifier.VerifyReceipt(ctx, p.RawPayload)
		if err != nil {
			log.Warn("Failed to verify purchase receipt", zap.Error(err))
			return unacknowledged(p)
		}
		if !valid {
			log.Warn("Purchase receipt failed validation")
			return unacknowledged(p)
		}
	}

	if err := s.ack(ctx, p.Token); err != nil {
		log.Warn("Failed to acknowledge purchase", zap.Error(err))
		return unacknowledged(p)
	}

	settled := p.Clone()
	settled.Acknowledged = true
	settled.State = billing.StatePurchased
	return settled
}

// SettleAll runs Settle over a batch. Acknowledgment failures are
// per-item; one bad purchase never fails the rest.
func (s *Settler) SettleAll(ctx context.Context, purchases []*billing.Purchase) []*billing.Purchase {
	out := make([]*billing.Purchase, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, s.Settle(ctx, p))
	}
	return out
}

func unacknowledged(p *billing.Purchase) *billing.Purchase {
	out := p.Clone()
	out.State = billing.StateNotAcknowledged
	return out
}
