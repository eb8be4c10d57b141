package cross

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/history"
)

// WithHistory wraps a backend so every settled purchase is also written
// to a local history store. Recording failures are logged, never
// surfaced: the purchase itself succeeded and the store already charged
// the user.
func WithHistory(log *zap.Logger, b billing.Biller, store history.Store, platform string) billing.Biller {
	return &recordingBiller{
		Biller:   b,
		log:      log.With(zap.String("platform", platform)),
		store:    store,
		platform: platform,
	}
}

type recordingBiller struct {
	billing.Biller

	log      *zap.Logger
	store    history.Store
	platform string
}

func (r *recordingBiller) Purchase(ctx context.Context, productID string, kind billing.ItemKind, opts ...billing.PurchaseOption) (*billing.Purchase, error) {
	purchase, err := r.Biller.Purchase(ctx, productID, kind, opts...)
	if err == nil {
		r.record(ctx, purchase)
	}
	return purchase, err
}

func (r *recordingBiller) UpdateSubscription(ctx context.Context, oldToken, newProductID string, proration billing.Proration) (*billing.Purchase, error) {
	purchase, err := r.Biller.UpdateSubscription(ctx, oldToken, newProductID, proration)
	if err == nil {
		r.record(ctx, purchase)
	}
	return purchase, err
}

func (r *recordingBiller) record(ctx context.Context, purchase *billing.Purchase) {
	if purchase == nil || purchase.Token == "" {
		return
	}
	switch purchase.State {
	case billing.StatePurchased, billing.StateRestored:
	default:
		return
	}

	err := r.store.RecordPurchase(ctx, r.platform, purchase)
	if err != nil && !errors.Is(err, history.ErrExists) {
		r.log.Warn("Failed to record purchase",
			zap.String("token", purchase.Token),
			zap.Error(err),
		)
	}
}
