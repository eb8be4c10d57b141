// Package history persists a local record of completed purchases so the
// application can audit entitlements independently of what the stores
// report.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/query"
)

var (
	ErrExists   = errors.New("purchase already recorded")
	ErrNotFound = errors.New("purchase not found")
)

// Record is one recorded purchase. Platform names the backend that
// produced it.
type Record struct {
	Platform   string
	Purchase   *billing.Purchase
	RecordedAt time.Time
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Platform:   r.Platform,
		Purchase:   r.Purchase.Clone(),
		RecordedAt: r.RecordedAt,
	}
}

type Store interface {
	// RecordPurchase stores a purchase keyed by its token. Recording the
	// same token twice returns ErrExists.
	RecordPurchase(ctx context.Context, platform string, purchase *billing.Purchase) error

	// GetPurchase returns the record for a token, or ErrNotFound.
	GetPurchase(ctx context.Context, token string) (*Record, error)

	// ListByProduct returns the records covering a product, newest
	// purchase first by default. The paging token is a record's purchase
	// token; listing resumes after it.
	ListByProduct(ctx context.Context, productID string, opts ...query.Option) ([]*Record, error)
}
