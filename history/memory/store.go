package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/history"
	"github.com/unibilling/unibilling/query"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*history.Record
}

func NewInMemory() history.Store {
	return &InMemoryStore{
		records: map[string]*history.Record{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*history.Record)
}

func (s *InMemoryStore) RecordPurchase(ctx context.Context, platform string, purchase *billing.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[purchase.Token]; ok {
		return history.ErrExists
	}

	s.records[purchase.Token] = &history.Record{
		Platform:   platform,
		Purchase:   purchase.Clone(),
		RecordedAt: time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStore) GetPurchase(ctx context.Context, token string) (*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[token]
	if !ok {
		return nil, history.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) ListByProduct(ctx context.Context, productID string, opts ...query.Option) ([]*history.Record, error) {
	options := query.ApplyOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*history.Record
	for _, record := range s.records {
		for _, id := range record.Purchase.ProductIDs {
			if id == productID {
				records = append(records, record.Clone())
				break
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Purchase, records[j].Purchase
		if options.Order == query.OrderAsc {
			a, b = b, a
		}
		if !a.PurchasedAt.Equal(b.PurchasedAt) {
			return a.PurchasedAt.After(b.PurchasedAt)
		}
		return a.OrderID > b.OrderID
	})

	if options.Token != "" {
		resumeAt := len(records)
		for i, record := range records {
			if record.Purchase.Token == options.Token {
				resumeAt = i + 1
				break
			}
		}
		records = records[resumeAt:]
	}
	if len(records) > options.Limit {
		records = records[:options.Limit]
	}
	return records, nil
}
