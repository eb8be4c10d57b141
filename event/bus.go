// Package event fans purchase updates out to interested subscribers.
// The stores occasionally deliver updates outside any waiting operation,
// e.g. a deferred purchase settling after a restart or a subscription
// renewing; adapters publish those here instead of dropping them.
package event

import (
	"sync"
	"time"

	"github.com/unibilling/unibilling/billing"
)

// PurchaseUpdate is an out-of-band purchase state change reported by a
// backend.
type PurchaseUpdate struct {
	Platform  string
	Timestamp time.Time
	Purchases []*billing.Purchase
}

func (u *PurchaseUpdate) Clone() *PurchaseUpdate {
	purchases := make([]*billing.Purchase, 0, len(u.Purchases))
	for _, p := range u.Purchases {
		purchases = append(purchases, p.Clone())
	}
	return &PurchaseUpdate{
		Platform:  u.Platform,
		Timestamp: u.Timestamp,
		Purchases: purchases,
	}
}

type Handler[Key, Event any] interface {
	OnEvent(key Key, e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Key, Event any] func(Key, Event)

// OnEvent calls f(key, e).
func (f HandlerFunc[Key, Event]) OnEvent(key Key, e Event) {
	f(key, e)
}

type Bus[Key, Event any] struct {
	handlersMu sync.RWMutex
	handlers   []Handler[Key, Event]
}

func NewBus[Key, Event any]() *Bus[Key, Event] {
	return &Bus[Key, Event]{}
}

func (b *Bus[Key, Event]) AddHandler(h Handler[Key, Event]) {
	b.handlersMu.Lock()
	b.handlers = append(b.handlers, h)
	b.handlersMu.Unlock()
}

func (b *Bus[Key, Event]) OnEvent(key Key, e Event) {
	b.handlersMu.RLock()
	// Copy handlers to prevent race conditions
	handlers := make([]Handler[Key, Event], len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	// Execute handlers outside the lock
	for _, h := range handlers {
		go h.OnEvent(key, e)
	}
}

// PurchaseBus is the bus shape adapters publish to, keyed by platform.
type PurchaseBus = Bus[string, *PurchaseUpdate]
