package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unibilling/unibilling/billing"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus[string, *PurchaseUpdate]()

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var received []string

	for i := 0; i < 2; i++ {
		bus.AddHandler(HandlerFunc[string, *PurchaseUpdate](func(key string, e *PurchaseUpdate) {
			mu.Lock()
			received = append(received, key)
			mu.Unlock()
			wg.Done()
		}))
	}

	bus.OnEvent("playstore", &PurchaseUpdate{
		Platform:  "playstore",
		Timestamp: time.Now(),
		Purchases: []*billing.Purchase{{
			ProductIDs: []string{"coin_100"},
			Token:      "token-1",
			State:      billing.StatePurchased,
		}},
	})

	wg.Wait()
	require.Equal(t, []string{"playstore", "playstore"}, received)
}

func TestBusNoHandlers(t *testing.T) {
	bus := NewBus[string, *PurchaseUpdate]()
	bus.OnEvent("appstore", &PurchaseUpdate{Platform: "appstore"})
}

func TestPurchaseUpdateClone(t *testing.T) {
	update := &PurchaseUpdate{
		Platform: "playstore",
		Purchases: []*billing.Purchase{{
			ProductIDs: []string{"coin_100"},
			Token:      "token-1",
		}},
	}

	clone := update.Clone()
	clone.Purchases[0].Token = "mutated"
	require.Equal(t, "token-1", update.Purchases[0].Token)
}
