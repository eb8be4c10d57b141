package memory

import (
	"testing"

	"github.com/unibilling/unibilling/history/tests"
)

func TestInMemoryStore(t *testing.T) {
	store := NewInMemory()
	teardown := func() {
		store.(*InMemoryStore).reset()
	}
	tests.RunStoreTests(t, store, teardown)
}
