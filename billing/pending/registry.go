// Package pending bridges callback-driven native billing APIs to a
// request/response shape: each issued native call registers a one-shot
// future that the matching asynchronous notification completes exactly once.
package pending

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrOutstanding is returned by Register under PolicyReject when an
	// operation with the same key is already awaiting its notification.
	ErrOutstanding = errors.New("pending: operation already outstanding for key")

	// ErrSuperseded rejects an operation that was replaced by a newer
	// registration under PolicyReplace.
	ErrSuperseded = errors.New("pending: operation superseded by a newer request")
)

// Policy decides what happens when a key is registered while a prior
// operation with the same key is still outstanding.
type Policy uint8

const (
	// PolicyReject fails the new registration with ErrOutstanding.
	PolicyReject Policy = iota

	// PolicyReplace lets the new registration win; the prior operation is
	// rejected with ErrSuperseded rather than left hanging.
	PolicyReplace
)

type outcome[T any] struct {
	value T
	err   error
}

// Operation is a single-completion future for one issued native call.
type Operation[T any] struct {
	key  string
	done chan outcome[T]
}

// Key returns the correlation key the operation was registered under.
func (o *Operation[T]) Key() string {
	return o.key
}

// Wait blocks until the operation is resolved or rejected, or the context
// ends. A native SDK cannot cancel an in-flight request, so a context
// timeout abandons the wait without affecting the registration.
func (o *Operation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case out := <-o.done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Registry maps correlation keys to outstanding operations of one result
// type. All methods are safe for concurrent use.
type Registry[T any] struct {
	policy Policy

	mu      sync.Mutex
	pending map[string]*Operation[T]
}

func NewRegistry[T any](policy Policy) *Registry[T] {
	return &Registry[T]{
		policy:  policy,
		pending: make(map[string]*Operation[T]),
	}
}

// Register creates the single outstanding operation for key.
func (r *Registry[T]) Register(key string) (*Operation[T], error) {
	r.mu.Lock()

	prior, exists := r.pending[key]
	if exists && r.policy == PolicyReject {
		r.mu.Unlock()
		return nil, ErrOutstanding
	}

	op := &Operation[T]{
		key:  key,
		done: make(chan outcome[T], 1),
	}
	r.pending[key] = op
	r.mu.Unlock()

	if exists {
		var zero T
		prior.done <- outcome[T]{value: zero, err: ErrSuperseded}
	}
	return op, nil
}

// Resolve completes the operation registered under key. Reports whether a
// matching operation existed; notifications without one are dropped since
// backends emit unsolicited events.
func (r *Registry[T]) Resolve(key string, value T) bool {
	return r.complete(key, outcome[T]{value: value})
}

// Reject fails the operation registered under key. Same matching semantics
// as Resolve.
func (r *Registry[T]) Reject(key string, err error) bool {
	var zero T
	return r.complete(key, outcome[T]{value: zero, err: err})
}

func (r *Registry[T]) complete(key string, out outcome[T]) bool {
	r.mu.Lock()
	op, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	// Buffered channel, and the map entry is gone, so this never blocks
	// and never double-completes.
	op.done <- out
	return true
}

// RejectAll fails every outstanding operation, e.g. when the native
// connection drops and cannot be re-established.
func (r *Registry[T]) RejectAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*Operation[T])
	r.mu.Unlock()

	var zero T
	for _, op := range pending {
		op.done <- outcome[T]{value: zero, err: err}
	}
}

// Outstanding returns the number of operations awaiting completion.
func (r *Registry[T]) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// NewKey derives a fresh per-call correlation key for operations the
// backend allows concurrently.
func NewKey(prefix string) string {
	return prefix + ":" + uuid.NewString()
}
