// Package mstore defines the durable block store contract
// and its LevelDB and in-memory implementations.
package mstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound indicates a key with no stored value.
var ErrNotFound = errors.New("key not found")

// Store is the get/put contract the engine depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put durably stores value under key.
	Put(ctx context.Context, key, value []byte) error

	// Get returns the value stored under key,
	// or [ErrNotFound] if there is none.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetWait returns the value stored under key,
	// blocking until a Put for that key happens or ctx is canceled.
	// The synchronizer uses this to resume a suspended block
	// the moment its missing ancestor is written.
	GetWait(ctx context.Context, key []byte) ([]byte, error)
}

// notifier wakes GetWait callers when their key is written.
// Shared by both store implementations.
type notifier struct {
	mu      sync.Mutex
	waiters map[string][]chan []byte
}

func newNotifier() *notifier {
	return &notifier{
		waiters: make(map[string][]chan []byte),
	}
}

func (n *notifier) register(key string) chan []byte {
	// Buffered so notify never blocks on a departed waiter.
	ch := make(chan []byte, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiters[key] = append(n.waiters[key], ch)
	return ch
}

func (n *notifier) unregister(key string, ch chan []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ws := n.waiters[key]
	for i, w := range ws {
		if w == ch {
			n.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(n.waiters[key]) == 0 {
		delete(n.waiters, key)
	}
}

func (n *notifier) notify(key string, value []byte) {
	n.mu.Lock()
	ws := n.waiters[key]
	delete(n.waiters, key)
	n.mu.Unlock()

	for _, ch := range ws {
		ch <- value
	}
}

// getWait implements the common GetWait flow over a plain Get.
func getWait(
	ctx context.Context,
	n *notifier,
	get func(key []byte) ([]byte, error),
	key []byte,
) ([]byte, error) {
	if v, err := get(key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ch := n.register(string(key))
	defer n.unregister(string(key), ch)

	// Re-check after registering, or a Put between the first Get
	// and the registration would be missed.
	if v, err := get(key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v := <-ch:
		return v, nil
	}
}
