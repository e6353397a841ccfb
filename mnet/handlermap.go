package mnet

import (
	"context"
	"sync"
)

// Handler consumes the inner payload of a correctly addressed frame.
// The writer can be used to send acknowledgements back on the same
// connection before or after forwarding the payload.
//
// A Dispatch error is fatal to the connection that delivered the frame,
// not to the listener.
type Handler interface {
	Dispatch(ctx context.Context, w *Writer, payload []byte) error
}

// HandlerMap is the shared validator-id-to-handler table.
//
// Lookups happen on every frame and must never block on an insert,
// hence the reader/writer lock. Entries are only ever added:
// a validator's handler lives until process teardown.
// A missing entry means the validator has not finished initializing,
// which the receiver soft-rejects rather than treating as an error.
type HandlerMap struct {
	mu sync.RWMutex
	m  map[uint64]Handler
}

func NewHandlerMap() *HandlerMap {
	return &HandlerMap{
		m: make(map[uint64]Handler),
	}
}

// Get returns the handler registered for the given validator id.
func (hm *HandlerMap) Get(validatorID uint64) (Handler, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	h, ok := hm.m[validatorID]
	return h, ok
}

// Insert registers the handler for the given validator id,
// replacing any previous entry.
func (hm *HandlerMap) Insert(validatorID uint64, h Handler) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.m[validatorID] = h
}

// IDs returns the currently registered validator ids.
func (hm *HandlerMap) IDs() []uint64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make([]uint64, 0, len(hm.m))
	for id := range hm.m {
		out = append(out, id)
	}
	return out
}
