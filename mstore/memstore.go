package mstore

import (
	"bytes"
	"context"
	"sync"
)

// MemStore is an in-memory [Store], for tests and throwaway nodes.
type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte

	n *notifier
}

func NewMemStore() *MemStore {
	return &MemStore{
		m: make(map[string][]byte),
		n: newNotifier(),
	}
}

func (s *MemStore) Put(_ context.Context, key, value []byte) error {
	v := bytes.Clone(value)

	s.mu.Lock()
	s.m[string(key)] = v
	s.mu.Unlock()

	s.n.notify(string(key), v)
	return nil
}

func (s *MemStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *MemStore) GetWait(ctx context.Context, key []byte) ([]byte, error) {
	return getWait(ctx, s.n, func(k []byte) ([]byte, error) {
		return s.Get(ctx, k)
	}, key)
}
