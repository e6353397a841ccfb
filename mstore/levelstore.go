package mstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelStore is the durable [Store], backed by LevelDB.
type LevelStore struct {
	db *leveldb.DB

	n *notifier
}

// NewLevelStore opens (creating if needed) a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	options := &opt.Options{
		BlockCacheCapacity: 32 * 1024 * 1024,
		WriteBuffer:        16 * 1024 * 1024,
	}

	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open block store at %s: %w", path, err)
	}

	return &LevelStore{
		db: db,
		n:  newNotifier(),
	}, nil
}

func (s *LevelStore) Put(_ context.Context, key, value []byte) error {
	// Sync write: a block we certified must survive a crash.
	if err := s.db.Put(key, value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}

	s.n.notify(string(key), value)
	return nil
}

func (s *LevelStore) Get(_ context.Context, key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load value: %w", err)
	}
	return v, nil
}

func (s *LevelStore) GetWait(ctx context.Context, key []byte) ([]byte, error) {
	return getWait(ctx, s.n, func(k []byte) ([]byte, error) {
		return s.Get(ctx, k)
	}, key)
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
