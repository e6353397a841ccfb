package mstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaic-bft/mosaic/mstore"
	"github.com/stretchr/testify/require"
)

// storeFactory builds a fresh empty store for one test.
type storeFactory func(t *testing.T) mstore.Store

func storeImplementations() map[string]storeFactory {
	return map[string]storeFactory{
		"mem": func(t *testing.T) mstore.Store {
			return mstore.NewMemStore()
		},
		"leveldb": func(t *testing.T) mstore.Store {
			s, err := mstore.NewLevelStore(filepath.Join(t.TempDir(), "db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeImplementations() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t)
			ctx := context.Background()

			_, err := s.Get(ctx, []byte("missing"))
			require.ErrorIs(t, err, mstore.ErrNotFound)

			require.NoError(t, s.Put(ctx, []byte("k"), []byte("v1")))

			got, err := s.Get(ctx, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), got)

			// Overwrite is allowed; last write wins.
			require.NoError(t, s.Put(ctx, []byte("k"), []byte("v2")))
			got, err = s.Get(ctx, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), got)
		})
	}
}

func TestStore_GetWait_AlreadyPresent(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeImplementations() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))

			got, err := s.GetWait(ctx, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
		})
	}
}

func TestStore_GetWait_WokenByPut(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeImplementations() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t)
			ctx := context.Background()

			type result struct {
				v   []byte
				err error
			}
			res := make(chan result, 1)
			go func() {
				v, err := s.GetWait(ctx, []byte("k"))
				res <- result{v, err}
			}()

			// Give the waiter a moment to block before writing.
			time.Sleep(50 * time.Millisecond)
			require.NoError(t, s.Put(ctx, []byte("k"), []byte("late value")))

			select {
			case r := <-res:
				require.NoError(t, r.err)
				require.Equal(t, []byte("late value"), r.v)
			case <-time.After(5 * time.Second):
				t.Fatal("GetWait never woke up")
			}
		})
	}
}

func TestStore_GetWait_CanceledContext(t *testing.T) {
	t.Parallel()

	for name, newStore := range storeImplementations() {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t)

			ctx, cancel := context.WithCancel(context.Background())
			res := make(chan error, 1)
			go func() {
				_, err := s.GetWait(ctx, []byte("never written"))
				res <- err
			}()

			cancel()

			select {
			case err := <-res:
				require.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("GetWait never returned after cancel")
			}
		})
	}
}

func TestLevelStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	s, err := mstore.NewLevelStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = mstore.NewLevelStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
