package mnet_test

import (
	"context"
	"testing"

	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/stretchr/testify/require"
)

type nopHandler struct{}

func (nopHandler) Dispatch(context.Context, *mnet.Writer, []byte) error { return nil }

func TestHandlerMap(t *testing.T) {
	t.Parallel()

	hm := mnet.NewHandlerMap()

	_, ok := hm.Get(1)
	require.False(t, ok)
	require.Empty(t, hm.IDs())

	h := nopHandler{}
	hm.Insert(1, h)
	hm.Insert(42, h)

	got, ok := hm.Get(1)
	require.True(t, ok)
	require.Equal(t, h, got)

	_, ok = hm.Get(2)
	require.False(t, ok)

	require.ElementsMatch(t, []uint64{1, 42}, hm.IDs())
}

func TestHandlerMap_InsertReplaces(t *testing.T) {
	t.Parallel()

	hm := mnet.NewHandlerMap()

	first := &countingHandler{}
	second := &countingHandler{}

	hm.Insert(5, first)
	hm.Insert(5, second)

	got, ok := hm.Get(5)
	require.True(t, ok)
	require.Same(t, second, got.(*countingHandler))
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) Dispatch(context.Context, *mnet.Writer, []byte) error {
	h.calls++
	return nil
}
