package mengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
	"github.com/mosaic-bft/mosaic/mstore"
	"github.com/mosaic-bft/mosaic/mwire"
)

// blockStore reads and writes blocks keyed by digest
// on top of the raw byte store.
type blockStore struct {
	store mstore.Store
}

func newBlockStore(store mstore.Store) *blockStore {
	return &blockStore{store: store}
}

func (bs *blockStore) Put(ctx context.Context, b mconsensus.Block) error {
	buf, err := mwire.MarshalBlock(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block for storage: %w", err)
	}

	return bs.store.Put(ctx, b.Digest().Bytes(), buf)
}

func (bs *blockStore) Get(ctx context.Context, d mcrypto.Digest) (mconsensus.Block, bool, error) {
	buf, err := bs.store.Get(ctx, d.Bytes())
	if errors.Is(err, mstore.ErrNotFound) {
		return mconsensus.Block{}, false, nil
	}
	if err != nil {
		return mconsensus.Block{}, false, err
	}

	b, err := mwire.UnmarshalBlock(buf)
	if err != nil {
		return mconsensus.Block{}, false, fmt.Errorf("failed to unmarshal stored block %s: %w", d, err)
	}
	return b, true, nil
}

// Parent resolves the block b extends.
// The genesis certificate short-circuits to the genesis block,
// which has no digest reference on the wire.
func (bs *blockStore) Parent(ctx context.Context, b mconsensus.Block) (mconsensus.Block, bool, error) {
	if b.QC.Equal(mconsensus.GenesisQC()) {
		return mconsensus.GenesisBlock(), true, nil
	}

	return bs.Get(ctx, b.Parent())
}
