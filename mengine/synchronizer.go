package mengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// synchronizer resolves missing causal ancestors before a block
// may be processed.
//
// A block whose parent is absent from storage is suspended here:
// a sync request goes out to the block's author, a retry timer widens
// the request to the whole committee, and the moment the parent is
// written to storage the suspended block is re-injected into the
// core's ingress for reprocessing. Missing ancestors are a normal
// condition, not an error.
type synchronizer struct {
	log *slog.Logger

	name      mcrypto.PubKey
	committee mconsensus.Committee
	blocks    *blockStore
	tx        transmitter

	retryDelay time.Duration

	// Re-injected blocks go back to the core through here.
	loopback chan<- mconsensus.Message

	mu sync.Mutex
	// Missing parent digest -> suspended children awaiting it.
	// At most one outstanding fetch per digest.
	pending map[mcrypto.Digest][]mconsensus.Block
}

func newSynchronizer(
	log *slog.Logger,
	name mcrypto.PubKey,
	committee mconsensus.Committee,
	blocks *blockStore,
	tx transmitter,
	retryDelay time.Duration,
	loopback chan<- mconsensus.Message,
) *synchronizer {
	return &synchronizer{
		log:        log,
		name:       name,
		committee:  committee,
		blocks:     blocks,
		tx:         tx,
		retryDelay: retryDelay,
		loopback:   loopback,
		pending:    make(map[mcrypto.Digest][]mconsensus.Block),
	}
}

// ancestors returns the parent and grandparent of b if both are stored.
//
// If the parent is missing, b is suspended and (ok=false) is returned
// immediately; the caller continues with other messages.
// A present parent implies a present grandparent, since a block is only
// stored after its own ancestors resolved.
func (s *synchronizer) ancestors(
	ctx context.Context, b mconsensus.Block,
) (grandparent, parent mconsensus.Block, ok bool, err error) {
	parent, found, err := s.blocks.Parent(ctx, b)
	if err != nil {
		return mconsensus.Block{}, mconsensus.Block{}, false, err
	}
	if !found {
		s.suspend(ctx, b)
		return mconsensus.Block{}, mconsensus.Block{}, false, nil
	}

	grandparent, found, err = s.blocks.Parent(ctx, parent)
	if err != nil {
		return mconsensus.Block{}, mconsensus.Block{}, false, err
	}
	if !found {
		return mconsensus.Block{}, mconsensus.Block{}, false, fmt.Errorf(
			"stored block %s is missing its own parent %s", parent.Digest(), parent.Parent(),
		)
	}

	return grandparent, parent, true, nil
}

// suspend parks b until its parent is stored,
// starting a fetch for the parent unless one is already outstanding.
func (s *synchronizer) suspend(ctx context.Context, b mconsensus.Block) {
	missing := b.Parent()

	s.mu.Lock()
	kids, fetching := s.pending[missing]
	for _, k := range kids {
		if k.Digest() == b.Digest() {
			// Already suspended; nothing more to do.
			s.mu.Unlock()
			return
		}
	}
	s.pending[missing] = append(kids, b)
	s.mu.Unlock()

	if fetching {
		return
	}

	s.log.Debug("Suspending block on missing parent",
		"block", b.Digest(), "parent", missing,
	)
	go s.fetch(ctx, missing, b.Author)
}

// fetch requests the missing block from origin, retrying against the
// whole committee on a timer, until the block lands in storage or ctx
// is canceled. Exactly one fetch runs per missing digest.
func (s *synchronizer) fetch(ctx context.Context, missing mcrypto.Digest, origin mcrypto.PubKey) {
	req := mconsensus.SyncRequestMessage{
		Missing:   missing,
		Requester: s.name,
	}

	if addr, ok := s.committee.Address(origin); ok {
		if err := s.tx.Send(ctx, addr, req); err != nil {
			s.log.Debug("Initial sync request failed; relying on retry", "parent", missing, "err", err)
		}
	}

	stored := make(chan struct{})
	go func() {
		if _, err := s.blocks.store.GetWait(ctx, missing.Bytes()); err == nil {
			close(stored)
		}
	}()

	ticker := time.NewTicker(s.retryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-stored:
			s.mu.Lock()
			kids := s.pending[missing]
			delete(s.pending, missing)
			s.mu.Unlock()

			for _, k := range kids {
				if !mchan.SendC(
					ctx, s.log,
					s.loopback, "re-injecting block after ancestor sync",
					mconsensus.Message(mconsensus.ProposeMessage{Block: k}),
				) {
					return
				}
			}
			return

		case <-ticker.C:
			s.log.Debug("Retrying sync request", "parent", missing)
			s.tx.Broadcast(ctx, s.committee.BroadcastAddresses(s.name), req)
		}
	}
}
