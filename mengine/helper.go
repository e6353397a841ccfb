package mengine

import (
	"context"
	"log/slog"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// syncRequest is one peer's request for a block we may have.
type syncRequest struct {
	Missing   mcrypto.Digest
	Requester mcrypto.PubKey
}

// helper serves sync requests from peers, reading blocks from storage
// and replying directly to the requester's consensus inbox.
//
// It never escalates: a block we do not have is silently skipped,
// and the requester's synchronizer retries elsewhere.
type helper struct {
	log *slog.Logger

	committee mconsensus.Committee
	blocks    *blockStore
	tx        transmitter

	requests <-chan syncRequest

	done chan struct{}
}

func newHelper(
	log *slog.Logger,
	committee mconsensus.Committee,
	blocks *blockStore,
	tx transmitter,
	requests <-chan syncRequest,
) *helper {
	return &helper{
		log:       log,
		committee: committee,
		blocks:    blocks,
		tx:        tx,
		requests:  requests,
		done:      make(chan struct{}),
	}
}

func (h *helper) run(ctx context.Context) {
	defer close(h.done)

	for {
		req, ok := mchan.RecvC(ctx, h.log, h.requests, "receiving sync request")
		if !ok {
			return
		}

		addr, ok := h.committee.Address(req.Requester)
		if !ok {
			h.log.Warn("Sync request from unknown requester", "requester", req.Requester.PubKeyBytes())
			continue
		}

		b, found, err := h.blocks.Get(ctx, req.Missing)
		if err != nil {
			h.log.Warn("Failed to read block for sync request", "block", req.Missing, "err", err)
			continue
		}
		if !found {
			h.log.Debug("Sync request for unknown block", "block", req.Missing)
			continue
		}

		// Reply directly to the requester, not through broadcast.
		// The block re-enters their engine through the normal
		// proposal path.
		if err := h.tx.Send(ctx, addr, mconsensus.ProposeMessage{Block: b}); err != nil {
			h.log.Debug("Failed to answer sync request", "addr", addr, "err", err)
		}
	}
}
