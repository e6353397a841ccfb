package mengine

import (
	"context"
	"log/slog"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// proposalRequest is the core's instruction to build a block:
// the round we lead, the certificate to extend,
// and the TC justifying a round skip, if any.
type proposalRequest struct {
	Round mconsensus.Round
	QC    mconsensus.QC
	TC    *mconsensus.TC
}

// proposer builds and signs block proposals when the core signals
// that this member leads the current round.
//
// The finished block goes through the core's loopback first,
// so the leader validates and votes on its own proposal through
// the same code path as everyone else's, and is then broadcast.
type proposer struct {
	log *slog.Logger

	signer    mcrypto.Signer
	committee mconsensus.Committee
	mempool   *mempoolDriver
	tx        transmitter

	requests <-chan proposalRequest
	loopback chan<- mconsensus.Message

	done chan struct{}
}

func newProposer(
	log *slog.Logger,
	signer mcrypto.Signer,
	committee mconsensus.Committee,
	mempool *mempoolDriver,
	tx transmitter,
	requests <-chan proposalRequest,
	loopback chan<- mconsensus.Message,
) *proposer {
	return &proposer{
		log:       log,
		signer:    signer,
		committee: committee,
		mempool:   mempool,
		tx:        tx,
		requests:  requests,
		loopback:  loopback,
		done:      make(chan struct{}),
	}
}

func (p *proposer) run(ctx context.Context) {
	defer close(p.done)

	for {
		req, ok := mchan.RecvC(ctx, p.log, p.requests, "receiving proposal request")
		if !ok {
			return
		}

		payload, ok := p.mempool.Poll(ctx, p.log)
		if !ok {
			return
		}
		if payload == nil {
			// No payload yet. Wait for some rather than propose an
			// empty block; if the round expires meanwhile, the stale
			// proposal is ignored by everyone's round check. Without a
			// wired mempool the wait yields an empty payload at once.
			payload, ok = p.mempool.Await(ctx, p.log)
			if !ok {
				return
			}
		}

		block, err := mconsensus.NewBlock(ctx, p.signer, req.QC, req.TC, req.Round, payload)
		if err != nil {
			p.log.Error("Failed to build block proposal", "round", req.Round, "err", err)
			continue
		}

		p.log.Info("Created block proposal", "block", block.Digest(), "round", block.Round, "payload", len(block.Payload))

		// Local processing first, then the network.
		if !mchan.SendC(
			ctx, p.log,
			p.loopback, "looping back own proposal",
			mconsensus.Message(mconsensus.ProposeMessage{Block: block}),
		) {
			return
		}

		p.tx.Broadcast(
			ctx,
			p.committee.BroadcastAddresses(p.signer.PubKey()),
			mconsensus.ProposeMessage{Block: block},
		)
	}
}
