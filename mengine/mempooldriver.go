package mengine

import (
	"context"
	"log/slog"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

// mempoolDriver bridges the engine to the external mempool:
// it buffers the inbound stream of batch digests for the proposer,
// and forwards committed payloads back for removal.
//
// A nil digest source means no mempool is wired; the proposer then
// gets empty payloads instead of blocking for batches that will
// never arrive.
type mempoolDriver struct {
	log *slog.Logger

	digests <-chan mcrypto.Digest
	cleanup chan<- []mcrypto.Digest

	maxPayload int

	requests chan payloadRequest

	done chan struct{}
}

type payloadRequest struct {
	// When true and no payload is buffered,
	// the response is deferred until a digest arrives.
	wait bool

	resp chan []mcrypto.Digest
}

func newMempoolDriver(
	log *slog.Logger,
	digests <-chan mcrypto.Digest,
	cleanup chan<- []mcrypto.Digest,
	maxPayload int,
) *mempoolDriver {
	return &mempoolDriver{
		log:        log,
		digests:    digests,
		cleanup:    cleanup,
		maxPayload: maxPayload,
		requests:   make(chan payloadRequest, channelCapacity),
		done:       make(chan struct{}),
	}
}

func (d *mempoolDriver) run(ctx context.Context) {
	defer close(d.done)

	var buf []mcrypto.Digest
	var waiters []chan []mcrypto.Digest

	for {
		select {
		case <-ctx.Done():
			return

		case digest := <-d.digests:
			buf = append(buf, digest)
			if len(waiters) > 0 {
				// Oldest waiter gets everything buffered so far.
				w := waiters[0]
				waiters = waiters[1:]
				w <- d.take(&buf)
			}

		case req := <-d.requests:
			if len(buf) > 0 {
				req.resp <- d.take(&buf)
				continue
			}
			if req.wait && d.digests != nil {
				waiters = append(waiters, req.resp)
				continue
			}
			req.resp <- nil
		}
	}
}

func (d *mempoolDriver) take(buf *[]mcrypto.Digest) []mcrypto.Digest {
	n := len(*buf)
	if n > d.maxPayload {
		n = d.maxPayload
	}
	out := make([]mcrypto.Digest, n)
	copy(out, (*buf)[:n])
	*buf = (*buf)[n:]
	return out
}

// Poll returns buffered payload digests without waiting.
// A nil slice means no payload is available right now.
func (d *mempoolDriver) Poll(ctx context.Context, log *slog.Logger) ([]mcrypto.Digest, bool) {
	req := payloadRequest{resp: make(chan []mcrypto.Digest, 1)}
	return mchan.ReqResp(ctx, log, d.requests, req, req.resp, "polling mempool payload")
}

// Await blocks until payload is available or ctx is canceled.
func (d *mempoolDriver) Await(ctx context.Context, log *slog.Logger) ([]mcrypto.Digest, bool) {
	req := payloadRequest{wait: true, resp: make(chan []mcrypto.Digest, 1)}
	return mchan.ReqResp(ctx, log, d.requests, req, req.resp, "awaiting mempool payload")
}

// Remove tells the mempool to drop the payload of a committed block.
// Removal is idempotent on the mempool side;
// re-removing an already-removed digest is a no-op there.
func (d *mempoolDriver) Remove(ctx context.Context, log *slog.Logger, b mconsensus.Block) {
	if len(b.Payload) == 0 || d.cleanup == nil {
		return
	}
	_ = mchan.SendC(ctx, log, d.cleanup, "forwarding committed payload for removal", b.Payload)
}
