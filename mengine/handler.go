package mengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/mosaic-bft/mosaic/mwire"
)

// receiverHandler adapts the engine's channels to the shared receiver.
//
// Dispatch runs on the receiver's per-connection goroutine, so it only
// decodes, acknowledges, and forwards; all consensus processing stays
// on the core goroutine.
type receiverHandler struct {
	log *slog.Logger

	ingress chan<- mconsensus.Message
	helper  chan<- syncRequest
}

func (h *receiverHandler) Dispatch(ctx context.Context, w *mnet.Writer, payload []byte) error {
	m, err := mwire.UnmarshalMessage(payload)
	if err != nil {
		// A peer sending undecodable bytes gets told once and then
		// dropped; the connection state is not trustworthy anymore.
		if werr := w.WriteFrame(mnet.ReplyInvalidMessage); werr != nil {
			h.log.Debug("Failed to report invalid message", "err", werr)
		}
		return fmt.Errorf("unmarshal message: %w", err)
	}

	switch msg := m.(type) {
	case mconsensus.SyncRequestMessage:
		mchan.SendC(ctx, h.log, h.helper, "forwarding sync request", syncRequest{
			Missing:   msg.Missing,
			Requester: msg.Requester,
		})
		return nil

	case mconsensus.ProposeMessage:
		// Proposals are acknowledged before processing: the sender
		// uses the ack to pace its broadcast, not to learn the
		// proposal's fate.
		if err := w.WriteFrame(mnet.ReplyAck); err != nil {
			return fmt.Errorf("ack proposal: %w", err)
		}
		mchan.SendC(ctx, h.log, h.ingress, "forwarding proposal", m)
		return nil

	default:
		mchan.SendC(ctx, h.log, h.ingress, "forwarding consensus message", m)
		return nil
	}
}
