package mengine

import (
	"context"
	"fmt"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/mosaic-bft/mosaic/mwire"
)

// transmitter is the outbound side of the network as the engine sees it.
// Production uses [senderTransmitter]; tests substitute a recorder.
type transmitter interface {
	Send(ctx context.Context, addr string, m mconsensus.Message) error

	// Broadcast is best-effort; per-address failures are not reported.
	Broadcast(ctx context.Context, addrs []string, m mconsensus.Message)
}

// senderTransmitter adapts [*mnet.Sender] to the engine,
// stamping every frame with this instance's validator id
// so the remote dispatch layer routes it to the peer instance
// of the same logical validator.
type senderTransmitter struct {
	sender      *mnet.Sender
	validatorID uint64
}

func (t senderTransmitter) Send(ctx context.Context, addr string, m mconsensus.Message) error {
	env, err := t.envelope(m)
	if err != nil {
		return err
	}
	return t.sender.Send(ctx, addr, env)
}

func (t senderTransmitter) Broadcast(ctx context.Context, addrs []string, m mconsensus.Message) {
	env, err := t.envelope(m)
	if err != nil {
		// Marshaling our own message can only fail on a malformed
		// local value; there is nothing to deliver.
		return
	}
	t.sender.Broadcast(ctx, addrs, env)
}

func (t senderTransmitter) envelope(m mconsensus.Message) (mnet.Envelope, error) {
	payload, err := mwire.MarshalMessage(m)
	if err != nil {
		return mnet.Envelope{}, fmt.Errorf("failed to marshal outbound message: %w", err)
	}

	return mnet.Envelope{
		Version:     mnet.ProtocolVersion,
		ValidatorID: t.validatorID,
		Payload:     payload,
	}, nil
}
