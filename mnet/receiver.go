package mnet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
)

// Reply markers written back on the same connection.
// They are raw byte sequences, not part of the message codec,
// consumed by the reliable-delivery layer on the sending side.
var (
	// ReplyAck confirms receipt of a proposal.
	ReplyAck = []byte("Ack")

	// ReplyVersionMismatch soft-rejects a frame with the wrong
	// envelope version. The connection stays open: closing it would
	// make a well-behaved reliable sender treat the rejection as a
	// transient failure and hammer us with reconnects.
	ReplyVersionMismatch = []byte("Version mismatch")

	// ReplyNoHandler soft-rejects a frame for a validator id with no
	// registered handler yet. Registration is asynchronous, so this
	// is expected to self-heal; the connection stays open for the
	// same reason as a version mismatch.
	ReplyNoHandler = []byte("No handler found")

	// ReplyInvalidMessage reports an undecodable frame.
	// Unlike the soft rejections, this closes the connection,
	// since framing can no longer be trusted.
	ReplyInvalidMessage = []byte("Invalid message")
)

// ReceiverConfig configures a [Receiver].
type ReceiverConfig struct {
	// Address to listen on, host:port.
	Address string

	// Shared validator handler table.
	Handlers *HandlerMap

	// Short label for log lines, e.g. "consensus".
	Name string
}

// Receiver accepts connections on one listener and demultiplexes
// length-delimited envelope frames to per-validator handlers.
//
// Per accepted connection the state machine is:
// await a frame, classify it (invalid envelope / version mismatch /
// no handler / dispatch), and loop until the peer disconnects
// or a connection-fatal condition occurs.
type Receiver struct {
	log *slog.Logger

	name     string
	handlers *HandlerMap

	ln net.Listener

	done chan struct{}
}

// NewReceiver starts listening immediately and accepts connections
// in the background until ctx is canceled.
func NewReceiver(ctx context.Context, log *slog.Logger, cfg ReceiverConfig) (*Receiver, error) {
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		log:      log,
		name:     cfg.Name,
		handlers: cfg.Handlers,
		ln:       ln,
		done:     make(chan struct{}),
	}

	go r.acceptLoop(ctx)
	go r.waitForShutdown(ctx)

	log.Info("Listening", "name", r.name, "addr", ln.Addr().String())
	return r, nil
}

// Addr returns the bound listener address,
// useful when configured with port zero.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Wait blocks until the accept loop has returned.
// In-flight connections are closed via context cancellation.
func (r *Receiver) Wait() {
	<-r.done
}

func (r *Receiver) waitForShutdown(ctx context.Context) {
	select {
	case <-r.done:
	case <-ctx.Done():
		_ = r.ln.Close()
	}
}

func (r *Receiver) acceptLoop(ctx context.Context) {
	defer close(r.done)

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("Failed to accept connection", "name", r.name, "err", err)
			continue
		}

		r.log.Debug("Accepted connection", "name", r.name, "peer", conn.RemoteAddr().String())
		go r.handleConn(ctx, conn)
	}
}

func (r *Receiver) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the read loop when ctx is canceled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	peer := conn.RemoteAddr().String()
	w := &Writer{w: conn}

	// Handler lookups resolved on this connection.
	// Caching skips the table's read lock on the hot path;
	// entries are never removed, so a cached handler cannot go stale.
	cache := make(map[uint64]Handler)

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.log.Debug("Connection read failed", "name", r.name, "peer", peer, "err", err)
			}
			return
		}

		env, err := ParseEnvelope(frame)
		if err != nil {
			_ = w.WriteFrame(ReplyInvalidMessage)
			r.log.Warn("Closing connection on undecodable frame", "name", r.name, "peer", peer, "err", err)
			return
		}

		if env.Version != ProtocolVersion {
			_ = w.WriteFrame(ReplyVersionMismatch)
			r.log.Warn("Version mismatch",
				"name", r.name, "peer", peer,
				"got", env.Version, "want", ProtocolVersion,
				"validator", env.ValidatorID,
			)
			continue
		}

		handler, ok := cache[env.ValidatorID]
		if !ok {
			handler, ok = r.handlers.Get(env.ValidatorID)
			if ok {
				cache[env.ValidatorID] = handler
			}
		}
		if !ok {
			// Not registered yet; retried lazily on the next frame.
			_ = w.WriteFrame(ReplyNoHandler)
			r.log.Warn("No handler for validator", "name", r.name, "peer", peer, "validator", env.ValidatorID)
			continue
		}

		if err := handler.Dispatch(ctx, w, env.Payload); err != nil {
			r.log.Warn("Handler dispatch failed; closing connection",
				"name", r.name, "peer", peer, "validator", env.ValidatorID, "err", err,
			)
			return
		}
	}
}
