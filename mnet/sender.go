package mnet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// SenderConfig configures a [Sender].
type SenderConfig struct {
	DialTimeout time.Duration
}

// DefaultSenderConfig returns the standard sender configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		DialTimeout: 5 * time.Second,
	}
}

// Sender transmits envelope frames to peers,
// keeping one cached outbound connection per address.
// A failed write discards the cached connection and redials once;
// beyond that, delivery is the synchronizer's and peers' retry problem.
type Sender struct {
	log *slog.Logger

	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]net.Conn
}

func NewSender(log *slog.Logger, cfg SenderConfig) *Sender {
	return &Sender{
		log:         log,
		dialTimeout: cfg.DialTimeout,
		conns:       make(map[string]net.Conn),
	}
}

// Send delivers one envelope frame to addr.
func (s *Sender) Send(ctx context.Context, addr string, env Envelope) error {
	frame := env.Marshal()

	conn, err := s.conn(ctx, addr)
	if err != nil {
		return err
	}

	if err := writeFrame(conn, frame); err == nil {
		return nil
	}

	// Stale connection; drop it and retry on a fresh dial.
	s.drop(addr, conn)

	conn, err = s.conn(ctx, addr)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, frame); err != nil {
		s.drop(addr, conn)
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

// Broadcast delivers one envelope frame to every address, best-effort.
// Individual failures are logged and do not stop the remaining sends.
func (s *Sender) Broadcast(ctx context.Context, addrs []string, env Envelope) {
	for _, addr := range addrs {
		if err := s.Send(ctx, addr, env); err != nil {
			s.log.Debug("Broadcast send failed", "addr", addr, "err", err)
		}
	}
}

// Close closes all cached connections.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = make(map[string]net.Conn)
	return nil
}

func (s *Sender) conn(ctx context.Context, addr string) (net.Conn, error) {
	s.mu.Lock()
	if c, ok := s.conns[addr]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	d := net.Dialer{Timeout: s.dialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conns[addr]; ok {
		// Lost a dial race; keep the existing connection.
		_ = c.Close()
		return existing, nil
	}
	s.conns[addr] = c

	// Receivers answer frames with ack and reject markers on the same
	// connection. Nobody here consumes them, so drain continuously:
	// otherwise both sides' TCP buffers fill and writes on either end
	// block for good. The goroutine exits when the connection closes.
	go func() {
		_, _ = io.Copy(io.Discard, c)
	}()

	return c, nil
}

func (s *Sender) drop(addr string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns[addr] == conn {
		delete(s.conns, addr)
	}
	_ = conn.Close()
}
