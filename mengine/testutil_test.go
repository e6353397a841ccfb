package mengine

import (
	"context"
	"testing"
	"time"

	"github.com/mosaic-bft/mosaic/mconsensus"
)

// sentMessage is one recorded point-to-point send.
type sentMessage struct {
	Addr string
	Msg  mconsensus.Message
}

// broadcastMessage is one recorded broadcast.
type broadcastMessage struct {
	Addrs []string
	Msg   mconsensus.Message
}

// recordTx captures outbound traffic for assertions.
type recordTx struct {
	sends      chan sentMessage
	broadcasts chan broadcastMessage
}

func newRecordTx() *recordTx {
	return &recordTx{
		sends:      make(chan sentMessage, 64),
		broadcasts: make(chan broadcastMessage, 64),
	}
}

func (r *recordTx) Send(_ context.Context, addr string, m mconsensus.Message) error {
	r.sends <- sentMessage{Addr: addr, Msg: m}
	return nil
}

func (r *recordTx) Broadcast(_ context.Context, addrs []string, m mconsensus.Message) {
	r.broadcasts <- broadcastMessage{Addrs: addrs, Msg: m}
}

func (r *recordTx) nextSend(t *testing.T) sentMessage {
	t.Helper()
	select {
	case s := <-r.sends:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for send")
		return sentMessage{}
	}
}

func (r *recordTx) nextBroadcast(t *testing.T) broadcastMessage {
	t.Helper()
	select {
	case b := <-r.broadcasts:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return broadcastMessage{}
	}
}

func (r *recordTx) expectNoSend(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.sends:
		t.Fatalf("unexpected send to %s: %v", s.Addr, s.Msg)
	default:
	}
}
