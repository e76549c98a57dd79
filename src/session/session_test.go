package session

import (
	"testing"
	"time"

	"github.com/flashcat/flashcat/src/wire"
)

func newTestSession() *Session {
	return New(Metadata{FingerprintHex: "deadbeef"})
}

func TestBroadcastDeliversToBothQueues(t *testing.T) {
	s := newTestSession()
	msg := &wire.RelayUpdate{Kind: wire.KindReady}

	s.Broadcast(msg)

	select {
	case got := <-s.FromSender():
		if got.Kind != wire.KindReady {
			t.Fatalf("unexpected kind on receiver-bound queue: %v", got.Kind)
		}
	default:
		t.Fatal("expected a message on the receiver-bound queue")
	}

	select {
	case got := <-s.FromReceiver():
		if got.Kind != wire.KindReady {
			t.Fatalf("unexpected kind on sender-bound queue: %v", got.Kind)
		}
	default:
		t.Fatal("expected a message on the sender-bound queue")
	}
}

func TestAccessUpdatesIdleSince(t *testing.T) {
	s := newTestSession()
	time.Sleep(5 * time.Millisecond)
	before := s.IdleSince()
	s.Access()
	after := s.IdleSince()

	if after >= before {
		t.Fatalf("expected IdleSince to shrink after Access: before=%v after=%v", before, after)
	}
}

func TestCloseUnblocksBroadcast(t *testing.T) {
	s := newTestSession()

	// Fill both queues to capacity so a further Broadcast would block.
	for i := 0; i < QueueCapacity; i++ {
		s.ToReceiver() <- &wire.RelayUpdate{Kind: wire.KindPing}
		s.ToSender() <- &wire.RelayUpdate{Kind: wire.KindPing}
	}

	done := make(chan struct{})
	go func() {
		s.Broadcast(&wire.RelayUpdate{Kind: wire.KindTerminated})
		close(done)
	}()

	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast did not unblock after Close")
	}
}
