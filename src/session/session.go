// Package session implements the relay's per-share-code Session and the
// fingerprint-keyed Registry that owns them, grounded on the teacher's
// relay.Room/Client bookkeeping in src/relay/relay.go but generalized to
// the spec's bounded non-dropping queue pair and idle-reaper lifecycle.
package session

import (
	"sync"
	"time"

	"github.com/flashcat/flashcat/src/shutdown"
	"github.com/flashcat/flashcat/src/wire"
)

// QueueCapacity is the bound on each directional queue. The queues never
// drop: a full queue back-pressures the writer until the reader drains it
// or the session shuts down.
const QueueCapacity = 256

// IdleTimeout is how long a session may go without an access() call
// before the reaper considers it abandoned.
const IdleTimeout = 300 * time.Second

// ReapInterval is how often the registry sweeps for idle sessions.
const ReapInterval = IdleTimeout / 5

// Endpoint is a reachable host:port pair, used for the sender-advertised
// LAN relay endpoint carried in Metadata.
type Endpoint struct {
	IP   string
	Port int
}

// Metadata describes the session's identity and any LAN fast-path hint.
type Metadata struct {
	FingerprintHex   string
	SenderLocalRelay *Endpoint
}

// Session is a per-fingerprint object pairing a Sender and a Receiver.
// It holds two bounded queues (sender-to-receiver and receiver-to-sender),
// a last-accessed timestamp, and a shutdown signal.
type Session struct {
	Metadata Metadata

	toReceiver chan *wire.RelayUpdate
	toSender   chan *wire.RelayUpdate

	mu           sync.Mutex
	lastAccessed time.Time

	Shutdown *shutdown.Signal
}

// New constructs a Session for the given metadata.
func New(meta Metadata) *Session {
	return &Session{
		Metadata:     meta,
		toReceiver:   make(chan *wire.RelayUpdate, QueueCapacity),
		toSender:     make(chan *wire.RelayUpdate, QueueCapacity),
		lastAccessed: time.Now(),
		Shutdown:     shutdown.New(),
	}
}

// ToReceiver returns the queue carrying sender-originated frames.
func (s *Session) ToReceiver() chan<- *wire.RelayUpdate { return s.toReceiver }

// FromSender returns the receive side of the sender-to-receiver queue,
// used by the receiver's forwarding loop.
func (s *Session) FromSender() <-chan *wire.RelayUpdate { return s.toReceiver }

// ToSender returns the queue carrying receiver-originated frames.
func (s *Session) ToSender() chan<- *wire.RelayUpdate { return s.toSender }

// FromReceiver returns the receive side of the receiver-to-sender queue,
// used by the sender's forwarding loop.
func (s *Session) FromReceiver() <-chan *wire.RelayUpdate { return s.toSender }

// Broadcast pushes one copy of msg into each queue, honoring shutdown.
// Used for Ready and Terminated frames, which both peers must observe.
func (s *Session) Broadcast(msg *wire.RelayUpdate) {
	select {
	case s.toReceiver <- msg:
	case <-s.Shutdown.Done():
		return
	}
	select {
	case s.toSender <- msg:
	case <-s.Shutdown.Done():
	}
}

// Access updates last_accessed. Called on every inbound non-keepalive
// frame so the idle reaper leaves active sessions alone.
func (s *Session) Access() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last Access call.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccessed)
}

// Close fires the shutdown signal. Safe to call more than once.
func (s *Session) Close() {
	s.Shutdown.Fire()
}
