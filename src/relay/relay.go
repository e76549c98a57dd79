// Package relay implements the rendezvous service: it pairs a Sender and
// a Receiver under one share-code fingerprint and forwards wire.RelayUpdate
// frames between them. Grounded on the teacher's src/relay/relay.go
// Client/Room/wsHandler design, generalized from JSON/protobuf dual-format
// rooms keyed by arbitrary room IDs to the spec's fingerprint-keyed
// Session/Registry pair with a strict Join/Channel/Close state machine.
package relay

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flashcat/flashcat/src/netutil"
	"github.com/flashcat/flashcat/src/ratelimit"
	"github.com/flashcat/flashcat/src/session"
	"github.com/flashcat/flashcat/src/sessionlog"
	"github.com/flashcat/flashcat/src/wire"
)

// sendRetries and sendRetryDelay match the spec's outbound-queue retry
// policy: 3 attempts, 100ms apart, before a peer is abandoned.
const (
	sendRetries    = 3
	sendRetryDelay = 100 * time.Millisecond
)

// closeSettleDelay is how long the relay waits after broadcasting
// Terminated so both peers have a chance to observe it before teardown.
const closeSettleDelay = 100 * time.Millisecond

// Server is one relay instance. A process may run two: a small embedded
// one for the LAN fast path (StartLocal) and, independently, the public
// relay (Start).
type Server struct {
	Registry    *session.Registry
	JoinLimiter *ratelimit.PerIPLimiter
	SessionLog  *sessionlog.Log // optional; nil disables audit logging
	ExternalIP  string          // dial-back address announced to clients, if set
	IsLocal     bool            // true when this instance is the sender-embedded relay

	logger    *slog.Logger
	upgrader  websocket.Upgrader
	startedAt time.Time

	port int

	sessionsTotal  int64
	bytesForwarded int64
	activeConns    int64
}

// NewServer constructs a relay Server. Pass a nil logger to use slog's
// default logger.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Registry:    session.NewRegistry(logger),
		JoinLimiter: ratelimit.NewJoinLimiter(),
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			ip = strings.TrimSpace(forwarded[:idx])
		} else {
			ip = strings.TrimSpace(forwarded)
		}
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ip = realIP
	}
	if idx := strings.LastIndex(ip, ":"); idx > 0 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if s.JoinLimiter != nil && !s.JoinLimiter.Allow(ip) {
		s.logger.Warn("rate limited join attempt", "ip", ip)
		http.Error(w, "rate limited, try again later", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&s.activeConns, 1)
	defer atomic.AddInt64(&s.activeConns, -1)

	s.handleConn(conn, ip)
}

// handleConn implements the Join/Channel state machine for one websocket
// connection: the first frame must be Join, after which the relay runs a
// forwarding loop between this peer's stream and the other peer's queues.
func (s *Server) handleConn(conn *websocket.Conn, ip string) {
	first, err := wire.Receive(conn)
	if err != nil {
		return
	}
	if first.Kind != wire.KindJoin {
		wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindError, ErrorMessage: "first frame must be join"})
		return
	}

	fingerprintHex := hex.EncodeToString(first.Fingerprint)
	if fingerprintHex == "" {
		wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindError, ErrorMessage: "missing fingerprint"})
		return
	}

	sess, err := s.join(fingerprintHex, first.Role, ip, first)
	if err != nil {
		wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindError, ErrorMessage: err.Error()})
		return
	}
	sess.Access()

	reachableIP, reachablePort := s.reachableAddr()
	wire.Send(conn, &wire.RelayUpdate{
		Kind:           wire.KindJoined,
		LocalRelayAddr: reachableIP,
		LocalRelayPort: uint32(reachablePort),
	})

	if first.Role == wire.RoleReceiver {
		ready := &wire.RelayUpdate{Kind: wire.KindReady}
		if sess.Metadata.SenderLocalRelay != nil {
			ready.LocalRelayAddr = sess.Metadata.SenderLocalRelay.IP
			ready.LocalRelayPort = uint32(sess.Metadata.SenderLocalRelay.Port)
		}
		sess.Broadcast(ready)
	}

	var outbound <-chan *wire.RelayUpdate
	var inbound chan<- *wire.RelayUpdate
	if first.Role == wire.RoleSender {
		outbound = sess.FromReceiver()
		inbound = sess.ToReceiver()
	} else {
		outbound = sess.FromSender()
		inbound = sess.ToSender()
	}

	done := make(chan struct{})
	go s.writeLoop(conn, sess, outbound, done)
	s.readLoop(conn, sess, fingerprintHex, inbound)
	close(done)
}

// join implements the Join RPC: a Sender creates a fresh session (failing
// on a duplicate fingerprint still in use); a Receiver attaches to an
// existing one.
func (s *Server) join(fingerprintHex string, role wire.Role, ip string, first *wire.RelayUpdate) (*session.Session, error) {
	switch role {
	case wire.RoleSender:
		if _, exists := s.Registry.Get(fingerprintHex); exists {
			return nil, fmt.Errorf("already exists")
		}
		meta := session.Metadata{FingerprintHex: fingerprintHex}
		if first.LocalRelayAddr != "" {
			meta.SenderLocalRelay = &session.Endpoint{IP: first.LocalRelayAddr, Port: int(first.LocalRelayPort)}
		}
		sess := session.New(meta)
		s.Registry.Insert(sess)
		atomic.AddInt64(&s.sessionsTotal, 1)
		if s.SessionLog != nil {
			s.SessionLog.StartSession(fingerprintHex, ip, "")
		}
		return sess, nil
	case wire.RoleReceiver:
		sess, ok := s.Registry.Get(fingerprintHex)
		if !ok {
			return nil, fmt.Errorf("not found, please check share code")
		}
		if s.SessionLog != nil {
			s.SessionLog.StartSession(fingerprintHex, "", ip)
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("unknown client role")
	}
}

// readLoop consumes inbound frames from conn and either answers them
// directly (Ping) or forwards them onto the other peer's queue. A Done
// frame is forwarded like any other: it is the reciprocal Done round
// trip, not this loop, that ends a normal transfer, so the session stays
// registered until the peers disconnect on their own or the idle reaper
// reclaims it. Close remains available for explicit cancellation.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session, fingerprintHex string, forwardTo chan<- *wire.RelayUpdate) {
	joinSeen := false
	for {
		msg, err := wire.Receive(conn)
		if err != nil {
			return
		}
		if msg.Kind != wire.KindPing {
			sess.Access()
		}

		switch msg.Kind {
		case wire.KindPing:
			wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindPong, Offset: msg.Offset})
			continue
		case wire.KindJoin:
			if joinSeen {
				wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindError, ErrorMessage: "unexpected join"})
				continue
			}
			joinSeen = true
			continue
		}

		var bytesThisFrame int64
		if len(msg.Data) > 0 {
			bytesThisFrame = int64(len(msg.Data))
			atomic.AddInt64(&s.bytesForwarded, bytesThisFrame)
		}

		select {
		case forwardTo <- msg:
		case <-sess.Shutdown.Done():
			return
		}

		if bytesThisFrame > 0 && s.SessionLog != nil {
			s.SessionLog.AddBytes(fingerprintHex, bytesThisFrame)
		}
	}
}

// writeLoop drains the peer's inbound queue onto conn, making up to
// sendRetries attempts per frame before abandoning this connection, and
// reacting to session shutdown by announcing it and returning.
func (s *Server) writeLoop(conn *websocket.Conn, sess *session.Session, queue <-chan *wire.RelayUpdate, done <-chan struct{}) {
	for {
		select {
		case msg := <-queue:
			if !s.sendWithRetry(conn, msg) {
				conn.Close()
				return
			}
		case <-sess.Shutdown.Done():
			wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindError, ErrorMessage: "disconnecting because session terminated"})
			return
		case <-done:
			return
		}
	}
}

func (s *Server) sendWithRetry(conn *websocket.Conn, msg *wire.RelayUpdate) bool {
	var err error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if err = wire.Send(conn, msg); err == nil {
			return true
		}
		time.Sleep(sendRetryDelay)
	}
	s.logger.Warn("abandoning peer after repeated send failures", "error", err)
	return false
}

// Close implements the Close RPC: broadcast Terminated, give peers time to
// observe it, then remove the session from the registry.
func (s *Server) Close(fingerprintHex string) {
	sess, ok := s.Registry.Get(fingerprintHex)
	if !ok {
		return
	}

	sess.Broadcast(&wire.RelayUpdate{Kind: wire.KindTerminated})
	time.Sleep(closeSettleDelay)

	s.Registry.Remove(fingerprintHex)
	sess.Close()

	if s.SessionLog != nil {
		s.SessionLog.EndSession(fingerprintHex)
	}
}

// reachableAddr returns the relay's own ip/port as it should be announced
// to clients: ExternalIP if configured, otherwise a best-effort local IP
// probe. The port is the one the server is listening on.
func (s *Server) reachableAddr() (string, int) {
	if s.ExternalIP != "" {
		return s.ExternalIP, s.port
	}
	ips, err := netutil.GetLocalIPAddresses()
	if err != nil || len(ips) == 0 {
		return "", s.port
	}
	return ips[0], s.port
}
