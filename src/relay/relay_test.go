package relay

import (
	"crypto/sha256"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flashcat/flashcat/src/wire"
)

func testFingerprint(shareCode string) []byte {
	sum := sha256.Sum256([]byte(shareCode))
	return sum[:]
}

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(nil)
	srv := httptest.NewServer(s.mux())
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial relay: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestSenderJoinThenReceiverJoinTriggersReady(t *testing.T) {
	_, srv := setupTestServer(t)

	fp := testFingerprint("42-AbCd-WxYz")

	senderConn := dial(t, srv)
	defer senderConn.Close()

	if err := wire.Send(senderConn, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleSender, Fingerprint: fp}); err != nil {
		t.Fatalf("sender join send failed: %v", err)
	}

	joined, err := wire.Receive(senderConn)
	if err != nil {
		t.Fatalf("sender joined receive failed: %v", err)
	}
	if joined.Kind != wire.KindJoined {
		t.Fatalf("expected joined, got %v", joined.Kind)
	}

	receiverConn := dial(t, srv)
	defer receiverConn.Close()

	if err := wire.Send(receiverConn, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleReceiver, Fingerprint: fp}); err != nil {
		t.Fatalf("receiver join send failed: %v", err)
	}

	receiverJoined, err := wire.Receive(receiverConn)
	if err != nil {
		t.Fatalf("receiver joined receive failed: %v", err)
	}
	if receiverJoined.Kind != wire.KindJoined {
		t.Fatalf("expected joined, got %v", receiverJoined.Kind)
	}

	ready, err := wire.Receive(receiverConn)
	if err != nil {
		t.Fatalf("receiver ready receive failed: %v", err)
	}
	if ready.Kind != wire.KindReady {
		t.Fatalf("expected ready, got %v", ready.Kind)
	}

	senderReady, err := wire.Receive(senderConn)
	if err != nil {
		t.Fatalf("sender ready receive failed: %v", err)
	}
	if senderReady.Kind != wire.KindReady {
		t.Fatalf("expected ready on sender side too, got %v", senderReady.Kind)
	}
}

func TestReceiverJoinWithoutSessionIsNotFound(t *testing.T) {
	_, srv := setupTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()

	fp := testFingerprint("99-ZzZz-ZzZz")
	wire.Send(conn, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleReceiver, Fingerprint: fp})

	resp, err := wire.Receive(conn)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if resp.Kind != wire.KindError {
		t.Fatalf("expected error, got %v", resp.Kind)
	}
	if !strings.Contains(resp.ErrorMessage, "not found") {
		t.Fatalf("expected not-found error, got %q", resp.ErrorMessage)
	}
}

func TestDuplicateSenderJoinIsAlreadyExists(t *testing.T) {
	_, srv := setupTestServer(t)
	fp := testFingerprint("11-AAAA-AAAA")

	first := dial(t, srv)
	defer first.Close()
	wire.Send(first, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleSender, Fingerprint: fp})
	if resp, err := wire.Receive(first); err != nil || resp.Kind != wire.KindJoined {
		t.Fatalf("expected first sender to join, got %v err=%v", resp, err)
	}

	second := dial(t, srv)
	defer second.Close()
	wire.Send(second, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleSender, Fingerprint: fp})

	resp, err := wire.Receive(second)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if resp.Kind != wire.KindError || !strings.Contains(resp.ErrorMessage, "already exists") {
		t.Fatalf("expected already-exists error, got %+v", resp)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	_, srv := setupTestServer(t)
	fp := testFingerprint("55-PiNg-PoNg")

	senderConn := dial(t, srv)
	defer senderConn.Close()
	wire.Send(senderConn, &wire.RelayUpdate{Kind: wire.KindJoin, Role: wire.RoleSender, Fingerprint: fp})
	wire.Receive(senderConn) // joined

	wire.Send(senderConn, &wire.RelayUpdate{Kind: wire.KindPing, Offset: 12345})

	pong, err := wire.Receive(senderConn)
	if err != nil {
		t.Fatalf("pong receive failed: %v", err)
	}
	if pong.Kind != wire.KindPong {
		t.Fatalf("expected pong, got %v", pong.Kind)
	}
	if pong.Offset != 12345 {
		t.Fatalf("expected echoed offset 12345, got %d", pong.Offset)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := setupTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := setupTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
