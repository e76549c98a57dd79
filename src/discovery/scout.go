// Package discovery implements the LAN broadcast fast path: finding a
// nearby peer for the same share code without going through the public
// relay. Grounded on the teacher's src/discovery/localrelay.go, which
// already chose github.com/schollz/peerdiscovery over a hand-rolled UDP
// broadcast loop; this package keeps that choice but replaces the
// teacher's "share:<room>:<port>" text payload with the binary
// fingerprint-plus-port payload the spec's broadcast scout describes,
// matching entries by fingerprint prefix instead of an exact string.
package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/schollz/peerdiscovery"

	"github.com/flashcat/flashcat/src/relay"
)

// FingerprintSize matches crypto.FingerprintSize; duplicated here as a
// literal to avoid an import cycle (crypto has no reason to depend on
// discovery or vice versa, but keeping the constant local makes payload
// parsing self-contained).
const FingerprintSize = 32

// scanInterval and defaultTimeout match the original broadcast cadence
// (see original_source/common/src/utils/net/net_scout.rs): announce once
// per second, default scouting window of a few seconds.
const (
	scanInterval   = 1 * time.Second
	DefaultTimeout = 3 * time.Second
)

// Peer describes a discovered peer advertising the fingerprint we asked
// about.
type Peer struct {
	Address string
	Port    int
}

// buildPayload encodes fingerprint || big-endian uint16(port).
func buildPayload(fingerprint []byte, port int) []byte {
	payload := make([]byte, FingerprintSize+2)
	copy(payload, fingerprint)
	binary.BigEndian.PutUint16(payload[FingerprintSize:], uint16(port))
	return payload
}

func parsePayload(data []byte, wantFingerprint []byte) (int, bool) {
	if len(data) != FingerprintSize+2 {
		return 0, false
	}
	if !bytes.Equal(data[:FingerprintSize], wantFingerprint) {
		return 0, false
	}
	port := binary.BigEndian.Uint16(data[FingerprintSize:])
	return int(port), true
}

// Scout both announces our own (fingerprint, port) on the LAN broadcast
// address and listens for other peers doing the same, for up to timeout.
// It returns every peer whose advertised fingerprint matches fingerprint.
// A sender calls this with its local relay's port so a receiver on the
// same LAN can find it; a receiver with no local relay of its own calls
// it with port 0 purely to listen.
func Scout(fingerprint []byte, port int, timeout time.Duration) ([]Peer, error) {
	if len(fingerprint) != FingerprintSize {
		return nil, fmt.Errorf("discovery: fingerprint must be %d bytes", FingerprintSize)
	}

	discoveries, err := peerdiscovery.Discover(peerdiscovery.Settings{
		Limit:     -1,
		TimeLimit: timeout,
		Delay:     scanInterval,
		Payload:   buildPayload(fingerprint, port),
		AllowSelf: false,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: scout failed: %w", err)
	}

	var peers []Peer
	for _, d := range discoveries {
		peerPort, ok := parsePayload(d.Payload, fingerprint)
		if !ok {
			continue
		}
		peers = append(peers, Peer{Address: d.Address, Port: peerPort})
	}

	return peers, nil
}

// LocalRelay is a running sender-embedded relay plus the metadata needed
// to both advertise it over the scout and shut it down later.
type LocalRelay struct {
	Server     *relay.Server
	Port       int
	httpServer *http.Server
}

// StartLocalRelay starts a relay.Server bound to an OS-assigned port for
// the LAN fast path.
func StartLocalRelay(logger *slog.Logger) (*LocalRelay, error) {
	server := relay.NewServer(logger)
	port, httpServer, err := server.StartLocal()
	if err != nil {
		return nil, err
	}
	return &LocalRelay{Server: server, Port: port, httpServer: httpServer}, nil
}

// Shutdown stops the embedded relay's HTTP server and reaper.
func (lr *LocalRelay) Shutdown() error {
	err := relay.ShutdownLocal(lr.httpServer)
	lr.Server.Stop()
	return err
}
