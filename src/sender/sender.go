// Package sender drives the send-side state machine: relay selection,
// the share-confirmation handshake, the per-file request/ack pipeline,
// and chunked encrypted streaming. Grounded on the teacher's
// src/client/send.go SendFile, which already drives a join/handshake/
// chunk-loop over a single websocket with a local-relay preference
// (src/client/local_relay_support.go); this package keeps that shape but
// replaces the teacher's ECDH-per-session handshake and ad-hoc
// map[string]interface{} messages with the share-code-nonce Codec and
// the wire.RelayUpdate protocol, and drives it through
// src/relayconn.ConnectionManager instead of a single raw conn.
package sender

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flashcat/flashcat/src/crypto"
	"github.com/flashcat/flashcat/src/discovery"
	"github.com/flashcat/flashcat/src/netutil"
	"github.com/flashcat/flashcat/src/relayconn"
	"github.com/flashcat/flashcat/src/walk"
	"github.com/flashcat/flashcat/src/wire"

	"github.com/google/uuid"
)

// ChunkSize is the maximum plaintext size of one FileData frame.
const ChunkSize = 10 * 1024

// joinTimeout bounds how long the sender waits for Joined/Ready before
// giving up on a given relay connection.
const joinTimeout = 10 * time.Second

// State is the sender engine's state machine position.
type State int32

const (
	StateIdle State = iota
	StateConnectingRelays
	StateAwaitingReceiver
	StateSending
	StateDone
	StateRejected
	StateErrored
)

// EventKind identifies the variant of an Event surfaced to the caller's
// UI layer.
type EventKind int

const (
	EventRelayFailed EventKind = iota
	EventReceiverReject
	EventOtherClose
	EventError
	EventFileProgress
	EventFileProgressFinish
	EventContinueFile
	EventBreakPoint
	EventCompleted
)

// Event is one notification the engine emits on its Events channel.
type Event struct {
	Kind      EventKind
	FileID    uint64
	Message   string
	RelayType string
	Position  uint64
}

// Engine drives one send operation for one share code.
type Engine struct {
	ShareCode string
	RelayAddr string // public relay to dial; always set (falls back to a default)
	ForceRelay bool  // true when RelayAddr was explicitly requested: skip local relay and racing

	collector *walk.FileCollector
	codec     *crypto.Codec
	fprint    [crypto.FingerprintSize]byte
	logger    *slog.Logger

	Events chan Event

	state           State
	cm              *relayconn.ConnectionManager
	localRelay      *discovery.LocalRelay
	localRelayAddr  string
	localRelayPort  int
}

// New builds a send Engine for the given share code and pre-walked file
// collector.
func New(shareCode, relayAddr string, collector *walk.FileCollector, logger *slog.Logger) (*Engine, error) {
	codec, err := crypto.NewCodec(shareCode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client_id", uuid.New().String())
	return &Engine{
		ShareCode: shareCode,
		RelayAddr: relayAddr,
		collector: collector,
		codec:     codec,
		fprint:    crypto.Fingerprint(shareCode),
		logger:    logger,
		Events:    make(chan Event, 64),
		state:     StateIdle,
	}, nil
}

// State returns the engine's current state machine position.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) emit(ev Event) {
	select {
	case e.Events <- ev:
	default:
		e.logger.Warn("sender event channel full, dropping event", "kind", ev.Kind)
	}
}

// Run executes the full send protocol against the selected relay(s) and
// blocks until completion, rejection, or error.
func (e *Engine) Run(ctx context.Context) error {
	e.state = StateConnectingRelays
	e.cm = relayconn.NewConnectionManager(e.logger)
	defer e.cm.Close()
	defer func() {
		if e.localRelay != nil {
			e.localRelay.Shutdown()
		}
	}()

	if err := e.connectRelays(ctx); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventRelayFailed, Message: err.Error()})
		return err
	}

	if err := e.joinAndWaitReady(ctx); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	e.state = StateAwaitingReceiver
	accepted, err := e.sendRequestAndWaitConfirm()
	if err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}
	if !accepted {
		e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindDone})
		e.state = StateRejected
		e.emit(Event{Kind: EventReceiverReject})
		return nil
	}

	e.state = StateSending
	for _, fi := range e.collector.Files {
		if err := e.sendOneFile(fi); err != nil {
			e.state = StateErrored
			e.emit(Event{Kind: EventError, FileID: fi.FileID, Message: err.Error()})
			return err
		}
	}

	if err := e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindDone}); err != nil {
		e.state = StateErrored
		return err
	}
	if err := e.waitForPeerDone(); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	e.state = StateDone
	e.emit(Event{Kind: EventCompleted})
	return nil
}

// connectRelays implements §4.G relay selection. When the caller forced
// an explicit relay, only that one is dialed. Otherwise the sender
// starts its embedded local relay, dials it AND the configured public
// relay concurrently, and broadcasts the local relay's endpoint on the
// LAN — the ConnectionManager then races whichever connection becomes
// ready first, per §4.G/§9.
func (e *Engine) connectRelays(ctx context.Context) error {
	if e.ForceRelay {
		conn, err := relayconn.ConnectWithTimeout(e.RelayAddr, joinTimeout)
		if err != nil {
			return fmt.Errorf("sender: connect to relay: %w", err)
		}
		e.cm.AddConnection(conn, relayconn.ConnectionTypeInternet, e.RelayAddr)
		return nil
	}

	lr, err := discovery.StartLocalRelay(e.logger)
	if err != nil {
		return fmt.Errorf("sender: start local relay: %w", err)
	}
	e.localRelay = lr
	e.localRelayPort = lr.Port
	if ips, ipErr := netutil.GetLocalIPAddresses(); ipErr == nil && len(ips) > 0 {
		e.localRelayAddr = ips[0]
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		localURL := fmt.Sprintf("ws://127.0.0.1:%d", lr.Port)
		conn, err := relayconn.ConnectWithTimeout(localURL, joinTimeout)
		if err != nil {
			e.logger.Warn("local relay self-connect failed", "error", err)
			return
		}
		e.cm.AddConnection(conn, relayconn.ConnectionTypeLocal, localURL)
	}()

	go func() {
		defer wg.Done()
		conn, err := relayconn.ConnectWithTimeout(e.RelayAddr, joinTimeout)
		if err != nil {
			e.logger.Warn("public relay connect failed", "error", err, "relay", e.RelayAddr)
			return
		}
		e.cm.AddConnection(conn, relayconn.ConnectionTypeInternet, e.RelayAddr)
	}()

	wg.Wait()

	if e.cm.GetPreferredConnectionType() == "" {
		return fmt.Errorf("sender: failed to connect to both the local and public relays")
	}

	go func() {
		_, _ = discovery.Scout(e.fprint[:], lr.Port, discovery.DefaultTimeout)
	}()

	return nil
}

func (e *Engine) joinAndWaitReady(ctx context.Context) error {
	join := &wire.RelayUpdate{
		Kind:        wire.KindJoin,
		Role:        wire.RoleSender,
		Fingerprint: e.fprint[:],
	}
	if e.localRelayAddr != "" {
		join.LocalRelayAddr = e.localRelayAddr
		join.LocalRelayPort = uint32(e.localRelayPort)
	}
	if err := e.cm.SendMessage(join); err != nil {
		return err
	}

	joined, err := e.cm.ReceiveMessage()
	if err != nil {
		return err
	}
	if joined.Kind == wire.KindError {
		return fmt.Errorf("sender: join rejected: %s", joined.ErrorMessage)
	}
	if joined.Kind != wire.KindJoined {
		return fmt.Errorf("sender: expected joined, got %v", joined.Kind)
	}

	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindReady:
			return nil
		case wire.KindTerminated:
			return fmt.Errorf("sender: session terminated before ready")
		case wire.KindError:
			return fmt.Errorf("sender: %s", msg.ErrorMessage)
		}
	}
}

func (e *Engine) sendRequestAndWaitConfirm() (bool, error) {
	err := e.cm.SendMessage(&wire.RelayUpdate{
		Kind:          wire.KindSendRequest,
		TotalSize:     uint64(e.collector.TotalSize),
		NumFiles:      uint64(e.collector.NumFiles),
		NumFolders:    uint64(e.collector.NumFolders),
		MaxNameLength: uint32(e.collector.MaxFileNameLength),
	})
	if err != nil {
		return false, err
	}

	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return false, err
		}
		switch msg.Kind {
		case wire.KindShareConfirm:
			return msg.Accept, nil
		case wire.KindTerminated:
			return false, fmt.Errorf("sender: session terminated awaiting share confirm")
		case wire.KindError:
			return false, fmt.Errorf("sender: %s", msg.ErrorMessage)
		}
	}
}

// awaitFileConfirm waits for the receiver's reply to a NewFileRequest.
// It returns the stream offset to resume from (0 for a fresh file) and
// whether the file should be skipped entirely (receiver rejected it
// outright, distinct from a rejected resume which still starts at 0).
func (e *Engine) awaitFileConfirm(fi walk.FileInfo) (startOffset uint64, skip bool, err error) {
	for {
		msg, recvErr := e.cm.ReceiveMessage()
		if recvErr != nil {
			return 0, false, recvErr
		}
		switch msg.Kind {
		case wire.KindNewFileConfirm:
			if !msg.Accept {
				e.emit(Event{Kind: EventContinueFile, FileID: fi.FileID})
				return 0, true, nil
			}
			return 0, false, nil
		case wire.KindBreakPointConfirm:
			if !msg.Accept {
				return 0, false, nil
			}
			e.emit(Event{Kind: EventBreakPoint, FileID: fi.FileID, Position: msg.Offset})
			if sendErr := e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindBreakPoint, FileID: fi.FileID, Offset: msg.Offset}); sendErr != nil {
				return 0, false, sendErr
			}
			return msg.Offset, false, nil
		case wire.KindTerminated:
			return 0, false, fmt.Errorf("sender: session terminated awaiting file confirm")
		case wire.KindError:
			return 0, false, fmt.Errorf("sender: %s", msg.ErrorMessage)
		}
	}
}

func (e *Engine) sendOneFile(fi walk.FileInfo) error {
	err := e.cm.SendMessage(&wire.RelayUpdate{
		Kind:         wire.KindNewFileRequest,
		FileID:       fi.FileID,
		FileName:     fi.Name,
		Mode:         uint32(fi.Mode),
		RelativePath: filepath.ToSlash(fi.RelativePath),
		FileSize:     uint64(fi.Size),
		IsDir:        fi.EmptyDir,
	})
	if err != nil {
		return err
	}

	startOffset, skip, err := e.awaitFileConfirm(fi)
	if err != nil || skip {
		return err
	}

	if fi.EmptyDir {
		return nil
	}

	f, err := os.Open(fi.AccessPath)
	if err != nil {
		return fmt.Errorf("sender: open %s: %w", fi.AccessPath, err)
	}
	defer f.Close()

	if startOffset > 0 {
		if _, err := f.Seek(int64(startOffset), io.SeekStart); err != nil {
			return fmt.Errorf("sender: seek %s: %w", fi.AccessPath, err)
		}
	}

	buf := make([]byte, ChunkSize)
	offset := startOffset
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := e.codec.Encrypt(buf[:n])
			if err := e.cm.SendMessage(&wire.RelayUpdate{
				Kind:   wire.KindFileData,
				FileID: fi.FileID,
				Offset: offset,
				Data:   chunk,
			}); err != nil {
				return err
			}
			offset += uint64(n)
			e.emit(Event{Kind: EventFileProgress, FileID: fi.FileID, Position: offset})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("sender: read %s: %w", fi.AccessPath, readErr)
		}
	}

	if err := e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindFileDone, FileID: fi.FileID}); err != nil {
		return err
	}
	e.emit(Event{Kind: EventFileProgressFinish, FileID: fi.FileID})
	return nil
}

func (e *Engine) waitForPeerDone() error {
	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindDone:
			return nil
		case wire.KindTerminated:
			e.emit(Event{Kind: EventOtherClose})
			return nil
		case wire.KindError:
			return fmt.Errorf("sender: %s", msg.ErrorMessage)
		}
	}
}

// Cancel abandons the in-flight transfer: it sends Done through the
// preferred connection and closes every relay connection. The relay
// forwards that Done to the peer and does not remove the session.
func (e *Engine) Cancel() {
	if e.cm != nil {
		e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindDone})
		e.cm.Close()
	}
}
