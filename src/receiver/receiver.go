// Package receiver drives the recv-side state machine: relay discovery,
// the share/file confirmation flow, and file materialization with
// sparse-write resume detection. Grounded on the teacher's
// src/client/receive.go ReceiveFile, which already starts a local relay,
// dials the configured server, and streams decrypted chunks to disk;
// this package keeps that shape but replaces the ECDH handshake with the
// share-code Codec, adds the scout-then-LAN-then-public relay selection
// and the zero-chunk resume scan the teacher never implemented, and
// drives the wire.RelayUpdate protocol instead of ad-hoc JSON messages.
package receiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/flashcat/flashcat/src/crypto"
	"github.com/flashcat/flashcat/src/discovery"
	"github.com/flashcat/flashcat/src/relayconn"
	"github.com/flashcat/flashcat/src/wire"

	"github.com/google/uuid"
)

// ScanChunkSize is the block size used by the resume-detection zero scan.
const ScanChunkSize = 32 * 1024

const (
	joinTimeout     = 10 * time.Second
	lanProbeTimeout = 1 * time.Second
)

// State is the receiver engine's state machine position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingConfirm
	StateReceiving
	StateReceiveDone
	StateErrored
)

// EventKind identifies the variant of an Event surfaced to the caller's
// UI layer.
type EventKind int

const (
	EventSendFilesRequest EventKind = iota
	EventFileDuplication
	EventBreakPointDetected
	EventFileProgress
	EventFileProgressFinish
	EventReceiveDone
	EventOtherClose
	EventError
	EventShareCodeNotFound
)

// Event is one notification the engine emits on its Events channel.
type Event struct {
	Kind       EventKind
	FileID     uint64
	Path       string
	Message    string
	Position   uint64
	PercentX100 uint32
	TotalSize  uint64
	NumFiles   uint64
	NumFolders uint64
}

// Decisions lets the caller answer the three points in the protocol that
// require a human or policy decision. A nil field falls back to
// AutoAccept on Engine.
type Decisions struct {
	ConfirmShare       func(totalSize, numFiles, numFolders uint64) bool
	ConfirmDuplication func(fileID uint64, path string) bool // true = overwrite
	ConfirmBreakPoint  func(fileID uint64, position uint64, percentX100 uint32) bool
}

// Engine drives one receive operation for one share code.
type Engine struct {
	ShareCode  string
	SaveRoot   string
	RelayAddr  string // public relay to fall back to; always set
	ForceRelay bool   // true when RelayAddr was explicitly requested: skip scout
	LANMode    bool
	AutoAccept bool

	Decisions Decisions
	Events    chan Event

	codec  *crypto.Codec
	fprint [crypto.FingerprintSize]byte
	logger *slog.Logger

	state State
	cm    *relayconn.ConnectionManager
	files map[uint64]*os.File
}

// New builds a receive Engine for the given share code and save root.
func New(shareCode, relayAddr, saveRoot string, logger *slog.Logger) (*Engine, error) {
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
		SaveRoot:  saveRoot,
		RelayAddr: relayAddr,
		logger:    logger,
		codec:     codec,
		fprint:    crypto.Fingerprint(shareCode),
		Events:    make(chan Event, 64),
		state:     StateIdle,
		files:     make(map[uint64]*os.File),
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
		e.logger.Warn("receiver event channel full, dropping event", "kind", ev.Kind)
	}
}

// Run executes the full receive protocol and blocks until completion,
// a not-found relay response, or error.
func (e *Engine) Run(ctx context.Context) error {
	e.state = StateConnecting
	e.cm = relayconn.NewConnectionManager(e.logger)
	defer e.cm.Close()
	defer e.closeAllFiles()

	if err := e.connectRelay(ctx); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	joined, err := e.joinAndWaitJoined()
	if err != nil {
		e.state = StateErrored
		if joined != nil && joined.Kind == wire.KindError {
			e.emit(Event{Kind: EventShareCodeNotFound, Message: joined.ErrorMessage})
		} else {
			e.emit(Event{Kind: EventError, Message: err.Error()})
		}
		return err
	}

	if err := e.waitReadyAndMigrate(); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	e.state = StateAwaitingConfirm
	if err := e.awaitSendRequestAndConfirm(); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	e.state = StateReceiving
	if err := e.receiveLoop(); err != nil {
		e.state = StateErrored
		e.emit(Event{Kind: EventError, Message: err.Error()})
		return err
	}

	e.state = StateReceiveDone
	e.emit(Event{Kind: EventReceiveDone})
	return nil
}

// connectRelay implements §4.H relay selection: an explicitly forced
// relay is dialed directly; otherwise the receiver scouts the LAN for
// 3s and dials whatever peer it finds, falling back to the configured
// public relay when the scout finds nothing. LAN migration off the
// sender's Ready-advertised endpoint is handled separately, once the
// session is joined, by waitReadyAndMigrate.
func (e *Engine) connectRelay(ctx context.Context) error {
	if e.ForceRelay {
		conn, err := relayconn.ConnectWithTimeout(e.RelayAddr, joinTimeout)
		if err != nil {
			return fmt.Errorf("receiver: connect to relay: %w", err)
		}
		e.cm.AddConnection(conn, relayconn.ConnectionTypeInternet, e.RelayAddr)
		return nil
	}

	peers, err := discovery.Scout(e.fprint[:], 0, discovery.DefaultTimeout)
	if err == nil {
		for _, p := range peers {
			url := fmt.Sprintf("ws://%s:%d", p.Address, p.Port)
			conn, dialErr := relayconn.ConnectWithTimeout(url, lanProbeTimeout)
			if dialErr == nil {
				e.cm.AddConnection(conn, relayconn.ConnectionTypeLocal, url)
				return nil
			}
		}
	}

	conn, err := relayconn.ConnectWithTimeout(e.RelayAddr, joinTimeout)
	if err != nil {
		return fmt.Errorf("receiver: scout found no peer and public relay connect failed: %w", err)
	}
	e.cm.AddConnection(conn, relayconn.ConnectionTypeInternet, e.RelayAddr)
	return nil
}

// waitReadyAndMigrate waits for the relay's Ready frame and, in LAN
// mode, migrates onto the sender's advertised local relay endpoint
// carried on that same frame (never the Joined frame, which carries the
// relay's own reachable address, not the sender's).
func (e *Engine) waitReadyAndMigrate() error {
	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindReady:
			if e.LANMode && msg.LocalRelayAddr != "" {
				e.migrateToLAN(msg.LocalRelayAddr, msg.LocalRelayPort)
			}
			return nil
		case wire.KindTerminated:
			return fmt.Errorf("receiver: session terminated before ready")
		case wire.KindError:
			return fmt.Errorf("receiver: %s", msg.ErrorMessage)
		}
	}
}

// migrateToLAN probes the sender's advertised local relay and, if
// reachable, adds it as a second (preferred) connection.
func (e *Engine) migrateToLAN(addr string, port uint32) {
	url := fmt.Sprintf("ws://%s:%d", addr, port)
	conn, err := relayconn.ConnectWithTimeout(url, lanProbeTimeout)
	if err != nil {
		e.logger.Debug("LAN migration probe failed", "url", url, "error", err)
		return
	}
	e.cm.AddConnection(conn, relayconn.ConnectionTypeLocal, url)
}

func (e *Engine) joinAndWaitJoined() (*wire.RelayUpdate, error) {
	if err := e.cm.SendMessage(&wire.RelayUpdate{
		Kind:        wire.KindJoin,
		Role:        wire.RoleReceiver,
		Fingerprint: e.fprint[:],
	}); err != nil {
		return nil, err
	}

	joined, err := e.cm.ReceiveMessage()
	if err != nil {
		return nil, err
	}
	if joined.Kind == wire.KindError {
		return joined, fmt.Errorf("receiver: %s", joined.ErrorMessage)
	}
	if joined.Kind != wire.KindJoined {
		return joined, fmt.Errorf("receiver: expected joined, got %v", joined.Kind)
	}
	return joined, nil
}

func (e *Engine) awaitSendRequestAndConfirm() error {
	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindReady:
			continue
		case wire.KindSendRequest:
			e.emit(Event{
				Kind:       EventSendFilesRequest,
				TotalSize:  msg.TotalSize,
				NumFiles:   msg.NumFiles,
				NumFolders: msg.NumFolders,
			})
			accept := e.AutoAccept
			if e.Decisions.ConfirmShare != nil {
				accept = e.Decisions.ConfirmShare(msg.TotalSize, msg.NumFiles, msg.NumFolders)
			}
			return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindShareConfirm, Accept: accept})
		case wire.KindTerminated:
			return fmt.Errorf("receiver: session terminated before send request")
		case wire.KindError:
			return fmt.Errorf("receiver: %s", msg.ErrorMessage)
		}
	}
}

// receiveLoop handles NewFileRequest/FileData/BreakPoint/FileDone/Done
// frames until the sender signals completion or the session ends.
func (e *Engine) receiveLoop() error {
	for {
		msg, err := e.cm.ReceiveMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case wire.KindNewFileRequest:
			if err := e.handleNewFileRequest(msg); err != nil {
				return err
			}
		case wire.KindFileData:
			if err := e.handleFileData(msg); err != nil {
				return err
			}
		case wire.KindBreakPoint:
			if err := e.handleSenderBreakPoint(msg); err != nil {
				return err
			}
		case wire.KindFileDone:
			e.closeFile(msg.FileID)
			e.emit(Event{Kind: EventFileProgressFinish, FileID: msg.FileID})
		case wire.KindDone:
			e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindDone})
			return nil
		case wire.KindTerminated:
			e.emit(Event{Kind: EventOtherClose})
			return nil
		case wire.KindError:
			return fmt.Errorf("receiver: %s", msg.ErrorMessage)
		}
	}
}

func normalizeRelativePath(relPath string) string {
	return filepath.FromSlash(relPath)
}

func (e *Engine) handleNewFileRequest(msg *wire.RelayUpdate) error {
	absPath := filepath.Join(e.SaveRoot, normalizeRelativePath(msg.RelativePath))

	if msg.IsDir {
		if err := os.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("receiver: mkdir %s: %w", absPath, err)
		}
		return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindNewFileConfirm, FileID: msg.FileID, Accept: true})
	}

	info, statErr := os.Stat(absPath)
	switch {
	case os.IsNotExist(statErr):
		return e.createFreshFile(msg, absPath)
	case statErr != nil:
		return fmt.Errorf("receiver: stat %s: %w", absPath, statErr)
	case info.Size() == uint64ToInt64(msg.FileSize):
		return e.handlePossibleResume(msg, absPath)
	default:
		return e.handleDuplication(msg, absPath)
	}
}

func uint64ToInt64(v uint64) int64 { return int64(v) }

func (e *Engine) createFreshFile(msg *wire.RelayUpdate, absPath string) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("receiver: mkdir parent of %s: %w", absPath, err)
	}

	perm := os.FileMode(0o644)
	if msg.Mode != 0 {
		perm = os.FileMode(msg.Mode)
	}

	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("receiver: create %s: %w", absPath, err)
	}
	if msg.FileSize > 0 {
		if err := f.Truncate(int64(msg.FileSize)); err != nil {
			f.Close()
			return fmt.Errorf("receiver: preallocate %s: %w", absPath, err)
		}
	}
	e.files[msg.FileID] = f

	return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindNewFileConfirm, FileID: msg.FileID, Accept: true})
}

func (e *Engine) handlePossibleResume(msg *wire.RelayUpdate, absPath string) error {
	saved, percentX100, resumable, err := scanForResume(absPath, int64(msg.FileSize))
	if err != nil {
		return fmt.Errorf("receiver: resume scan %s: %w", absPath, err)
	}

	if !resumable {
		return e.handleDuplication(msg, absPath)
	}

	position := uint64(saved)
	e.emit(Event{Kind: EventBreakPointDetected, FileID: msg.FileID, Position: position, PercentX100: percentX100})

	accept := e.AutoAccept
	if e.Decisions.ConfirmBreakPoint != nil {
		accept = e.Decisions.ConfirmBreakPoint(msg.FileID, position, percentX100)
	}

	if accept {
		f, err := os.OpenFile(absPath, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("receiver: reopen %s: %w", absPath, err)
		}
		if _, err := f.Seek(int64(position), io.SeekStart); err != nil {
			f.Close()
			return err
		}
		e.files[msg.FileID] = f
		return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindBreakPointConfirm, FileID: msg.FileID, Accept: true, Offset: position})
	}

	return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindBreakPointConfirm, FileID: msg.FileID, Accept: false})
}

func (e *Engine) handleDuplication(msg *wire.RelayUpdate, absPath string) error {
	e.emit(Event{Kind: EventFileDuplication, FileID: msg.FileID, Path: absPath})

	overwrite := e.AutoAccept
	if e.Decisions.ConfirmDuplication != nil {
		overwrite = e.Decisions.ConfirmDuplication(msg.FileID, absPath)
	}

	if !overwrite {
		return e.cm.SendMessage(&wire.RelayUpdate{Kind: wire.KindNewFileConfirm, FileID: msg.FileID, Accept: false})
	}
	return e.createFreshFile(msg, absPath)
}

func (e *Engine) handleFileData(msg *wire.RelayUpdate) error {
	f, ok := e.files[msg.FileID]
	if !ok {
		return nil // file was skipped by the receiver's own choice
	}

	plain, err := e.codec.Decrypt(msg.Data)
	if err != nil {
		return fmt.Errorf("receiver: decrypt chunk for file %d: %w", msg.FileID, err)
	}
	if _, err := f.Write(plain); err != nil {
		return fmt.Errorf("receiver: write file %d: %w", msg.FileID, err)
	}

	pos, _ := f.Seek(0, io.SeekCurrent)
	e.emit(Event{Kind: EventFileProgress, FileID: msg.FileID, Position: uint64(pos)})
	return nil
}

func (e *Engine) handleSenderBreakPoint(msg *wire.RelayUpdate) error {
	f, ok := e.files[msg.FileID]
	if !ok {
		return nil
	}
	_, err := f.Seek(int64(msg.Offset), io.SeekStart)
	return err
}

func (e *Engine) closeFile(fileID uint64) {
	if f, ok := e.files[fileID]; ok {
		f.Close()
		delete(e.files, fileID)
	}
}

func (e *Engine) closeAllFiles() {
	for id := range e.files {
		e.closeFile(id)
	}
}

// scanForResume implements the missing-chunks detection algorithm: it
// scans an existing file whose size already equals the expected total
// in fixed 32 KiB blocks and looks for an all-zero run at the tail. A
// file with no trailing zero run is complete and not resumable.
func scanForResume(path string, totalSize int64) (saved int64, percentX100 uint32, resumable bool, err error) {
	if totalSize <= 0 {
		return 0, 0, false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false, err
	}
	defer f.Close()

	numBlocks := (totalSize + ScanChunkSize - 1) / ScanChunkSize
	zero := make([]bool, numBlocks)
	buf := make([]byte, ScanChunkSize)

	for i := int64(0); i < numBlocks; i++ {
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return 0, 0, false, readErr
		}
		zero[i] = isAllZero(buf[:n])
	}

	trailingZero := int64(0)
	for i := numBlocks - 1; i >= 0; i-- {
		if !zero[i] {
			break
		}
		trailingZero++
	}

	if trailingZero == 0 || trailingZero == numBlocks {
		return 0, 0, false, nil
	}

	saved = (numBlocks - trailingZero) * ScanChunkSize
	if saved > totalSize {
		saved = totalSize
	}
	percent := float64(saved) / float64(totalSize) * 100
	return saved, uint32(percent*100 + 0.5), true, nil
}

func isAllZero(b []byte) bool {
	return bytes.Count(b, []byte{0}) == len(b)
}
