// Package sessionlog persists an audit trail of relay sessions to SQLite,
// adapted from the teacher's src/relay/database.go user-session logging
// into a fingerprint-keyed transfer-session log. Unlike the teacher, this
// package no longer supports Postgres: the relay is a single small
// process, and sqlite is the only backend any caller in this repo needs.
package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	migrationfs "github.com/flashcat/flashcat/migrations"
)

// Entry describes one relay session row.
type Entry struct {
	FingerprintHex string
	IPFrom         string
	IPTo           string
	BytesForwarded int64
	SessionStart   time.Time
	SessionEnd     *time.Time
}

// event is an internal write request processed by the single writer
// goroutine; op selects which statement to run.
type event struct {
	op             string
	fingerprintHex string
	ipFrom         string
	ipTo           string
	bytes          int64
}

const (
	opStart = "start"
	opBytes = "bytes"
	opEnd   = "end"
)

// Log is an async, single-writer session log: callers push events onto a
// buffered channel rather than blocking on a database write.
type Log struct {
	db     *sql.DB
	logger *slog.Logger

	events chan event
	wg     sync.WaitGroup
}

// Open opens (creating if necessary) the sqlite database at path, runs
// pending migrations, and starts the background writer goroutine.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionlog: connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionlog: run migrations: %w", err)
	}

	l := &Log{
		db:     db,
		logger: logger,
		events: make(chan event, 256),
	}

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

func runMigrations(db *sql.DB) error {
	srcDriver, err := iofs.New(migrationfs.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	dbDriver, err := migratedb.WithInstance(db, &migratedb.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// StartSession records the beginning of a session for fingerprintHex.
// The write happens on the background writer goroutine; the caller
// blocks only while the 256-event buffer is full.
func (l *Log) StartSession(fingerprintHex, ipFrom, ipTo string) {
	l.enqueue(event{op: opStart, fingerprintHex: fingerprintHex, ipFrom: ipFrom, ipTo: ipTo})
}

// AddBytes records bytesForwarded additional bytes moved through the
// session for fingerprintHex.
func (l *Log) AddBytes(fingerprintHex string, bytesForwarded int64) {
	l.enqueue(event{op: opBytes, fingerprintHex: fingerprintHex, bytes: bytesForwarded})
}

// EndSession marks the session for fingerprintHex as finished.
func (l *Log) EndSession(fingerprintHex string) {
	l.enqueue(event{op: opEnd, fingerprintHex: fingerprintHex})
}

// enqueue hands e to the writer goroutine. Callers must stop enqueueing
// before calling Close; Close closes the events channel to signal the
// writer to drain and exit.
func (l *Log) enqueue(e event) {
	l.events <- e
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for e := range l.events {
		if err := l.apply(e); err != nil {
			l.logger.Warn("sessionlog write failed", "op", e.op, "fingerprint", e.fingerprintHex, "error", err)
		}
	}
}

func (l *Log) apply(e event) error {
	switch e.op {
	case opStart:
		_, err := l.db.Exec(
			`INSERT INTO relay_sessions (fingerprint_hex, ip_from, ip_to, bytes_forwarded, session_start)
			 VALUES (?, ?, ?, 0, ?)
			 ON CONFLICT(fingerprint_hex) DO UPDATE SET
			   ip_from=excluded.ip_from, ip_to=excluded.ip_to,
			   bytes_forwarded=0, session_start=excluded.session_start, session_end=NULL`,
			e.fingerprintHex, e.ipFrom, e.ipTo, time.Now(),
		)
		return err
	case opBytes:
		_, err := l.db.Exec(
			`UPDATE relay_sessions SET bytes_forwarded = bytes_forwarded + ? WHERE fingerprint_hex = ?`,
			e.bytes, e.fingerprintHex,
		)
		return err
	case opEnd:
		_, err := l.db.Exec(
			`UPDATE relay_sessions SET session_end = ? WHERE fingerprint_hex = ?`,
			time.Now(), e.fingerprintHex,
		)
		return err
	default:
		return fmt.Errorf("unknown sessionlog event %q", e.op)
	}
}

// Get retrieves the logged entry for fingerprintHex.
func (l *Log) Get(ctx context.Context, fingerprintHex string) (*Entry, error) {
	var entry Entry
	var sessionEnd sql.NullTime

	row := l.db.QueryRowContext(ctx,
		`SELECT fingerprint_hex, ip_from, ip_to, bytes_forwarded, session_start, session_end
		 FROM relay_sessions WHERE fingerprint_hex = ?`, fingerprintHex)

	if err := row.Scan(&entry.FingerprintHex, &entry.IPFrom, &entry.IPTo,
		&entry.BytesForwarded, &entry.SessionStart, &sessionEnd); err != nil {
		return nil, err
	}

	if sessionEnd.Valid {
		entry.SessionEnd = &sessionEnd.Time
	}

	return &entry, nil
}

// Close drains pending writes and closes the database connection.
func (l *Log) Close() error {
	close(l.events)
	l.wg.Wait()
	return l.db.Close()
}
