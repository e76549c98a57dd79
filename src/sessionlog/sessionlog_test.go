package sessionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func waitForEntry(t *testing.T, l *Log, fingerprintHex string) *Entry {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entry, err := l.Get(context.Background(), fingerprintHex)
		if err == nil {
			return entry
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("entry for %q never appeared", fingerprintHex)
	return nil
}

func TestStartSessionAndGet(t *testing.T) {
	l := openTestLog(t)

	l.StartSession("fp1", "10.0.0.1", "10.0.0.2")

	entry := waitForEntry(t, l, "fp1")
	if entry.IPFrom != "10.0.0.1" || entry.IPTo != "10.0.0.2" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.SessionEnd != nil {
		t.Fatal("expected session_end to be nil for an in-progress session")
	}
}

func TestAddBytesAccumulates(t *testing.T) {
	l := openTestLog(t)

	l.StartSession("fp2", "10.0.0.1", "10.0.0.2")
	waitForEntry(t, l, "fp2")

	l.AddBytes("fp2", 100)
	l.AddBytes("fp2", 50)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entry, err := l.Get(context.Background(), "fp2")
		if err == nil && entry.BytesForwarded == 150 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected bytes_forwarded to reach 150")
}

func TestEndSessionSetsSessionEnd(t *testing.T) {
	l := openTestLog(t)

	l.StartSession("fp3", "10.0.0.1", "10.0.0.2")
	waitForEntry(t, l, "fp3")

	l.EndSession("fp3")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entry, err := l.Get(context.Background(), "fp3")
		if err == nil && entry.SessionEnd != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected session_end to be set")
}
