package session

import (
	"log/slog"
	"sync"
	"time"
)

// Registry is a concurrent fingerprint-hex → Session map with an idle
// reaper goroutine, grounded on the teacher's room map in relay.go but
// generalized to the spec's 300s timeout / 60s tick idle-eviction policy.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry creates a Registry and starts its idle reaper.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.reapLoop()

	return r
}

// Insert replaces and shuts down any previous session under the same
// fingerprint, so a restarted sender takes over cleanly.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	previous, had := r.sessions[s.Metadata.FingerprintHex]
	r.sessions[s.Metadata.FingerprintHex] = s
	r.mu.Unlock()

	if had {
		r.logger.Info("replacing existing session", "fingerprint", s.Metadata.FingerprintHex)
		previous.Close()
	}
}

// Get returns the session for fingerprintHex, if any.
func (r *Registry) Get(fingerprintHex string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[fingerprintHex]
	return s, ok
}

// Remove deletes the session for fingerprintHex without shutting it down
// (the caller is responsible for calling Close on it).
func (r *Registry) Remove(fingerprintHex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, fingerprintHex)
}

// Len returns the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) reapLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapOnce()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) reapOnce() {
	r.mu.Lock()
	var stale []*Session
	for fp, s := range r.sessions {
		if s.IdleSince() > IdleTimeout {
			stale = append(stale, s)
			delete(r.sessions, fp)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.logger.Info("reaping idle session", "fingerprint", s.Metadata.FingerprintHex)
		s.Close()
	}
}

// Stop halts the reaper goroutine. It does not close individual sessions.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
