// Package shutdown implements a one-shot, broadcastable completion signal
// used to abort pending session queue operations and relay forwarding
// loops without a data race on repeated close.
package shutdown

import "sync"

// Signal is a one-shot broadcast: Fire closes an internal channel exactly
// once, and any number of goroutines can select on Done() to observe it.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// New returns a ready-to-use Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire closes the signal. Safe to call more than once or concurrently;
// only the first call has an effect.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed once Fire has been called.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire has already been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
