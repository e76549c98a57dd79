package ratelimit

import (
	"sync"
	"time"
)

// JoinRate and JoinBurst match the relay's Join-frame limiting policy:
// 200 joins per minute per source IP, with a burst of 40.
const (
	JoinRate  = 200.0 / 60.0
	JoinBurst = 40
)

// PerIPLimiter keeps one TokenBucket per source IP. Buckets that have gone
// untouched for longer than idleTimeout are removed by Sweep; they stay in
// the map until Sweep is called.
type PerIPLimiter struct {
	rate        float64
	burst       int
	idleTimeout time.Duration

	mu      sync.Mutex
	buckets map[string]*entry
}

type entry struct {
	bucket    *TokenBucket
	lastTouch time.Time
}

// NewPerIPLimiter creates a limiter with the given per-bucket rate/burst,
// evicting idle buckets after idleTimeout.
func NewPerIPLimiter(rate float64, burst int, idleTimeout time.Duration) *PerIPLimiter {
	return &PerIPLimiter{
		rate:        rate,
		burst:       burst,
		idleTimeout: idleTimeout,
		buckets:     make(map[string]*entry),
	}
}

// NewJoinLimiter returns a PerIPLimiter configured with the relay's Join
// rate-limiting policy.
func NewJoinLimiter() *PerIPLimiter {
	return NewPerIPLimiter(JoinRate, JoinBurst, 10*time.Minute)
}

// Allow consumes one token from ip's bucket, creating it on first use.
func (l *PerIPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.buckets[ip]
	if !ok {
		e = &entry{bucket: NewTokenBucket(l.rate, l.burst)}
		l.buckets[ip] = e
	}
	e.lastTouch = time.Now()
	l.mu.Unlock()

	return e.bucket.Allow(1)
}

// Sweep removes buckets untouched for longer than idleTimeout.
func (l *PerIPLimiter) Sweep() {
	cutoff := time.Now().Add(-l.idleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.buckets {
		if e.lastTouch.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}
