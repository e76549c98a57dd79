package ratelimit

import (
	"testing"
	"time"
)

func TestAllowConsumesTokens(t *testing.T) {
	tb := NewTokenBucket(1, 5)

	for i := 0; i < 5; i++ {
		if !tb.Allow(1) {
			t.Fatalf("expected token %d to be available", i)
		}
	}

	if tb.Allow(1) {
		t.Fatal("expected bucket to be exhausted")
	}
}

func TestAllowRejectsWhenBucketEmpty(t *testing.T) {
	tb := NewTokenBucket(0, 1)
	if !tb.Allow(1) {
		t.Fatal("expected the initial burst token to be available")
	}
	if tb.Allow(1) {
		t.Fatal("expected second call to fail with zero refill rate")
	}
}

func TestPerIPLimiterIsolatesIPs(t *testing.T) {
	l := NewPerIPLimiter(0, 1, 0)

	if !l.Allow("1.2.3.4") {
		t.Fatal("expected first request from 1.2.3.4 to be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("expected second request from 1.2.3.4 to be rejected")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("expected first request from a different IP to be allowed")
	}
}

func TestPerIPLimiterSweepRemovesIdle(t *testing.T) {
	l := NewPerIPLimiter(0, 1, -time.Nanosecond)
	l.Allow("1.2.3.4")
	l.Sweep()

	l.mu.Lock()
	_, ok := l.buckets["1.2.3.4"]
	l.mu.Unlock()

	if ok {
		t.Fatal("expected bucket to be swept")
	}
}
