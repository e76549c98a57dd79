package shutdown

import "testing"

func TestFireClosesDone(t *testing.T) {
	s := New()
	select {
	case <-s.Done():
		t.Fatal("Done should not be closed before Fire")
	default:
	}

	s.Fire()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Fire")
	}
}

func TestFireIsIdempotent(t *testing.T) {
	s := New()
	s.Fire()
	s.Fire() // must not panic
	if !s.Fired() {
		t.Fatal("expected Fired() to be true")
	}
}

func TestFiredBeforeFire(t *testing.T) {
	s := New()
	if s.Fired() {
		t.Fatal("expected Fired() to be false before Fire")
	}
}
