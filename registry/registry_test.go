package registry

import (
	"context"
	"testing"
	"time"
)

func testOpts() Options {
	return Options{MaxSessions: 2, HandshakeTimeout: time.Second, TurnTimeout: time.Second}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := New(testOpts())

	s1, err := r.GetOrCreate("sid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := r.GetOrCreate("sid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same Session instance for the same id")
	}
}

func TestCapacityExceeded(t *testing.T) {
	r := New(testOpts())

	if _, err := r.GetOrCreate("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.GetOrCreate("b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.GetOrCreate("c"); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Closing one frees capacity for a new id.
	r.Close("a")
	if _, err := r.GetOrCreate("c"); err != nil {
		t.Fatalf("expected capacity to be freed after Close, got %v", err)
	}
}

func TestCloseCompletesPendingWaiter(t *testing.T) {
	r := New(testOpts())
	s, err := r.GetOrCreate("sid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ProcessRequest(context.Background(), "ping", "")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	r.Close("sid")

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close evicted the session")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for suspended request to observe closure")
	}
}

func TestListIsRedacted(t *testing.T) {
	r := New(testOpts())
	if _, err := r.GetOrCreate("sid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list))
	}
	if list[0].ID != "sid" {
		t.Fatalf("expected id %q, got %q", "sid", list[0].ID)
	}
}

func TestCleanupExpired(t *testing.T) {
	r := New(testOpts())
	if _, err := r.GetOrCreate("stale"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	removed := r.CleanupExpired(10 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if r.Count() != 0 {
		t.Fatalf("expected registry to be empty, got %d", r.Count())
	}
}
