// Package session implements the rendezvous handshake and turn-exchange
// state machine that pairs two independent HTTP callers into one
// turn-taking conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Side identifies one of the two participants in a Session. A is the
// participant whose first request established the Session; B is whoever
// sends the second distinct request.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Valid reports whether s is SideA or SideB.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

var (
	// ErrTimeout is returned when no matching counterpart action occurs
	// within the applicable deadline. The Session remains usable.
	ErrTimeout = errors.New("session: timeout waiting for counterpart")

	// ErrCancelled is returned when the caller's context is cancelled
	// (e.g. the HTTP client disconnected) while suspended.
	ErrCancelled = errors.New("session: request cancelled")

	// ErrClosed is returned when the Session is evicted while the caller
	// is suspended.
	ErrClosed = errors.New("session: closed")
)

// slot is a single-use delivery promise: exactly one of deliver or fail
// may complete it, ever. It crosses goroutine boundaries without the
// Session lock — it is the one piece of Session state a waiter touches
// after the lock that installed it has been released.
type slot struct {
	ch   chan string
	once sync.Once
}

func newSlot() *slot {
	return &slot{ch: make(chan string, 1)}
}

// deliver completes the slot with a payload. Must be called with the
// owning Session's lock held.
func (s *slot) deliver(payload string) {
	s.once.Do(func() {
		s.ch <- payload
	})
}

// fail completes the slot with a terminal (closed) signal. Must be
// called with the owning Session's lock held.
func (s *slot) fail() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// wait blocks until the slot is completed or ctx/deadline fires. It does
// not touch the Session lock.
func (s *slot) wait(ctx context.Context, deadline time.Duration) (string, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case payload, ok := <-s.ch:
		if !ok {
			return "", ErrClosed
		}
		return payload, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ErrCancelled
	}
}

// Session is a single rendezvous instance: the handshake/turn state
// machine, two suspension slots, two one-slot buffers, and an activity
// clock. All exported mutation happens through ProcessRequest; all
// internal state is guarded by mu, and the suspension itself always
// happens after mu is released.
type Session struct {
	id               string
	handshakeTimeout time.Duration
	turnTimeout      time.Duration
	createdAt        time.Time

	mu             sync.Mutex
	sideAConnected bool
	sideBConnected bool
	nextExpected   Side
	pendingForA    *slot
	pendingForB    *slot
	bufferForA     *string
	bufferForB     *string
	lastActivityAt time.Time
}

// New creates a fresh Session in the "neither side connected" state.
func New(id string, handshakeTimeout, turnTimeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:               id,
		handshakeTimeout: handshakeTimeout,
		turnTimeout:      turnTimeout,
		nextExpected:     SideA,
		createdAt:        now,
		lastActivityAt:   now,
	}
}

// ID returns the Session's identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the Session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivityAt returns the last time a request caused a state
// transition on this Session.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// ConnectedSides reports whether A and B have each sent at least one
// request.
func (s *Session) ConnectedSides() (a, b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideAConnected, s.sideBConnected
}

// ProcessRequest drives one step of the rendezvous protocol. It returns
// the counterpart's next payload, or a sentinel error (ErrTimeout,
// ErrCancelled, ErrClosed) if no counterpart action completes the wait.
//
// senderSide, if valid, is honored over the internally tracked
// nextExpected once both sides are connected — this is what lets two
// concurrent, explicitly-addressed requests resolve deterministically
// instead of wedging on a stale expectation (spec scenario: concurrent
// "sid|A" and "sid|B" sends).
func (s *Session) ProcessRequest(ctx context.Context, content string, senderSide Side) (string, error) {
	wait, waitSide, deadline, payload, ready := s.commit(content, senderSide)
	if ready {
		return payload, nil
	}

	result, err := wait.wait(ctx, deadline)
	if err != nil {
		// The wait did not end in a delivery: remove this slot from its
		// side so a late-arriving counterpart payload is buffered instead
		// of silently dropped into an abandoned channel (spec §4.1
		// "Failure semantics", §3 invariant 3).
		s.abandon(waitSide, wait)
	}
	return result, err
}

// abandon clears the pending-waiter pointer for side if, and only if, it
// still refers to w — a concurrent delivery may have already cleared (or
// replaced) it between the timeout firing and this call acquiring the
// lock.
func (s *Session) abandon(side Side, w *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingFor(side) == w {
		s.setPendingFor(side, nil)
	}
}

// commit performs the entire state-machine transition under the lock and
// returns either an immediately-available payload (ready=true) or a slot
// to wait on afterward (ready=false) along with the side it was
// installed for. No suspension happens while the lock is held — the slot
// is materialized here and awaited by the caller only after commit
// returns.
func (s *Session) commit(content string, senderSide Side) (wait *slot, waitSide Side, deadline time.Duration, payload string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivityAt = time.Now()

	switch {
	case !s.sideAConnected:
		return s.commitHandshake()
	case !s.sideBConnected:
		return s.commitFirstTurn(content)
	default:
		effective := senderSide
		if !effective.Valid() {
			effective = s.nextExpected
		}
		return s.commitTurn(content, effective)
	}
}

// commitHandshake marks A connected and installs A's handshake wait.
// The handshake request's own content is never forwarded (spec §3 rule 5).
func (s *Session) commitHandshake() (*slot, Side, time.Duration, string, bool) {
	s.sideAConnected = true
	s.nextExpected = SideB
	w := newSlot()
	s.pendingForA = w
	return w, SideA, s.handshakeTimeout, "", false
}

// commitFirstTurn marks B connected, completes A's handshake wait with
// B's content, and installs B's wait for A's next payload.
func (s *Session) commitFirstTurn(content string) (*slot, Side, time.Duration, string, bool) {
	s.sideBConnected = true
	if s.pendingForA != nil {
		s.pendingForA.deliver(content)
		s.pendingForA = nil
	}
	s.nextExpected = SideA
	w := newSlot()
	s.pendingForB = w
	return w, SideB, s.turnTimeout, "", false
}

// commitTurn implements the "both connected" dispatch of spec §4.1: the
// incoming content is delivered to the opposite side's waiter (or
// buffered if no one is waiting yet), then this side either consumes its
// own buffered payload immediately or suspends for the next one.
func (s *Session) commitTurn(content string, effective Side) (*slot, Side, time.Duration, string, bool) {
	opposite := effective.Opposite()

	if p := s.pendingFor(opposite); p != nil {
		p.deliver(content)
		s.setPendingFor(opposite, nil)
	} else if s.bufferFor(opposite) != nil {
		// Invariant violation: a second unconsumed payload destined for
		// the same side cannot legally arise (spec §3 invariants 2–3).
		panic(fmt.Sprintf("session %s: buffer overwrite for side %s", s.id, opposite))
	} else {
		s.setBufferFor(opposite, &content)
	}

	s.nextExpected = opposite

	if buffered := s.bufferFor(effective); buffered != nil {
		s.setBufferFor(effective, nil)
		return nil, effective, 0, *buffered, true
	}

	w := newSlot()
	s.setPendingFor(effective, w)
	return w, effective, s.turnTimeout, "", false
}

// Close completes any outstanding waiters with ErrClosed. Called by the
// Registry when this Session is evicted (TTL or explicit close) while a
// caller may be suspended on it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingForA != nil {
		s.pendingForA.fail()
		s.pendingForA = nil
	}
	if s.pendingForB != nil {
		s.pendingForB.fail()
		s.pendingForB = nil
	}
}

func (s *Session) pendingFor(side Side) *slot {
	if side == SideA {
		return s.pendingForA
	}
	return s.pendingForB
}

func (s *Session) setPendingFor(side Side, w *slot) {
	if side == SideA {
		s.pendingForA = w
		return
	}
	s.pendingForB = w
}

func (s *Session) bufferFor(side Side) *string {
	if side == SideA {
		return s.bufferForA
	}
	return s.bufferForB
}

func (s *Session) setBufferFor(side Side, v *string) {
	if side == SideA {
		s.bufferForA = v
		return
	}
	s.bufferForB = v
}
