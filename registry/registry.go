// Package registry maps session identifiers to rendezvous sessions,
// bounding how many may exist concurrently and evicting idle ones.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/session"
)

// ErrCapacityExceeded is returned by GetOrCreate when the registry is at
// its configured maxSessions and the caller named a SessionId that does
// not already exist.
var ErrCapacityExceeded = errors.New("registry: capacity exceeded")

// SessionMetadata is the redacted view of a Session returned by List. It
// never exposes buffered payloads or waiter state.
type SessionMetadata struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	SideAConnected bool
	SideBConnected bool
}

// Options configures timeouts handed to every Session the Registry
// creates.
type Options struct {
	MaxSessions      int
	HandshakeTimeout time.Duration
	TurnTimeout      time.Duration
}

// Registry materializes Sessions on demand, enforces a hard cap on
// concurrent Sessions, and supports enumeration, explicit close, and
// bulk eviction by idle age.
//
// A single mutex guards the map; each Session additionally owns its own
// lock for its internal state (see session.Session). Registry
// operations hold the map lock only long enough to look up, insert, or
// remove an entry — never while a Session suspends a caller.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*session.Session),
	}
}

// GetOrCreate returns the existing Session for id, or creates one if id
// has never been seen and the Registry has capacity. The check and
// insert happen atomically under the write lock so no half-constructed
// Session is ever visible to a second caller racing on the same new id.
func (r *Registry) GetOrCreate(id string) (*session.Session, error) {
	r.mu.RLock()
	if s, ok := r.sessions[id]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		return nil, ErrCapacityExceeded
	}

	s := session.New(id, r.opts.HandshakeTimeout, r.opts.TurnTimeout)
	r.sessions[id] = s
	metrics.RecordSessionCreated()
	return s, nil
}

// Close idempotently removes a Session, completing any outstanding
// waiter inside it with a terminal signal.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		metrics.RecordSessionEvicted(metrics.ReasonExplicit)
		logger.Eviction(id, metrics.ReasonExplicit)
	}
}

// Count returns the number of Sessions currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a redacted, point-in-time snapshot of every tracked
// Session, sorted by id for stable output. It is not linearized with
// concurrent Close/cleanup — a session may appear or vanish between List
// returning and the caller acting on it.
func (r *Registry) List() []SessionMetadata {
	r.mu.RLock()
	snapshot := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	out := make([]SessionMetadata, 0, len(snapshot))
	for _, s := range snapshot {
		a, b := s.ConnectedSides()
		out = append(out, SessionMetadata{
			ID:             s.ID(),
			CreatedAt:      s.CreatedAt(),
			LastActivityAt: s.LastActivityAt(),
			SideAConnected: a,
			SideBConnected: b,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CleanupExpired removes every Session whose last activity is older than
// ttl and returns how many were removed. It collects the expired ids
// under the map lock, releases it, then closes each Session — so a
// sweep never blocks request handling for longer than a map scan takes.
func (r *Registry) CleanupExpired(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var expired []*session.Session
	for id, s := range r.sessions {
		if s.LastActivityAt().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		metrics.RecordSessionEvicted(metrics.ReasonTTL)
		logger.Eviction(s.ID(), metrics.ReasonTTL)
	}
	return len(expired)
}
