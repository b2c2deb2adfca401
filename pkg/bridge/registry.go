package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// Registry maps session IDs to sessions. Mutated only under lock by the
// acceptor (insert) and a closing session (remove); iteration for stats and
// shutdown takes the read path.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	totalCreated atomic.Int64
	startedAt    time.Time
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), startedAt: time.Now()}
}

// Add inserts a newly created session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.totalCreated.Add(1)
}

// Remove deletes a session by ID. Safe to call even if absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given ID, if present.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// AggregateStats summarizes all currently registered sessions.
type AggregateStats struct {
	ActiveSessions int
	TotalCreated   int64
	BytesFromClient int64
	BytesToClient   int64
	Conversions     int64
}

// Snapshot computes aggregate stats across every live session.
func (r *Registry) Snapshot() AggregateStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := AggregateStats{
		ActiveSessions: len(r.sessions),
		TotalCreated:   r.totalCreated.Load(),
	}
	for _, s := range r.sessions {
		snap := s.Snapshot()
		out.BytesFromClient += snap.BytesFromClient
		out.BytesToClient += snap.BytesToClient
		out.Conversions += snap.Conversions
	}
	return out
}

// CloseAll closes every currently registered session, used on graceful
// shutdown. It does not itself wait for Start's goroutines to return.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close(reason)
	}
}

// IsEmpty reports whether the registry currently holds no sessions.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Age reports how long this registry (and therefore the process's relay
// capacity) has existed. Logged as the stats line's uptime column.
func (r *Registry) Age() time.Duration {
	return time.Since(r.startedAt)
}
