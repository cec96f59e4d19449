package memory

import (
	"sort"
	"sync"
	"time"
)

// Session binds a Memory to a conversation id. Callers hold the session lock
// for the whole read-generate-store cycle of one turn.
type Session struct {
	sync.Mutex

	ID     string
	Memory *Memory

	lastUsed time.Time
}

// Registry hands out one Session per id. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	maxSize  int
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry(maxMemorySize int) *Registry {
	return &Registry{
		maxSize:  maxMemorySize,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session for id, creating an empty one on first use.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = &Session{ID: id, Memory: New(r.maxSize)}
		r.sessions[id] = s
	}
	s.lastUsed = r.now()
	return s
}

// Lookup returns the session for id without creating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Prune drops sessions that were not fetched within maxIdle and reports how
// many were removed.
func (r *Registry) Prune(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	n := 0
	for id, s := range r.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
