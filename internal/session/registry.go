package session

import "time"

// Registry maps room ids to their live sessions. Like Session it has
// a single owner (the hub loop) and does no locking of its own.
type Registry struct {
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it on first reference.
func (r *Registry) Get(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		s = New(id)
		r.sessions[id] = s
	}
	return s
}

// Lookup returns the session for id without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int { return len(r.sessions) }

// IDs returns the ids of all live sessions.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// EvictIdle drops sessions that have been inactive longer than ttl and
// for which occupied reports no connected members. Rooms are cheap but
// not free; without a sweep they accumulate for the life of the
// process. Returns the ids evicted.
func (r *Registry) EvictIdle(ttl time.Duration, occupied func(id string) bool) []string {
	cutoff := time.Now().Add(-ttl)
	var evicted []string
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) && !occupied(id) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
