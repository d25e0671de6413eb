package sessions

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the single owner of the live-session map. All lookup and
// mutation goes through it; the map itself never escapes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create mints a new uninitialized session under a fresh random id and
// registers it. Ids are 128-bit random values, never reused in-process.
func (r *Registry) Create(userID string) *Session {
	sess := newSession(uuid.NewString(), userID)
	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	sess.OnClose(func() {
		r.mu.Lock()
		delete(r.sessions, sess.id)
		r.mu.Unlock()
	})
	return sess
}

// Get resolves a session id to its live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove closes and deregisters the session. Safe to call on an unknown or
// already-removed id.
func (r *Registry) Remove(id string) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	sess.Close()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every live session, for server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		s.Close()
	}
}
