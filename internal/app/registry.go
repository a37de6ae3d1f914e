package app

import (
	"errors"
	"sync"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateID = errors.New("session id already registered")

// Registry is the process-wide table of connected sessions.
// It stores pointers; session fields are mutated in place by the orchestrator.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*core.Session),
	}
}

func (r *Registry) Register(sess *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[sess.ID]; ok && old.Status != domain.StatusDisconnected {
		return ErrDuplicateID
	}
	r.sessions[sess.ID] = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID)).Msg("registered session")
	return nil
}

func (r *Registry) Lookup(sid core.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sid]
	return sess, ok
}

// RemoveSession deletes the entry only if it still points at sess, so a stale
// handler can never evict a newer session registered under the same id.
func (r *Registry) RemoveSession(sess *core.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[sess.ID]; !ok || cur != sess {
		return false
	}
	delete(r.sessions, sess.ID)
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID)).Msg("removed session")
	return true
}

// ForEach visits sessions until fn returns false. Visiting order is unspecified.
func (r *Registry) ForEach(fn func(*core.Session) bool) {
	for _, sess := range r.Snapshot(nil) {
		if !fn(sess) {
			return
		}
	}
}

// Snapshot returns the sessions matching keep (all when keep is nil).
func (r *Registry) Snapshot(keep func(*core.Session) bool) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if keep == nil || keep(sess) {
			out = append(out, sess)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
