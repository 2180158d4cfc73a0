// Package sessionmemory keeps sessions in process memory. It is the
// default backend; sessions do not survive a restart with it.
package sessionmemory

import (
	"context"
	"sync"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
	"github.com/vetassist/mcp-bridge/internal/session"
)

type Repository struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

var _ = session.Repository(&Repository{})

func NewRepository() *Repository {
	return &Repository{
		sessions: make(map[string]session.Session),
	}
}

func (r *Repository) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}

	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) StoreSession(_ context.Context, sess session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess

	return nil
}

func (r *Repository) ListSessions(_ context.Context) ([]session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(_ context.Context, sess session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess.ID]; !ok {
		return serviceerr.ErrNotFound
	}

	delete(r.sessions, sess.ID)

	return nil
}
