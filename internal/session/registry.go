package session

import (
	"context"
	"errors"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/vetassist/mcp-bridge/internal/pkce"
	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// Agent answers one session's messages with the session's tools.
type Agent interface {
	Handle(ctx context.Context, message string) (string, error)
	Close() error
}

// Entry is the in-process side of a session: the per-session lock, the
// credential store, and the attached agent. The persisted Session in
// the Repository stays the source of truth; an Entry can be rebuilt
// from it after a restart.
type Entry struct {
	id    string
	mu    sync.Mutex
	creds *credentialStore
	agent Agent
}

func (e *Entry) ID() string {
	return e.id
}

// Registry tracks live sessions. All methods are safe for concurrent
// use.
type Registry struct {
	repo            Repository
	sessionDuration time.Duration
	ids             pkce.Source

	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry(repo Repository, sessionDuration time.Duration) *Registry {
	return &Registry{
		repo:            repo,
		sessionDuration: sessionDuration,
		entries:         make(map[string]*Entry),
	}
}

// Create mints a session with a fresh unguessable ID, persists it, and
// registers its entry.
func (r *Registry) Create(ctx context.Context, fingerprint string) (*Entry, Session, error) {
	now := time.Now()
	sess := Session{
		ID:          r.ids.SessionID(),
		Fingerprint: fingerprint,
		CreatedAt:   now,
		LastVisited: now,
		Expiry:      now.Add(r.sessionDuration),
	}

	if err := r.repo.StoreSession(ctx, sess); err != nil {
		return nil, Session{}, err
	}

	entry := r.newEntry(sess.ID)

	r.mu.Lock()
	r.entries[sess.ID] = entry
	r.mu.Unlock()

	return entry, sess, nil
}

// Get returns the entry and the persisted record for sessionID. A
// session known to the repository but not to this process, e.g. after
// a restart with a persistent backend, gets its entry rebuilt. An
// unknown ID yields serviceerr.ErrUnknownSession.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Entry, Session, error) {
	sess, err := r.repo.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, Session{}, serviceerr.ErrUnknownSession
		}

		return nil, Session{}, err
	}

	r.mu.RLock()
	entry, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		return entry, sess, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[sessionID]; ok {
		return entry, sess, nil
	}

	entry = r.newEntry(sessionID)
	r.entries[sessionID] = entry

	return entry, sess, nil
}

// AttachAgent binds an agent to the session, closing any previous one.
func (r *Registry) AttachAgent(ctx context.Context, sessionID string, agent Agent) error {
	entry, _, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	attachAgentLocked(ctx, entry, agent)

	return nil
}

func attachAgentLocked(ctx context.Context, entry *Entry, agent Agent) {
	if entry.agent != nil {
		if err := entry.agent.Close(); err != nil {
			slogctx.Warn(ctx, "Could not close the previous agent", "session_id", entry.id, "error", err)
		}
	}

	entry.agent = agent
}

// Remove deletes the session: the agent is closed, the credentials are
// cleared, and the record is removed from the repository.
func (r *Registry) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if ok {
		entry.mu.Lock()
		if entry.agent != nil {
			if err := entry.agent.Close(); err != nil {
				slogctx.Warn(ctx, "Could not close the agent", "session_id", sessionID, "error", err)
			}

			entry.agent = nil
		}
		entry.mu.Unlock()
	}

	sess, err := r.repo.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return serviceerr.ErrUnknownSession
		}

		return err
	}

	return r.repo.DeleteSession(ctx, sess)
}

func (r *Registry) newEntry(sessionID string) *Entry {
	return &Entry{
		id: sessionID,
		creds: &credentialStore{
			sessionID: sessionID,
			repo:      r.repo,
		},
	}
}
