package session

import "context"

// Repository persists sessions. Load returns serviceerr.ErrNotFound for
// an unknown ID; Store upserts.
type Repository interface {
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	StoreSession(ctx context.Context, session Session) error
	ListSessions(ctx context.Context) ([]Session, error)
	DeleteSession(ctx context.Context, session Session) error
}
