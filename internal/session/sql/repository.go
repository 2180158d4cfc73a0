// Package sessionsql persists sessions in postgres, one row per
// session in the sessions table.
package sessionsql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
	"github.com/vetassist/mcp-bridge/internal/session"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ = session.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (s session.Session, _ error) {
	if err := r.db.QueryRow(ctx, `SELECT id, fingerprint, registration, tokens, verifier, created_at, last_visited, expiry
FROM sessions
WHERE id = $1;`,
		sessionID,
	).
		Scan(&s.ID, &s.Fingerprint, &s.Registration, &s.Tokens, &s.Verifier, &s.CreatedAt, &s.LastVisited, &s.Expiry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		return session.Session{}, fmt.Errorf("selecting from sessions: %w", err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	if _, err := r.db.Exec(
		ctx, `INSERT INTO sessions (id, fingerprint, registration, tokens, verifier, created_at, last_visited, expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id)
	DO UPDATE SET (fingerprint, registration, tokens, verifier, created_at, last_visited, expiry) =
		(EXCLUDED.fingerprint, EXCLUDED.registration, EXCLUDED.tokens, EXCLUDED.verifier, EXCLUDED.created_at, EXCLUDED.last_visited, EXCLUDED.expiry);`,
		s.ID, s.Fingerprint, s.Registration, s.Tokens, s.Verifier, s.CreatedAt, s.LastVisited, s.Expiry,
	); err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into sessions: %w", err)
	}

	return nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT id, fingerprint, registration, tokens, verifier, created_at, last_visited, expiry
FROM sessions;`)
	if err != nil {
		return nil, fmt.Errorf("selecting from sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var s session.Session
		if err := rows.Scan(&s.ID, &s.Fingerprint, &s.Registration, &s.Tokens, &s.Verifier, &s.CreatedAt, &s.LastVisited, &s.Expiry); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, s session.Session) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, s.ID)
	if err != nil {
		return fmt.Errorf("deleting from sessions: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}
