package session

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// CleanupIdleSessions removes sessions that expired or have been idle
// for longer than the given timeout. Removal goes through the registry
// so credentials are cleared and agents closed along the way.
func (m *Manager) CleanupIdleSessions(ctx context.Context, timeout time.Duration) error {
	sessions, err := m.registry.repo.ListSessions(ctx)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		expired := time.Now().After(s.Expiry)
		if !expired && time.Since(s.LastVisited) < timeout {
			continue
		}

		if err := m.registry.Remove(ctx, s.ID); err != nil {
			slogctx.Warn(ctx, "Could not delete idle session", "session_id", s.ID, "error", err)
			continue
		}

		slogctx.Info(ctx, "Deleted idle session", "session_id", s.ID, "expired", expired)
	}

	return nil
}
