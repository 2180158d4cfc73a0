package sessionsql

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// handlePgError maps postgres error codes onto the service error
// taxonomy. The second return reports whether the error was handled.
func handlePgError(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err, false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %w", serviceerr.ErrConflict, err), true
	default:
		return err, false
	}
}
