package sessionmemory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
	"github.com/vetassist/mcp-bridge/internal/session"
	sessionmemory "github.com/vetassist/mcp-bridge/internal/session/memory"
)

func TestRepository_Roundtrip(t *testing.T) {
	repo := sessionmemory.NewRepository()

	sess := session.Session{
		ID:          "session-one",
		Fingerprint: "fp",
		Verifier:    "verifier",
		Expiry:      time.Now().Add(time.Hour),
	}

	require.NoError(t, repo.StoreSession(t.Context(), sess))

	loaded, err := repo.LoadSession(t.Context(), "session-one")
	require.NoError(t, err)
	assert.Equal(t, sess.Verifier, loaded.Verifier)

	// Upsert keeps the same row.
	sess.Verifier = ""
	require.NoError(t, repo.StoreSession(t.Context(), sess))

	loaded, err = repo.LoadSession(t.Context(), "session-one")
	require.NoError(t, err)
	assert.Empty(t, loaded.Verifier)

	all, err := repo.ListSessions(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.DeleteSession(t.Context(), sess))

	_, err = repo.LoadSession(t.Context(), "session-one")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteSession(t.Context(), sess), serviceerr.ErrNotFound)
}

func TestRepository_Concurrent(t *testing.T) {
	repo := sessionmemory.NewRepository()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := session.Session{ID: string(rune('a' + i))}
			assert.NoError(t, repo.StoreSession(t.Context(), sess))
			_, err := repo.LoadSession(t.Context(), sess.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := repo.ListSessions(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 32)
}
