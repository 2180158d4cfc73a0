package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
	"github.com/vetassist/mcp-bridge/internal/session"
	sessionmock "github.com/vetassist/mcp-bridge/internal/session/mock"
)

func TestRegistry_Create_UniqueIDs(t *testing.T) {
	repo := sessionmock.NewInMemRepository()
	registry := session.NewRegistry(repo, time.Hour)

	const workers = 64
	const perWorker = 16

	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, sess, err := registry.Create(context.Background(), "fp")
				assert.NoError(t, err)
				ids <- sess.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "Duplicate session ID: %s", id)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, workers*perWorker)
}

func TestRegistry_Get(t *testing.T) {
	repo := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
		ID:     "persisted-session",
		Expiry: time.Now().Add(time.Hour),
	}))
	registry := session.NewRegistry(repo, time.Hour)

	entry, sess, err := registry.Get(t.Context(), "persisted-session")
	require.NoError(t, err)
	assert.Equal(t, "persisted-session", entry.ID())
	assert.Equal(t, "persisted-session", sess.ID)

	again, _, err := registry.Get(t.Context(), "persisted-session")
	require.NoError(t, err)
	assert.Same(t, entry, again, "Repeated lookups must share the entry")

	_, _, err = registry.Get(t.Context(), "no-such-session")
	assert.ErrorIs(t, err, serviceerr.ErrUnknownSession)
}

func TestRegistry_AttachAgent(t *testing.T) {
	repo := sessionmock.NewInMemRepository()
	registry := session.NewRegistry(repo, time.Hour)

	_, sess, err := registry.Create(t.Context(), "fp")
	require.NoError(t, err)

	first := &stubAgent{reply: "first"}
	require.NoError(t, registry.AttachAgent(t.Context(), sess.ID, first))

	second := &stubAgent{reply: "second"}
	require.NoError(t, registry.AttachAgent(t.Context(), sess.ID, second))
	assert.True(t, first.closed, "Replaced agent must be closed")

	err = registry.AttachAgent(t.Context(), "no-such-session", &stubAgent{})
	assert.ErrorIs(t, err, serviceerr.ErrUnknownSession)
}

func TestRegistry_Remove(t *testing.T) {
	repo := sessionmock.NewInMemRepository()
	registry := session.NewRegistry(repo, time.Hour)

	_, sess, err := registry.Create(t.Context(), "fp")
	require.NoError(t, err)

	agent := &stubAgent{}
	require.NoError(t, registry.AttachAgent(t.Context(), sess.ID, agent))

	require.NoError(t, registry.Remove(t.Context(), sess.ID))
	assert.True(t, agent.closed, "Removal must close the agent")

	_, err = repo.LoadSession(t.Context(), sess.ID)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "Removal must delete the record")

	assert.ErrorIs(t, registry.Remove(t.Context(), sess.ID), serviceerr.ErrUnknownSession)
}
