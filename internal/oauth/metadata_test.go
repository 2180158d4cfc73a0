package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDiscovery_Get(t *testing.T) {
	tests := []struct {
		name          string
		oauthMetadata bool
		oidcMetadata  bool
		assertErr     assert.ErrorAssertionFunc
	}{
		{
			name:          "OAuth authorization server metadata",
			oauthMetadata: true,
			assertErr:     assert.NoError,
		},
		{
			name:         "Falls back to openid-configuration",
			oidcMetadata: true,
			assertErr:    assert.NoError,
		},
		{
			name:      "Error - no well-known document",
			assertErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			var srv *httptest.Server

			writeMetadata := func(w http.ResponseWriter) {
				_ = json.NewEncoder(w).Encode(Metadata{
					Issuer:                srv.URL,
					AuthorizationEndpoint: srv.URL + "/oauth2/authorize",
					TokenEndpoint:         srv.URL + "/oauth2/token",
				})
			}

			if tt.oauthMetadata {
				mux.HandleFunc("GET /.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
					writeMetadata(w)
				})
			}

			if tt.oidcMetadata {
				mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
					writeMetadata(w)
				})
			}

			srv = httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			discovery := NewDiscovery(srv.Client())

			metadata, err := discovery.Get(t.Context(), srv.URL)
			if !tt.assertErr(t, err) || err != nil {
				return
			}

			assert.Equal(t, srv.URL+"/oauth2/authorize", metadata.AuthorizationEndpoint)
			assert.Equal(t, srv.URL+"/oauth2/token", metadata.TokenEndpoint)
		})
	}
}

func TestDiscovery_Get_DirectWellKnownURL(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("GET /tenant-a/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Metadata{
			AuthorizationEndpoint: srv.URL + "/oauth2/authorize",
			TokenEndpoint:         srv.URL + "/oauth2/token",
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	discovery := NewDiscovery(srv.Client())

	metadata, err := discovery.Get(t.Context(), srv.URL+"/tenant-a/.well-known/openid-configuration")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/oauth2/token", metadata.TokenEndpoint)
}

func TestDiscovery_Get_Caches(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
	)

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(Metadata{
			AuthorizationEndpoint: srv.URL + "/oauth2/authorize",
			TokenEndpoint:         srv.URL + "/oauth2/token",
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	discovery := NewDiscovery(srv.Client())

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			_, err := discovery.Get(t.Context(), srv.URL)

			return err
		})
	}
	require.NoError(t, g.Wait())

	_, err := discovery.Get(t.Context(), srv.URL)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, requests, 2, "Concurrent lookups must collapse into few fetches")
}
