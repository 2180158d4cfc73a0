package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// memStore is a minimal in-memory CredentialStore for exercising the
// provider without a session backend.
type memStore struct {
	mu           sync.Mutex
	registration []byte
	tokens       []byte
	verifier     *string
}

func (s *memStore) LoadRegistration(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registration == nil {
		return nil, serviceerr.ErrNotFound
	}

	return s.registration, nil
}

func (s *memStore) SaveRegistration(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registration = raw

	return nil
}

func (s *memStore) LoadTokens(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens == nil {
		return nil, serviceerr.ErrNotFound
	}

	return s.tokens, nil
}

func (s *memStore) SaveTokens(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = raw

	return nil
}

func (s *memStore) SaveVerifier(_ context.Context, verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier = &verifier

	return nil
}

func (s *memStore) ConsumeVerifier(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.verifier == nil {
		return "", serviceerr.ErrNotFound
	}

	v := *s.verifier
	s.verifier = nil

	return v, nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registration = nil
	s.tokens = nil
	s.verifier = nil

	return nil
}

func newAuthServer(t *testing.T, registrations *int, exchanges *int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Metadata{
			Issuer:                srv.URL,
			AuthorizationEndpoint: srv.URL + "/oauth2/authorize",
			TokenEndpoint:         srv.URL + "/oauth2/token",
			RegistrationEndpoint:  srv.URL + "/oauth2/register",
		})
	})

	mux.HandleFunc("POST /oauth2/register", func(w http.ResponseWriter, r *http.Request) {
		if registrations != nil {
			*registrations++
		}

		var metadata ClientMetadata
		require.NoError(t, json.NewDecoder(r.Body).Decode(&metadata))
		require.NotEmpty(t, metadata.RedirectURIs)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ClientRegistration{
			ClientID:         "registered-client",
			ClientIDIssuedAt: time.Now().Unix(),
		})
	})

	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if exchanges != nil {
			*exchanges++
		}

		require.NoError(t, r.ParseForm())

		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

			return
		}

		_ = json.NewEncoder(w).Encode(TokenSet{
			AccessToken:  "access-token",
			TokenType:    "Bearer",
			RefreshToken: "refresh-token",
			ExpiresIn:    3600,
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestProvider_BeginAuthorization(t *testing.T) {
	tests := []struct {
		name          string
		clientID      string
		wantClientID  string
		registrations int
	}{
		{
			name:          "Preconfigured client skips registration",
			clientID:      "my-client-id",
			wantClientID:  "my-client-id",
			registrations: 0,
		},
		{
			name:          "Dynamic registration when no client configured",
			clientID:      "",
			wantClientID:  "registered-client",
			registrations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registrations := 0
			srv := newAuthServer(t, &registrations, nil)

			store := &memStore{}
			provider := NewProvider("session-one", ProviderConfig{
				MetadataURL: srv.URL,
				RedirectURI: "http://localhost:8080/oauth/callback",
				Scopes:      []string{"openid", "tools"},
				ClientID:    tt.clientID,
			}, store, NewDiscovery(srv.Client()), srv.Client())

			authURL, err := provider.BeginAuthorization(t.Context())
			require.NoError(t, err)

			u, err := url.Parse(authURL)
			require.NoError(t, err)

			q := u.Query()
			assert.Equal(t, "code", q.Get("response_type"), "Unexpected response type")
			assert.Equal(t, tt.wantClientID, q.Get("client_id"), "Unexpected client id")
			assert.Equal(t, "session-one", q.Get("state"), "State must carry the session ID")
			assert.Equal(t, "S256", q.Get("code_challenge_method"), "Unexpected challenge method")
			assert.NotEmpty(t, q.Get("code_challenge"), "Code challenge is zero")
			assert.Equal(t, "http://localhost:8080/oauth/callback", q.Get("redirect_uri"), "Unexpected redirect uri")
			assert.Equal(t, "openid tools", q.Get("scope"), "Unexpected scope")

			assert.Equal(t, tt.registrations, registrations, "Unexpected registration count")

			verifier, err := provider.ConsumeCodeVerifier(t.Context())
			require.NoError(t, err)
			assert.NotEmpty(t, verifier, "No verifier stored for the attempt")
		})
	}
}

func TestProvider_BeginAuthorization_ReusesRegistration(t *testing.T) {
	registrations := 0
	srv := newAuthServer(t, &registrations, nil)

	store := &memStore{}
	provider := NewProvider("session-one", ProviderConfig{
		MetadataURL: srv.URL,
		RedirectURI: "http://localhost:8080/oauth/callback",
	}, store, NewDiscovery(srv.Client()), srv.Client())

	_, err := provider.BeginAuthorization(t.Context())
	require.NoError(t, err)
	_, err = provider.BeginAuthorization(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, registrations, "Registration must happen once per session")
}

func TestProvider_ConsumeCodeVerifier_SingleUse(t *testing.T) {
	store := &memStore{}
	provider := NewProvider("session-one", ProviderConfig{}, store, NewDiscovery(nil), nil)

	require.NoError(t, provider.SaveCodeVerifier(t.Context(), "the-verifier"))

	verifier, err := provider.ConsumeCodeVerifier(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "the-verifier", verifier)

	_, err = provider.ConsumeCodeVerifier(t.Context())
	assert.ErrorIs(t, err, serviceerr.ErrMissingVerifier, "Second consume must fail")
}

func TestProvider_ExchangeCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantCode  serviceerr.Code
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name:      "Successful exchange",
			code:      "good-code",
			assertErr: assert.NoError,
		},
		{
			name:      "Upstream rejection surfaces as token exchange failure",
			code:      "bad-code",
			wantCode:  serviceerr.CodeTokenExchange,
			assertErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAuthServer(t, nil, nil)

			store := &memStore{}
			provider := NewProvider("session-one", ProviderConfig{
				MetadataURL: srv.URL,
				RedirectURI: "http://localhost:8080/oauth/callback",
				ClientID:    "my-client-id",
			}, store, NewDiscovery(srv.Client()), srv.Client())

			tokens, err := provider.ExchangeCode(t.Context(), tt.code, "the-verifier")
			if !tt.assertErr(t, err) || err != nil {
				var svcErr *serviceerr.Error
				require.ErrorAs(t, err, &svcErr)
				assert.Equal(t, tt.wantCode, svcErr.Err, "Unexpected error class")

				return
			}

			assert.Equal(t, "access-token", tokens.AccessToken)
			assert.Equal(t, "Bearer", tokens.TokenType)
			assert.False(t, tokens.ObtainedAt.IsZero(), "ObtainedAt not stamped")
			assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt(), time.Minute)
		})
	}
}

func TestProvider_ExchangeCode_BoundedByRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Metadata{
			Issuer:        srv.URL,
			TokenEndpoint: srv.URL + "/oauth2/token",
		})
	})
	mux.HandleFunc("POST /oauth2/token", func(http.ResponseWriter, *http.Request) {
		<-release
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider := NewProvider("session-one", ProviderConfig{
		MetadataURL:    srv.URL,
		RedirectURI:    "http://localhost:8080/oauth/callback",
		ClientID:       "my-client-id",
		RequestTimeout: 100 * time.Millisecond,
	}, &memStore{}, NewDiscovery(srv.Client()), srv.Client())

	start := time.Now()
	_, err := provider.ExchangeCode(t.Context(), "good-code", "the-verifier")

	var svcErr *serviceerr.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, serviceerr.CodeTokenExchange, svcErr.Err, "Unexpected error class")
	assert.Less(t, time.Since(start), 2*time.Second, "A hung token endpoint must not stall the exchange")
}

func TestProvider_TokenStore(t *testing.T) {
	store := &memStore{}
	provider := NewProvider("session-one", ProviderConfig{}, store, NewDiscovery(nil), nil)

	_, err := provider.GetToken(t.Context())
	assert.ErrorIs(t, err, transport.ErrNoToken, "Empty store must report ErrNoToken")

	require.NoError(t, provider.SaveToken(t.Context(), &transport.Token{
		AccessToken:  "refreshed-access",
		TokenType:    "Bearer",
		RefreshToken: "refreshed-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	token, err := provider.GetToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token.AccessToken)
	assert.Equal(t, "refreshed-refresh", token.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, time.Minute)

	tokens, err := provider.Tokens(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", tokens.AccessToken, "Refresh must land in the credential store")
}

func TestProvider_GetToken_MalformedTokensDropped(t *testing.T) {
	store := &memStore{tokens: []byte(`{"access_token":`)}
	provider := NewProvider("session-one", ProviderConfig{}, store, NewDiscovery(nil), nil)

	_, err := provider.GetToken(t.Context())
	assert.ErrorIs(t, err, transport.ErrNoToken, "Malformed tokens must restart the flow, not surface an error")

	_, err = provider.Tokens(t.Context())
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "Malformed tokens must be dropped, not kept")
}

func TestProvider_BeginAuthorization_MalformedRegistrationReRegisters(t *testing.T) {
	registrations := 0
	srv := newAuthServer(t, &registrations, nil)

	store := &memStore{
		registration: []byte(`not json`),
		tokens:       []byte(`{"access_token":"stale","token_type":"Bearer"}`),
	}
	provider := NewProvider("session-one", ProviderConfig{
		MetadataURL: srv.URL,
		RedirectURI: "http://localhost:8080/oauth/callback",
	}, store, NewDiscovery(srv.Client()), srv.Client())

	_, err := provider.BeginAuthorization(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, registrations, "A fresh client must be registered")

	reg, err := provider.Registration(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "registered-client", reg.ClientID)

	_, err = provider.Tokens(t.Context())
	assert.ErrorIs(t, err, serviceerr.ErrNotFound, "Tokens of the dropped registration must not survive")
}

func TestProvider_Clear(t *testing.T) {
	store := &memStore{}
	provider := NewProvider("session-one", ProviderConfig{}, store, NewDiscovery(nil), nil)

	require.NoError(t, provider.SaveTokens(t.Context(), TokenSet{AccessToken: "a", TokenType: "Bearer"}))
	require.NoError(t, provider.SaveCodeVerifier(t.Context(), "v"))
	require.NoError(t, provider.Clear(t.Context()))

	_, err := provider.Tokens(t.Context())
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	_, err = provider.ConsumeCodeVerifier(t.Context())
	assert.ErrorIs(t, err, serviceerr.ErrMissingVerifier)
}
