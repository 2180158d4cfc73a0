package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/vetassist/mcp-bridge/internal/oauth"
)

// authServer is a fake OAuth authorization server with metadata
// discovery, dynamic client registration, and a token endpoint. It
// counts requests so tests can assert which endpoints were hit.
type authServer struct {
	*httptest.Server

	mu            sync.Mutex
	registrations int
	exchanges     int
	failExchange  bool
	stallExchange chan struct{}
}

// StallExchange makes the token endpoint hang until the returned
// channel is closed.
func (a *authServer) StallExchange() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stallExchange = make(chan struct{})

	return a.stallExchange
}

func (a *authServer) Exchanges() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.exchanges
}

func (a *authServer) Registrations() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.registrations
}

func startAuthServer(t *testing.T, failExchange bool) *authServer {
	t.Helper()

	a := &authServer{failExchange: failExchange}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(oauth.Metadata{
			Issuer:                a.URL,
			AuthorizationEndpoint: a.URL + "/oauth2/authorize",
			TokenEndpoint:         a.URL + "/oauth2/token",
			RegistrationEndpoint:  a.URL + "/oauth2/register",
		})
	})

	mux.HandleFunc("POST /oauth2/register", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.registrations++
		a.mu.Unlock()

		var metadata oauth.ClientMetadata
		require.NoError(t, json.NewDecoder(r.Body).Decode(&metadata))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(oauth.ClientRegistration{
			ClientID:         "registered-client",
			ClientIDIssuedAt: time.Now().Unix(),
		})
	})

	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.exchanges++
		stall := a.stallExchange
		a.mu.Unlock()

		if stall != nil {
			<-stall

			return
		}

		require.NoError(t, r.ParseForm())

		if a.failExchange || r.PostForm.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token exchange failed"}`))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oauth.TokenSet{
			AccessToken:  signAccessToken(t),
			TokenType:    "Bearer",
			RefreshToken: "refresh-token",
			ExpiresIn:    3600,
		})
	})

	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)

	return a
}

func signAccessToken(t *testing.T) string {
	t.Helper()

	key := []byte("0123456789abcdef0123456789abcdef")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, nil)
	require.NoError(t, err)

	jws, err := signer.Sign([]byte(`{"sub":"jwt-test","iss":"fake-idp"}`))
	require.NoError(t, err)

	serialized, err := jws.CompactSerialize()
	require.NoError(t, err)

	return serialized
}
