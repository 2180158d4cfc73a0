// Package oauth implements the per-session authorization code + PKCE
// flow against the authorization server protecting the tool server:
// endpoint discovery, dynamic client registration, the credential
// provider, and the token exchange.
package oauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// ClientMetadata is the registration request body for RFC 7591 dynamic
// client registration.
type ClientMetadata struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistration is what the authorization server hands back for a
// registered client. It is persisted as raw JSON and re-validated on
// every load, so a corrupted record surfaces as
// serviceerr.ErrMalformedRegistration instead of an empty client_id.
type ClientRegistration struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}

func (r ClientRegistration) Validate() error {
	if r.ClientID == "" {
		return serviceerr.ErrMalformedRegistration
	}

	return nil
}

// TokenSet is the token endpoint response plus the time it was
// obtained, which turns the relative expires_in into an absolute
// deadline.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at,omitempty"`
}

func (t TokenSet) Validate() error {
	if t.AccessToken == "" {
		return serviceerr.ErrMalformedTokenSet
	}

	return nil
}

// ExpiresAt returns the absolute expiry, or the zero time when the
// server did not report expires_in.
func (t TokenSet) ExpiresAt() time.Time {
	if t.ExpiresIn <= 0 || t.ObtainedAt.IsZero() {
		return time.Time{}
	}

	return t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Format classifies the access token for logging. Tokens are opaque to
// the bridge either way; this only tells operators what kind of
// artifact the server issues.
func (t TokenSet) Format() string {
	if _, err := jose.ParseSigned(t.AccessToken, []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.PS256, jose.PS384, jose.PS512,
		jose.EdDSA, jose.HS256, jose.HS384, jose.HS512,
	}); err == nil {
		return "jwt"
	}

	return "opaque"
}

// CredentialStore persists one session's OAuth artifacts. Records are
// raw JSON so schema validation happens on read, not behind the store.
// Load and Consume return serviceerr.ErrNotFound when nothing is
// stored.
type CredentialStore interface {
	LoadRegistration(ctx context.Context) ([]byte, error)
	SaveRegistration(ctx context.Context, raw []byte) error

	LoadTokens(ctx context.Context) ([]byte, error)
	SaveTokens(ctx context.Context, raw []byte) error

	SaveVerifier(ctx context.Context, verifier string) error
	// ConsumeVerifier removes the stored verifier and returns it. A
	// second consume without an intervening save must fail, also under
	// concurrency.
	ConsumeVerifier(ctx context.Context) (string, error)

	// Clear removes every artifact of the session.
	Clear(ctx context.Context) error
}

func marshalRegistration(reg ClientRegistration) ([]byte, error) {
	return json.Marshal(reg)
}

func unmarshalRegistration(raw []byte) (ClientRegistration, error) {
	var reg ClientRegistration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return ClientRegistration{}, serviceerr.ErrMalformedRegistration
	}

	if err := reg.Validate(); err != nil {
		return ClientRegistration{}, err
	}

	return reg, nil
}

func marshalTokenSet(tokens TokenSet) ([]byte, error) {
	return json.Marshal(tokens)
}

func unmarshalTokenSet(raw []byte) (TokenSet, error) {
	var tokens TokenSet
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return TokenSet{}, serviceerr.ErrMalformedTokenSet
	}

	if err := tokens.Validate(); err != nil {
		return TokenSet{}, err
	}

	return tokens, nil
}
