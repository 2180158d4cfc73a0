package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	slogctx "github.com/veqryn/slog-context"

	"github.com/vetassist/mcp-bridge/internal/pkce"
	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// ProviderConfig carries the per-deployment parts of the authorization
// flow. When ClientID is set the bridge uses the preconfigured client
// and skips dynamic registration. RequestTimeout bounds every round
// trip to the identity provider; callers hold per-session locks across
// these calls, so a hung server must never stall them indefinitely.
type ProviderConfig struct {
	MetadataURL    string
	RedirectURI    string
	Scopes         []string
	ClientName     string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
}

// Provider drives the authorization code + PKCE flow for one session.
// All artifacts live in the session's CredentialStore; the provider
// itself holds no mutable state, so one value can be shared across the
// session's goroutines.
//
// Provider implements mcp-go's transport.TokenStore, which funnels the
// transport's own token refreshes through SaveTokens.
type Provider struct {
	sessionID string
	conf      ProviderConfig
	store     CredentialStore
	discovery *Discovery
	client    *http.Client
	pkce      pkce.Source
}

func NewProvider(sessionID string, conf ProviderConfig, store CredentialStore, discovery *Discovery, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		sessionID: sessionID,
		conf:      conf,
		store:     store,
		discovery: discovery,
		client:    client,
	}
}

// ClientMetadata returns the registration request this provider sends
// when the server requires dynamic registration. The client is public:
// PKCE replaces the client secret.
func (p *Provider) ClientMetadata() ClientMetadata {
	return ClientMetadata{
		ClientName:              p.conf.ClientName,
		RedirectURIs:            []string{p.conf.RedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(p.conf.Scopes, " "),
	}
}

// Registration returns the client registration in effect for this
// session. A preconfigured client takes precedence over a stored one.
func (p *Provider) Registration(ctx context.Context) (ClientRegistration, error) {
	if p.conf.ClientID != "" {
		return ClientRegistration{
			ClientID:     p.conf.ClientID,
			ClientSecret: p.conf.ClientSecret,
		}, nil
	}

	raw, err := p.store.LoadRegistration(ctx)
	if err != nil {
		return ClientRegistration{}, err
	}

	return unmarshalRegistration(raw)
}

func (p *Provider) SaveRegistration(ctx context.Context, reg ClientRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	raw, err := marshalRegistration(reg)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	return p.store.SaveRegistration(ctx, raw)
}

// Tokens returns the stored token set, or serviceerr.ErrNotFound when
// the session has not completed authorization yet.
func (p *Provider) Tokens(ctx context.Context) (TokenSet, error) {
	raw, err := p.store.LoadTokens(ctx)
	if err != nil {
		return TokenSet{}, err
	}

	return unmarshalTokenSet(raw)
}

func (p *Provider) SaveTokens(ctx context.Context, tokens TokenSet) error {
	if err := tokens.Validate(); err != nil {
		return err
	}

	if tokens.ObtainedAt.IsZero() {
		tokens.ObtainedAt = time.Now()
	}

	raw, err := marshalTokenSet(tokens)
	if err != nil {
		return fmt.Errorf("encoding token set: %w", err)
	}

	return p.store.SaveTokens(ctx, raw)
}

func (p *Provider) SaveCodeVerifier(ctx context.Context, verifier string) error {
	return p.store.SaveVerifier(ctx, verifier)
}

// ConsumeCodeVerifier removes and returns the pending verifier. It
// fails with serviceerr.ErrMissingVerifier when no authorization is in
// flight, including when a concurrent callback already spent it.
func (p *Provider) ConsumeCodeVerifier(ctx context.Context) (string, error) {
	verifier, err := p.store.ConsumeVerifier(ctx)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return "", serviceerr.ErrMissingVerifier
		}

		return "", err
	}

	return verifier, nil
}

// BeginAuthorization prepares a fresh authorization attempt and returns
// the URL the user must visit. The state parameter carries the session
// ID so the callback can find its way back. The URL is returned as
// data; issuing the redirect is the caller's business.
func (p *Provider) BeginAuthorization(ctx context.Context) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	metadata, err := p.discovery.Get(ctx, p.conf.MetadataURL)
	if err != nil {
		return "", fmt.Errorf("discovering authorization server: %w", err)
	}

	reg, err := p.ensureRegistration(ctx, metadata)
	if err != nil {
		return "", err
	}

	challenge := p.pkce.PKCE()
	if err := p.SaveCodeVerifier(ctx, challenge.Verifier); err != nil {
		return "", fmt.Errorf("storing code verifier: %w", err)
	}

	u, err := url.Parse(metadata.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", reg.ClientID)
	q.Set("state", p.sessionID)
	q.Set("code_challenge", challenge.Challenge)
	q.Set("code_challenge_method", challenge.Method)
	q.Set("redirect_uri", p.conf.RedirectURI)
	if len(p.conf.Scopes) > 0 {
		q.Set("scope", strings.Join(p.conf.Scopes, " "))
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ensureRegistration returns the effective client, registering one
// dynamically when the session has none yet.
func (p *Provider) ensureRegistration(ctx context.Context, metadata Metadata) (ClientRegistration, error) {
	reg, err := p.Registration(ctx)
	if err == nil {
		return reg, nil
	}

	switch {
	case errors.Is(err, serviceerr.ErrMalformedRegistration):
		// Tokens issued to an unreadable registration are useless, so
		// everything goes and the session authorizes from scratch.
		if clearErr := p.Clear(ctx); clearErr != nil {
			return ClientRegistration{}, clearErr
		}

		slogctx.Warn(ctx, "Dropped unreadable credentials, registering the client again")
	case errors.Is(err, serviceerr.ErrNotFound):
	default:
		return ClientRegistration{}, err
	}

	if metadata.RegistrationEndpoint == "" {
		return ClientRegistration{}, fmt.Errorf("no client configured and the server offers no registration_endpoint")
	}

	reg, err = p.register(ctx, metadata.RegistrationEndpoint)
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("registering client: %w", err)
	}

	if err := p.SaveRegistration(ctx, reg); err != nil {
		return ClientRegistration{}, fmt.Errorf("storing registration: %w", err)
	}

	return reg, nil
}

func (p *Provider) register(ctx context.Context, registrationEndpoint string) (ClientRegistration, error) {
	body, err := json.Marshal(p.ClientMetadata())
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("encoding client metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return ClientRegistration{}, fmt.Errorf("registration failed with status: %d", resp.StatusCode)
	}

	var reg ClientRegistration
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return ClientRegistration{}, fmt.Errorf("decoding response: %w", err)
	}

	if err := reg.Validate(); err != nil {
		return ClientRegistration{}, err
	}

	return reg, nil
}

// ExchangeCode trades the authorization code for tokens. The caller
// must have consumed the code verifier first. Any upstream failure is
// reported as a token exchange error so the HTTP surface maps it to a
// server-side failure rather than a client one.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (TokenSet, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	metadata, err := p.discovery.Get(ctx, p.conf.MetadataURL)
	if err != nil {
		return TokenSet{}, &serviceerr.Error{Err: serviceerr.CodeTokenExchange, Description: err.Error()}
	}

	reg, err := p.Registration(ctx)
	if err != nil {
		return TokenSet{}, err
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", p.conf.RedirectURI)
	data.Set("client_id", reg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if reg.ClientSecret != "" {
		req.SetBasicAuth(reg.ClientID, reg.ClientSecret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return TokenSet{}, &serviceerr.Error{
			Err:         serviceerr.CodeTokenExchange,
			Description: fmt.Sprintf("executing token request: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenSet{}, &serviceerr.Error{
			Err:         serviceerr.CodeTokenExchange,
			Description: fmt.Sprintf("token exchange failed with status: %d", resp.StatusCode),
		}
	}

	var tokens TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return TokenSet{}, &serviceerr.Error{
			Err:         serviceerr.CodeTokenExchange,
			Description: fmt.Sprintf("decoding token response: %v", err),
		}
	}

	tokens.ObtainedAt = time.Now()
	if err := tokens.Validate(); err != nil {
		return TokenSet{}, &serviceerr.Error{
			Err:         serviceerr.CodeTokenExchange,
			Description: "token response carries no access token",
		}
	}

	return tokens, nil
}

// withTimeout bounds one identity-provider interaction. A zero
// RequestTimeout leaves the caller's deadline in charge.
func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.conf.RequestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, p.conf.RequestTimeout)
}

// Clear wipes every credential of the session.
func (p *Provider) Clear(ctx context.Context) error {
	return p.store.Clear(ctx)
}

// ClientID returns the effective client ID, or the empty string before
// a registration exists.
func (p *Provider) ClientID(ctx context.Context) string {
	reg, err := p.Registration(ctx)
	if err != nil {
		return ""
	}

	return reg.ClientID
}

// GetToken implements transport.TokenStore. The transport treats
// transport.ErrNoToken as "start the authorization flow", which the
// bridge intercepts and turns into an authorization URL for the user.
func (p *Provider) GetToken(ctx context.Context) (*transport.Token, error) {
	tokens, err := p.Tokens(ctx)
	if err != nil {
		switch {
		case errors.Is(err, serviceerr.ErrNotFound):
			return nil, transport.ErrNoToken
		case errors.Is(err, serviceerr.ErrMalformedTokenSet):
			// An unreadable token set is dropped whole rather than
			// patched; the transport restarts the flow.
			if clearErr := p.store.SaveTokens(ctx, nil); clearErr != nil {
				return nil, clearErr
			}

			slogctx.Warn(ctx, "Dropped an unreadable token set")

			return nil, transport.ErrNoToken
		default:
			return nil, err
		}
	}

	return &transport.Token{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
		ExpiresAt:    tokens.ExpiresAt(),
	}, nil
}

// SaveToken implements transport.TokenStore. mcp-go calls this after a
// successful refresh, so refreshed tokens land in the same store the
// rest of the bridge reads.
func (p *Provider) SaveToken(ctx context.Context, token *transport.Token) error {
	if token == nil {
		return nil
	}

	tokens := TokenSet{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		ObtainedAt:   time.Now(),
	}

	if !token.ExpiresAt.IsZero() {
		if remaining := time.Until(token.ExpiresAt); remaining > 0 {
			tokens.ExpiresIn = int64(remaining.Seconds())
		}
	}

	return p.SaveTokens(ctx, tokens)
}

var _ transport.TokenStore = (*Provider)(nil)
