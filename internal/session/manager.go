package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/vetassist/mcp-bridge/internal/oauth"
	"github.com/vetassist/mcp-bridge/internal/serviceerr"
)

// ErrAuthorizationRequired is reported by an AgentBuilder when the tool
// server rejects the connection with an OAuth challenge. The manager
// answers it with an authorization URL instead of an agent.
var ErrAuthorizationRequired = errors.New("tool server requires authorization")

// AgentBuilder connects to the tool server with the session's
// credentials and assembles the agent answering its messages, plus the
// tool listing the client shows the user.
type AgentBuilder interface {
	Build(ctx context.Context, provider *oauth.Provider) (Agent, []ToolInfo, error)
}

const (
	StatusReady                 = "ready"
	StatusAuthorizationRequired = "authorization_required"
)

// InitResult is the outcome of starting a session: either a working
// agent with its tools, or the URL the user must visit first.
type InitResult struct {
	SessionID        string
	Status           string
	AuthorizationURL string
	Tools            []ToolInfo
}

// Manager owns the session lifecycle: creation, the authorization
// callback, message dispatch, and removal. All per-session work runs
// under the session's entry lock, so concurrent requests for the same
// session are serialized while distinct sessions proceed in parallel.
type Manager struct {
	registry       *Registry
	providerConf   oauth.ProviderConfig
	discovery      *oauth.Discovery
	httpClient     *http.Client
	builder        AgentBuilder
	messageTimeout time.Duration
}

func NewManager(registry *Registry, providerConf oauth.ProviderConfig, discovery *oauth.Discovery, httpClient *http.Client, builder AgentBuilder, messageTimeout time.Duration) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		registry:       registry,
		providerConf:   providerConf,
		discovery:      discovery,
		httpClient:     httpClient,
		builder:        builder,
		messageTimeout: messageTimeout,
	}
}

// Provider returns the credential provider for the given entry. The
// provider is stateless; a fresh value per request is fine.
func (m *Manager) Provider(entry *Entry) *oauth.Provider {
	return oauth.NewProvider(entry.id, m.providerConf, entry.creds, m.discovery, m.httpClient)
}

// InitSession creates a session and tries to connect its agent. When
// the tool server demands a login, the result carries the
// authorization URL as data for the caller to present.
func (m *Manager) InitSession(ctx context.Context, fingerprint string) (InitResult, error) {
	entry, sess, err := m.registry.Create(ctx, fingerprint)
	if err != nil {
		return InitResult{}, fmt.Errorf("creating session: %w", err)
	}

	ctx = slogctx.With(ctx, "session_id", sess.ID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	provider := m.Provider(entry)

	agent, tools, err := m.builder.Build(ctx, provider)
	if err != nil {
		if !errors.Is(err, ErrAuthorizationRequired) {
			return InitResult{}, fmt.Errorf("connecting to tool server: %w", err)
		}

		authURL, err := provider.BeginAuthorization(ctx)
		if err != nil {
			return InitResult{}, fmt.Errorf("beginning authorization: %w", err)
		}

		slogctx.Info(ctx, "Session awaits authorization")

		return InitResult{
			SessionID:        sess.ID,
			Status:           StatusAuthorizationRequired,
			AuthorizationURL: authURL,
		}, nil
	}

	attachAgentLocked(ctx, entry, agent)

	slogctx.Info(ctx, "Session ready", "tools", len(tools))

	return InitResult{
		SessionID: sess.ID,
		Status:    StatusReady,
		Tools:     tools,
	}, nil
}

// FinalizeAuthorization handles the OAuth callback. The state carries
// the session ID; the code is exchanged for tokens with the verifier
// saved when the authorization began. The verifier is consumed before
// any network call, so a replayed or concurrent callback fails without
// touching the token endpoint.
func (m *Manager) FinalizeAuthorization(ctx context.Context, state, code, fingerprint string) ([]ToolInfo, error) {
	entry, sess, err := m.registry.Get(ctx, state)
	if err != nil {
		return nil, err
	}

	ctx = slogctx.With(ctx, "session_id", sess.ID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if time.Now().After(sess.Expiry) {
		return nil, serviceerr.ErrSessionExpired
	}

	if sess.Fingerprint != fingerprint {
		return nil, serviceerr.ErrFingerprintMismatch
	}

	provider := m.Provider(entry)

	if _, err := provider.Registration(ctx); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, serviceerr.ErrAuthorizationState
		}

		return nil, err
	}

	verifier, err := provider.ConsumeCodeVerifier(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	if err := provider.SaveTokens(ctx, tokens); err != nil {
		return nil, fmt.Errorf("storing tokens: %w", err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens", "token_format", tokens.Format())

	agent, tools, err := m.builder.Build(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("connecting to tool server: %w", err)
	}

	attachAgentLocked(ctx, entry, agent)
	m.touch(ctx, sess)

	return tools, nil
}

// HandleMessage forwards one user message to the session's agent. A
// session without usable credentials answers with ErrNotAuthorized; an
// entry lost to a restart is rebuilt from the stored tokens first.
func (m *Manager) HandleMessage(ctx context.Context, sessionID, fingerprint, message string) (string, error) {
	entry, sess, err := m.registry.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrUnknownSession) {
			return "", serviceerr.ErrNotAuthorized
		}

		return "", err
	}

	ctx = slogctx.With(ctx, "session_id", sess.ID)

	if time.Now().After(sess.Expiry) {
		return "", serviceerr.ErrSessionExpired
	}

	if sess.Fingerprint != fingerprint {
		return "", serviceerr.ErrFingerprintMismatch
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.agent == nil {
		if err := m.rebuildAgent(ctx, entry); err != nil {
			return "", err
		}
	}

	if m.messageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.messageTimeout)
		defer cancel()
	}

	reply, err := entry.agent.Handle(ctx, message)
	if err != nil {
		return "", fmt.Errorf("handling message: %w", err)
	}

	m.touch(ctx, sess)

	return reply, nil
}

func (m *Manager) rebuildAgent(ctx context.Context, entry *Entry) error {
	agent, _, err := m.builder.Build(ctx, m.Provider(entry))
	if err != nil {
		if errors.Is(err, ErrAuthorizationRequired) {
			return serviceerr.ErrNotAuthorized
		}

		return fmt.Errorf("connecting to tool server: %w", err)
	}

	attachAgentLocked(ctx, entry, agent)

	return nil
}

// RemoveSession tears the session down and clears its credentials.
func (m *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	return m.registry.Remove(ctx, sessionID)
}

func (m *Manager) touch(ctx context.Context, sess Session) {
	sess.LastVisited = time.Now()
	if err := m.registry.repo.StoreSession(ctx, sess); err != nil {
		slogctx.Warn(ctx, "Could not update session last visit", "error", err)
	}
}
