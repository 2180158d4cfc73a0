package business

import (
	"context"
	"errors"
	"fmt"

	"github.com/vetassist/mcp-bridge/internal/agent"
	"github.com/vetassist/mcp-bridge/internal/config"
	"github.com/vetassist/mcp-bridge/internal/oauth"
	"github.com/vetassist/mcp-bridge/internal/session"
	"github.com/vetassist/mcp-bridge/internal/toolclient"
)

const clientVersion = "0.1.0"

// agentBuilder glues the tool client and the chat agent together for
// the session manager: connect to the tool server with the session's
// credentials, then put an agent on top of the resulting tool surface.
type agentBuilder struct {
	toolConf  toolclient.Config
	agentConf agent.Config
}

func newAgentBuilder(cfg *config.Config) (*agentBuilder, error) {
	apiKey, err := cfg.Agent.APIKey.Resolve()
	if err != nil {
		return nil, fmt.Errorf("loading agent API key: %w", err)
	}

	return &agentBuilder{
		toolConf: toolclient.Config{
			ServerURL:      cfg.ToolServer.URL,
			MetadataURL:    cfg.IdentityProvider.MetadataURL,
			RedirectURI:    cfg.SessionManager.RedirectURI,
			Scopes:         cfg.IdentityProvider.Scopes,
			ClientName:     cfg.Application.Name,
			ClientVersion:  clientVersion,
			RequestTimeout: cfg.ToolServer.RequestTimeout,
		},
		agentConf: agent.Config{
			LLM: agent.LLMConfig{
				BaseURL:        cfg.Agent.BaseURL,
				APIKey:         apiKey,
				Model:          cfg.Agent.Model,
				RequestTimeout: cfg.Agent.RequestTimeout,
			},
			MaxTurns: cfg.Agent.MaxTurns,
		},
	}, nil
}

func (b *agentBuilder) Build(ctx context.Context, provider *oauth.Provider) (session.Agent, []session.ToolInfo, error) {
	client, err := toolclient.Connect(ctx, b.toolConf, provider)
	if err != nil {
		if errors.Is(err, toolclient.ErrAuthorizationRequired) {
			return nil, nil, errors.Join(session.ErrAuthorizationRequired, err)
		}

		return nil, nil, err
	}

	infos := make([]session.ToolInfo, 0, len(client.Tools()))
	for _, tool := range client.Tools() {
		infos = append(infos, session.ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}

	return agent.New(b.agentConf, client, nil), infos, nil
}
