package business

import (
	"context"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/vetassist/mcp-bridge/internal/business/server"
	"github.com/vetassist/mcp-bridge/internal/config"
	"github.com/vetassist/mcp-bridge/internal/oauth"
	"github.com/vetassist/mcp-bridge/internal/session"
	sessionmemory "github.com/vetassist/mcp-bridge/internal/session/memory"
	sessionsql "github.com/vetassist/mcp-bridge/internal/session/sql"
	sessionvalkey "github.com/vetassist/mcp-bridge/internal/session/valkey"
)

// Main starts the public HTTP API server.
func Main(ctx context.Context, cfg *config.Config) error {
	sessionManager, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, sessionManager)
}

func initSessionManager(ctx context.Context, cfg *config.Config) (_ *session.Manager, closeFn func(), _ error) {
	repo, closeFn, err := initSessionRepository(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the session repository: %w", err)
	}

	providerConf, err := makeProviderConfig(cfg)
	if err != nil {
		closeFn()

		return nil, nil, err
	}

	builder, err := newAgentBuilder(cfg)
	if err != nil {
		closeFn()

		return nil, nil, err
	}

	registry := session.NewRegistry(repo, cfg.SessionManager.SessionDuration)
	discovery := oauth.NewDiscovery(http.DefaultClient)

	sessManager := session.NewManager(
		registry,
		providerConf,
		discovery,
		http.DefaultClient,
		builder,
		cfg.Agent.RequestTimeout,
	)

	return sessManager, closeFn, nil
}

func initSessionRepository(ctx context.Context, cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		slogctx.Warn(ctx, "Using the in-memory session store, sessions will not survive a restart")

		return sessionmemory.NewRepository(), func() {}, nil

	case config.StoreBackendValKey:
		valkeyHost, err := cfg.ValKey.Host.Resolve()
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey host: %w", err)
		}

		valkeyUsername, err := cfg.ValKey.User.Resolve()
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey username: %w", err)
		}

		valkeyPassword, err := cfg.ValKey.Password.Resolve()
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey password: %w", err)
		}

		valkeyClient, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{valkeyHost},
			Username:    valkeyUsername,
			Password:    valkeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		return sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil

	case config.StoreBackendPostgres:
		connStr, err := config.MakeConnStr(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("making dsn from config: %w", err)
		}

		poolConf, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing pgxpool config: %w", err)
		}

		poolConf.ConnConfig.Tracer = otelpgx.NewTracer()

		db, err := pgxpool.NewWithConfig(ctx, poolConf)
		if err != nil {
			return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
		}

		return sessionsql.NewRepository(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

func makeProviderConfig(cfg *config.Config) (oauth.ProviderConfig, error) {
	clientID, err := cfg.IdentityProvider.ClientID.Resolve()
	if err != nil {
		return oauth.ProviderConfig{}, fmt.Errorf("loading identity provider client ID: %w", err)
	}

	clientSecret, err := cfg.IdentityProvider.ClientSecret.Resolve()
	if err != nil {
		return oauth.ProviderConfig{}, fmt.Errorf("loading identity provider client secret: %w", err)
	}

	return oauth.ProviderConfig{
		MetadataURL:    cfg.IdentityProvider.MetadataURL,
		RedirectURI:    cfg.SessionManager.RedirectURI,
		Scopes:         cfg.IdentityProvider.Scopes,
		ClientName:     cfg.Application.Name,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		RequestTimeout: cfg.IdentityProvider.RequestTimeout,
	}, nil
}
