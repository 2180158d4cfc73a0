package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
)

// EnvPrefix guards which environment variables are treated as config
// overrides, e.g. MCPBRIDGE_HTTP_ADDRESS=:9090.
const EnvPrefix = "MCPBRIDGE_"

// Default returns a config populated with the values used when neither
// the config file nor the environment says otherwise.
func Default() *Config {
	return &Config{
		Application: Application{
			Name:        "mcp-bridge",
			Environment: "development",
		},
		Logger: Logger{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPServer{
			Address:         ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		IdentityProvider: IdentityProvider{
			RequestTimeout: 15 * time.Second,
		},
		ToolServer: ToolServer{
			RequestTimeout: 30 * time.Second,
		},
		Agent: Agent{
			MaxTurns:       8,
			RequestTimeout: 60 * time.Second,
		},
		Store: Store{
			Backend: StoreBackendMemory,
		},
		SessionManager: SessionManager{
			SessionDuration: 12 * time.Hour,
			IdleTimeout:     30 * time.Minute,
			RedirectURI:     "http://localhost:8080/oauth/callback",
			Cookie: CookieTemplate{
				Name:     "mcpbridge_session",
				Path:     "/",
				HTTPOnly: true,
				SameSite: CookieSameSiteLax,
			},
		},
		Migrate: Migrate{
			Source: "file://./sql",
		},
		Housekeeper: Housekeeper{
			TriggerInterval: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address must not be empty")
	}

	if c.ToolServer.URL == "" {
		return fmt.Errorf("toolServer.url must not be empty")
	}

	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendValKey, StoreBackendPostgres:
	default:
		return fmt.Errorf("store.backend must be one of %s, %s, %s",
			StoreBackendMemory, StoreBackendValKey, StoreBackendPostgres)
	}

	return nil
}

// applyEnv overlays MCPBRIDGE_SECTION_FIELD variables onto the config.
// Underscores separate struct levels; names match case-insensitively,
// so MCPBRIDGE_SESSIONMANAGER_IDLETIMEOUT=5m sets
// SessionManager.IdleTimeout.
func applyEnv(cfg *Config, environ []string) error {
	overlay := map[string]any{}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}

		path := strings.Split(strings.TrimPrefix(key, EnvPrefix), "_")

		node := overlay
		for _, segment := range path[:len(path)-1] {
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[segment] = child
			}

			node = child
		}

		node[path[len(path)-1]] = value
	}

	if len(overlay) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}

	return dec.Decode(overlay)
}
