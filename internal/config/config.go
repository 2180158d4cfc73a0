// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Application Application `yaml:"application"`
	Logger      Logger      `yaml:"logger"`

	HTTP HTTPServer `yaml:"http"`

	IdentityProvider IdentityProvider `yaml:"identityProvider"`
	ToolServer       ToolServer       `yaml:"toolServer"`
	Agent            Agent            `yaml:"agent"`

	Store          Store          `yaml:"store"`
	Database       Database       `yaml:"database"`
	ValKey         ValKey         `yaml:"valkey"`
	Migrate        Migrate        `yaml:"migrate"`
	SessionManager SessionManager `yaml:"sessionManager"`
	Housekeeper    Housekeeper    `yaml:"housekeeper"`
}

type Application struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPServer struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// IdentityProvider points at the OAuth authorization server protecting
// the tool server. ClientID and ClientSecret are optional: when both
// are unset, the bridge registers a client dynamically.
type IdentityProvider struct {
	MetadataURL    string        `yaml:"metadataURL"`
	Scopes         []string      `yaml:"scopes"`
	ClientID       SourceRef     `yaml:"clientID"`
	ClientSecret   SourceRef     `yaml:"clientSecret"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type ToolServer struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type Agent struct {
	BaseURL        string        `yaml:"baseURL"`
	Model          string        `yaml:"model"`
	APIKey         SourceRef     `yaml:"apiKey"`
	MaxTurns       int           `yaml:"maxTurns"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// Store selects the session persistence backend.
type Store struct {
	Backend string `yaml:"backend"`
}

const (
	StoreBackendMemory   = "memory"
	StoreBackendValKey   = "valkey"
	StoreBackendPostgres = "postgres"
)

type Database struct {
	Name     string    `yaml:"name"`
	Port     string    `yaml:"port"`
	Host     SourceRef `yaml:"host"`
	User     SourceRef `yaml:"user"`
	Password SourceRef `yaml:"password"`
}

type ValKey struct {
	Host     SourceRef `yaml:"host"`
	User     SourceRef `yaml:"user"`
	Password SourceRef `yaml:"password"`
	Prefix   string    `yaml:"prefix"`
}

type SessionManager struct {
	SessionDuration time.Duration  `yaml:"sessionDuration"`
	IdleTimeout     time.Duration  `yaml:"idleTimeout"`
	RedirectURI     string         `yaml:"redirectURI"`
	Cookie          CookieTemplate `yaml:"cookie"`
}

type Migrate struct {
	Source string `yaml:"source"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "none"
	CookieSameSiteLax    CookieSameSite = "lax"
	CookieSameSiteStrict CookieSameSite = "strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite"`
}

// SourceRef references a configuration value by where it lives rather
// than inlining it, so secrets can stay out of the config file.
type SourceRef struct {
	Source string `yaml:"source"`
	Value  string `yaml:"value"`
	Env    string `yaml:"env"`
	File   string `yaml:"file"`
}

const (
	SourceEmbedded = "embedded"
	SourceEnv      = "env"
	SourceFile     = "file"
)

// Resolve loads the referenced value. An empty Source is treated as
// embedded.
func (r SourceRef) Resolve() (string, error) {
	switch r.Source {
	case "", SourceEmbedded:
		return r.Value, nil
	case SourceEnv:
		return os.Getenv(r.Env), nil
	case SourceFile:
		b, err := os.ReadFile(r.File)
		if err != nil {
			return "", fmt.Errorf("reading value from %s: %w", r.File, err)
		}

		return strings.TrimSpace(string(b)), nil
	default:
		return "", fmt.Errorf("unknown value source: %q", r.Source)
	}
}
