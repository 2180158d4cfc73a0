package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Metadata. Usually accessible from the well-known URL of the
// authorization server. It's a subset of RFC 8414 Authorization Server
// Metadata, which also covers the OpenID Connect discovery document.
type Metadata struct {
	Issuer                            string   `json:"issuer,omitempty"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

func (m Metadata) Validate() error {
	if m.AuthorizationEndpoint == "" {
		return fmt.Errorf("metadata has no authorization_endpoint")
	}

	if m.TokenEndpoint == "" {
		return fmt.Errorf("metadata has no token_endpoint")
	}

	return nil
}

// metadataTTL bounds how long a discovered document is reused before
// the well-known endpoint is asked again.
const metadataTTL = 30 * time.Minute

// Discovery fetches and caches authorization server metadata.
// Concurrent fetches for the same URL are collapsed into one request.
type Discovery struct {
	client *http.Client
	cache  *gocache.Cache
	group  singleflight.Group
}

func NewDiscovery(client *http.Client) *Discovery {
	if client == nil {
		client = http.DefaultClient
	}

	return &Discovery{
		client: client,
		cache:  gocache.New(metadataTTL, 10*time.Minute),
	}
}

// Get resolves the metadata for metadataURL. A URL already pointing at
// a .well-known document is fetched as-is; anything else is treated as
// an issuer URL and probed via the RFC 8414 well-known path first, with
// the OpenID Connect discovery path as fallback.
func (d *Discovery) Get(ctx context.Context, metadataURL string) (Metadata, error) {
	if cached, ok := d.cache.Get(metadataURL); ok {
		return cached.(Metadata), nil
	}

	result, err, _ := d.group.Do(metadataURL, func() (any, error) {
		if cached, ok := d.cache.Get(metadataURL); ok {
			return cached.(Metadata), nil
		}

		metadata, err := d.fetch(ctx, metadataURL)
		if err != nil {
			return Metadata{}, err
		}

		d.cache.SetDefault(metadataURL, metadata)

		return metadata, nil
	})
	if err != nil {
		return Metadata{}, err
	}

	return result.(Metadata), nil
}

func (d *Discovery) fetch(ctx context.Context, metadataURL string) (Metadata, error) {
	candidates := []string{metadataURL}
	if !strings.Contains(metadataURL, "/.well-known/") {
		issuer := strings.TrimSuffix(metadataURL, "/")
		candidates = []string{
			issuer + "/.well-known/oauth-authorization-server",
			issuer + "/.well-known/openid-configuration",
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		metadata, err := d.fetchOne(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}

		return metadata, nil
	}

	return Metadata{}, fmt.Errorf("discovering authorization server metadata: %w", lastErr)
}

func (d *Discovery) fetchOne(ctx context.Context, wellKnownURL string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("fetching %s failed with status: %d", wellKnownURL, resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return Metadata{}, fmt.Errorf("decoding metadata response: %w", err)
	}

	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}

	return metadata, nil
}
