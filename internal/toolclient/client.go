// Package toolclient wraps the MCP client for the OAuth-protected tool
// server. Token injection, refresh, and typed 401 handling are
// delegated to mcp-go's OAuth transport; the session's credential
// provider is plugged in as its token store.
package toolclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	slogctx "github.com/veqryn/slog-context"
)

// ErrAuthorizationRequired reports that the tool server answered with
// an OAuth challenge, meaning the session has no usable tokens.
var ErrAuthorizationRequired = errors.New("tool server requires authorization")

// Credentials supplies the OAuth material for one session: the token
// store the transport reads and writes, and the client ID the session
// is registered under.
type Credentials interface {
	transport.TokenStore
	ClientID(ctx context.Context) string
}

type Config struct {
	ServerURL      string
	MetadataURL    string
	RedirectURI    string
	Scopes         []string
	ClientName     string
	ClientVersion  string
	RequestTimeout time.Duration
}

// Client is a connected MCP session against the tool server.
type Client struct {
	conf Config

	mu     sync.Mutex
	client *client.Client
	tools  []mcp.Tool
}

// Connect dials the tool server with the session's credentials,
// performs the protocol handshake, and lists the available tools.
// A 401 challenge is reported as ErrAuthorizationRequired.
func Connect(ctx context.Context, conf Config, creds Credentials) (*Client, error) {
	mcpClient, err := client.NewStreamableHttpClient(conf.ServerURL,
		transport.WithHTTPOAuth(transport.OAuthConfig{
			ClientID:              creds.ClientID(ctx),
			RedirectURI:           conf.RedirectURI,
			Scopes:                conf.Scopes,
			TokenStore:            creds,
			AuthServerMetadataURL: conf.MetadataURL,
			PKCEEnabled:           true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()

		if isAuthRequired(err) {
			return nil, errors.Join(ErrAuthorizationRequired, err)
		}

		return nil, fmt.Errorf("starting MCP client: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    conf.ClientName,
		Version: conf.ClientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := mcpClient.Initialize(ctx, initRequest)
	if err != nil {
		_ = mcpClient.Close()

		if isAuthRequired(err) {
			return nil, errors.Join(ErrAuthorizationRequired, err)
		}

		return nil, fmt.Errorf("initializing MCP protocol: %w", err)
	}

	slogctx.Info(ctx, "Connected to the tool server",
		"server_name", serverInfo.ServerInfo.Name,
		"server_version", serverInfo.ServerInfo.Version)

	c := &Client{
		conf:   conf,
		client: mcpClient,
	}

	if _, err := c.ListTools(ctx); err != nil {
		_ = mcpClient.Close()

		return nil, err
	}

	return c, nil
}

// isAuthRequired recognizes the transport's typed OAuth error plus the
// untyped 401 shapes some servers produce.
func isAuthRequired(err error) bool {
	if client.IsOAuthAuthorizationRequiredError(err) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "no valid token available") ||
		strings.Contains(msg, "authorization required") ||
		strings.Contains(msg, "401")
}

// ListTools refreshes and returns the tool listing.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		if isAuthRequired(err) {
			return nil, errors.Join(ErrAuthorizationRequired, err)
		}

		return nil, fmt.Errorf("listing tools: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()

	return result.Tools, nil
}

// Tools returns the listing from the last ListTools call.
func (c *Client) Tools() []mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tools
}

// CallTool invokes one tool and flattens the textual content of the
// result. A result flagged as an error comes back as a Go error
// carrying the tool's message.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := c.client.CallTool(ctx, request)
	if err != nil {
		if isAuthRequired(err) {
			return "", errors.Join(ErrAuthorizationRequired, err)
		}

		return "", fmt.Errorf("calling tool %s: %w", name, err)
	}

	text := flattenContent(result.Content)

	if result.IsError {
		if text == "" {
			text = "tool returned an error"
		}

		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}

	return text, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.conf.RequestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.conf.RequestTimeout)
}

func flattenContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, item := range content {
		if textContent, ok := item.(mcp.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}

			sb.WriteString(textContent.Text)
		}
	}

	return sb.String()
}
