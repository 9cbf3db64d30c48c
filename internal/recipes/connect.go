package recipes

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/huddle/internal/config"
	"github.com/comigor/huddle/internal/logger"
)

const defaultConnectTimeout = 5 * time.Second

// Connect opens and initializes the configured MCP recipe server.
func Connect(ctx context.Context, cfg config.RecipesConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	var (
		mcpC *client.Client
		err  error
	)
	switch cfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(cfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(cfg.URL, opts...)
	case config.ClientTypeStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported recipe server type %q (want sse, streamable_http or stdio)", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create MCP client %s: %w", cfg.Name, err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The SSE stream is bound to the ctx given to Start, so Start runs on ctx
	// and the deadline is enforced by closing the client.
	stop := context.AfterFunc(hctx, func() { closeQuietly(mcpC) })
	fail := func(step string, err error) (*Client, error) {
		if stop() {
			closeQuietly(mcpC)
		}
		return nil, fmt.Errorf("%s MCP client %s: %w", step, cfg.Name, err)
	}

	// stdio clients start their transport on creation.
	if cfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			return fail("start", err)
		}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "huddle", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpC.Initialize(hctx, initReq); err != nil {
		return fail("initialize", err)
	}
	if !stop() {
		return nil, fmt.Errorf("initialize MCP client %s: %w", cfg.Name, context.DeadlineExceeded)
	}
	logger.L.Info("recipe server initialized", "name", cfg.Name, "type", cfg.Type)

	c := New(mcpC, cfg.Budget, cfg.MaxResults)
	c.closer = mcpC.Close
	return c, nil
}

func closeQuietly(c *client.Client) {
	if err := c.Close(); err != nil {
		logger.L.Warn("MCP client close error", "error", err)
	}
}
