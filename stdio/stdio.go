package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/mcp"
	"github.com/palmarentals/mcp-gateway/router"
)

// Option configures the stdio server.
type Option func(*server)

// WithLogger sets the slog logger used by the stdio server.
func WithLogger(log *slog.Logger) Option {
	return func(s *server) {
		if log != nil {
			s.log = log
		}
	}
}

type server struct {
	log *slog.Logger
}

// Run serves the catalog's tools over stdin/stdout until the client
// disconnects or ctx is canceled. Tool calls go through the shared
// dispatcher; the SDK owns framing, initialize, and list handling.
func Run(ctx context.Context, cat *catalog.Catalog, disp router.ToolDispatcher, info mcp.ImplementationInfo, opts ...Option) error {
	s := &server{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	srv := sdk.NewServer(&sdk.Implementation{Name: info.Name, Version: info.Version}, nil)

	for _, tool := range cat.Tools() {
		schema, err := toSDKSchema(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("failed to convert schema for tool %s: %w", tool.Name, err)
		}

		name := tool.Name
		srv.AddTool(&sdk.Tool{
			Name:        name,
			Description: tool.Description,
			InputSchema: schema,
		}, func(ctx context.Context, ss *sdk.ServerSession, params *sdk.CallToolParamsFor[map[string]any]) (*sdk.CallToolResult, error) {
			res := disp.Dispatch(ctx, name, params.Arguments)
			return toSDKResult(res), nil
		})
	}

	s.log.Info("stdio.serve.start", slog.Int("tools", cat.Len()))
	err := srv.Run(ctx, &sdk.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio transport failed: %w", err)
	}
	return nil
}

// toSDKSchema converts the gateway's simplified input schema to the SDK's
// jsonschema representation via a JSON round trip.
func toSDKSchema(in mcp.ToolInputSchema) (*jsonschema.Schema, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// toSDKResult maps the gateway envelope onto the SDK result type.
func toSDKResult(res *mcp.CallToolResult) *sdk.CallToolResult {
	out := &sdk.CallToolResult{IsError: res.IsError}
	for _, block := range res.Content {
		out.Content = append(out.Content, &sdk.TextContent{Text: block.Text})
	}
	return out
}
