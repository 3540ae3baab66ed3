// Package dispatch maps tool invocations onto backend calls and folds every
// outcome, success or failure, into the MCP tool result envelope.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/palmarentals/mcp-gateway/backend"
	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/internal/logctx"
	"github.com/palmarentals/mcp-gateway/mcp"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the slog logger used by the dispatcher.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// Dispatcher resolves tool names against the catalog and executes the bound
// backend operation. Dispatch never returns an error: tool-execution failures
// are reported inside the envelope, keeping them out of the JSON-RPC error
// taxonomy.
type Dispatcher struct {
	cat     *catalog.Catalog
	backend backend.Caller
	log     *slog.Logger
}

// New constructs a Dispatcher over the given catalog and backend.
func New(cat *catalog.Catalog, caller backend.Caller, opts ...Option) *Dispatcher {
	d := &Dispatcher{cat: cat, backend: caller, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// errorPayload is the structured JSON body carried in failed tool results.
type errorPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Dispatch executes one tool call and wraps the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
	start := time.Now()

	entry, ok := d.cat.Lookup(name)
	if !ok {
		d.log.WarnContext(ctx, "tool.dispatch.unknown")
		return errorResult(errorPayload{Success: false, Error: "Unknown tool: " + name})
	}

	params := make(map[string]any, len(args)+len(entry.Binding.Defaults))
	for k, v := range args {
		params[k] = v
	}
	for k, v := range entry.Binding.Defaults {
		if cur, present := params[k]; !present || cur == nil {
			params[k] = v
		}
	}

	path, err := expandPath(entry.Binding.Path, params)
	if err != nil {
		d.log.WarnContext(ctx, "tool.dispatch.args.invalid", slog.String("err", err.Error()))
		return errorResult(errorPayload{Success: false, Error: err.Error()})
	}

	raw, err := d.backend.Call(ctx, path, entry.Binding.Method, params)
	if err != nil {
		msg := err.Error()
		d.log.WarnContext(ctx, "tool.dispatch.fail",
			slog.String("err", msg),
			slog.Duration("dur", time.Since(start)))
		return errorResult(errorPayload{Success: false, Error: msg, Details: msg})
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		msg := fmt.Sprintf("failed to render backend response: %v", err)
		d.log.ErrorContext(ctx, "tool.dispatch.render.fail", slog.String("err", err.Error()))
		return errorResult(errorPayload{Success: false, Error: msg, Details: msg})
	}

	d.log.InfoContext(ctx, "tool.dispatch.ok", slog.Duration("dur", time.Since(start)))
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(pretty.String())}}
}

// errorResult serializes the error payload as pretty JSON inside an isError
// envelope.
func errorResult(p errorPayload) *mcp.CallToolResult {
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		// The payload is three strings and a bool; this cannot fail.
		body = []byte(`{"success": false, "error": "internal error"}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(body))},
		IsError: true,
	}
}

// expandPath substitutes {placeholder} segments with same-named arguments and
// consumes them so they do not repeat in the query string or body.
func expandPath(path string, params map[string]any) (string, error) {
	if !strings.Contains(path, "{") {
		return path, nil
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		key := seg[1 : len(seg)-1]
		v, ok := params[key]
		if !ok || v == nil {
			return "", fmt.Errorf("Missing required argument: %s", key)
		}
		segments[i] = url.PathEscape(fmt.Sprintf("%v", v))
		delete(params, key)
	}
	return strings.Join(segments, "/"), nil
}
