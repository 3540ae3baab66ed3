// Package router interprets decoded JSON-RPC messages and produces response
// frames. One Router instance is shared by every transport so the method
// table cannot drift between them.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/internal/jsonrpc"
	"github.com/palmarentals/mcp-gateway/internal/logctx"
	"github.com/palmarentals/mcp-gateway/mcp"
)

// ToolDispatcher executes a tool call and wraps the outcome in the MCP
// envelope. It must not return errors; failures live inside the envelope.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the slog logger used by the router.
func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// Router routes JSON-RPC methods to protocol metadata or the tool dispatcher.
type Router struct {
	cat  *catalog.Catalog
	disp ToolDispatcher
	info mcp.ImplementationInfo
	log  *slog.Logger
}

// New constructs a Router over the given catalog and dispatcher. info is the
// serverInfo advertised during initialize.
func New(cat *catalog.Catalog, disp ToolDispatcher, info mcp.ImplementationInfo, opts ...Option) *Router {
	r := &Router{cat: cat, disp: disp, info: info, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle produces the response frame for one message, or nil when the message
// is a notification and no frame may be emitted. It never panics across its
// boundary: internal faults become -32603 frames.
func (r *Router) Handle(ctx context.Context, msg *jsonrpc.AnyMessage) (resp *jsonrpc.Response) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(ctx, "rpc.handle.panic", slog.Any("panic", rec))
			resp = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "Internal error", fmt.Sprintf("%v", rec))
		}
	}()

	// The envelope check precedes all method dispatch.
	if msg.JSONRPCVersion != jsonrpc.ProtocolVersion {
		r.log.WarnContext(ctx, "rpc.envelope.invalid", slog.String("version", msg.JSONRPCVersion))
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest,
			fmt.Sprintf("Invalid Request: expected jsonrpc %q", jsonrpc.ProtocolVersion), nil)
	}

	if msg.Method == "" {
		// Response-shaped frames have no place on a server-bound channel.
		if msg.ID.IsNil() {
			r.log.WarnContext(ctx, "rpc.message.unrecognized")
			return nil
		}
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest,
			"Invalid Request: expected a request message", nil)
	}

	if strings.HasPrefix(msg.Method, mcp.NotificationPrefix) {
		// Notifications are acknowledged by silence, initialized included.
		r.log.InfoContext(ctx, "rpc.notification.ok")
		return nil
	}

	switch mcp.Method(msg.Method) {
	case mcp.InitializeMethod:
		return r.handleInitialize(ctx, msg)

	case mcp.PingMethod:
		return r.result(ctx, msg.ID, struct{}{})

	case mcp.ToolsListMethod:
		return r.result(ctx, msg.ID, mcp.ListToolsResult{Tools: r.cat.Tools()})

	case mcp.ToolsCallMethod:
		return r.handleToolsCall(ctx, msg)

	case mcp.PromptsListMethod:
		return r.result(ctx, msg.ID, mcp.ListPromptsResult{Prompts: []mcp.Prompt{}})

	case mcp.ResourcesListMethod:
		return r.result(ctx, msg.ID, mcp.ListResourcesResult{Resources: []mcp.Resource{}})
	}

	if msg.ID.IsNil() {
		// Unrecognized notification-shaped message: never answered.
		r.log.InfoContext(ctx, "rpc.method.unknown.notification")
		return nil
	}

	r.log.WarnContext(ctx, "rpc.method.unknown")
	return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound,
		"Method not found: "+msg.Method, nil)
}

func (r *Router) handleInitialize(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	var initReq mcp.InitializeRequest
	if len(msg.Params) > 0 {
		// Client info is informational only; a malformed initialize params
		// object still gets the fixed result.
		if err := json.Unmarshal(msg.Params, &initReq); err == nil {
			r.log.InfoContext(ctx, "rpc.initialize",
				slog.String("client_name", initReq.ClientInfo.Name),
				slog.String("client_version", initReq.ClientInfo.Version),
				slog.String("client_protocol", initReq.ProtocolVersion))
		}
	}

	return r.result(ctx, msg.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    mcp.NewServerCapabilities(),
		ServerInfo:      r.info,
	})
}

func (r *Router) handleToolsCall(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	var call mcp.CallToolRequestReceived
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &call); err != nil {
			r.log.WarnContext(ctx, "rpc.tools_call.params.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params", err.Error())
		}
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			r.log.WarnContext(ctx, "rpc.tools_call.arguments.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "Invalid params", err.Error())
		}
	}

	return r.result(ctx, msg.ID, r.disp.Dispatch(ctx, call.Name, args))
}

func (r *Router) result(ctx context.Context, id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		r.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "Internal error", err.Error())
	}
	return resp
}
