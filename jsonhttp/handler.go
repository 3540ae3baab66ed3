// Package jsonhttp implements the synchronous single-shot transport: each
// POST body is one JSON-RPC message and the response frame, if any, is the
// HTTP response body. The package also serves discovery metadata and the
// health probe.
package jsonhttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/internal/jsonrpc"
	"github.com/palmarentals/mcp-gateway/internal/logctx"
	"github.com/palmarentals/mcp-gateway/mcp"
	"github.com/palmarentals/mcp-gateway/router"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMCPPath overrides the JSON-RPC endpoint path.
func WithMCPPath(path string) Option {
	return func(h *Handler) { h.mcpPath = path }
}

// WithTransportEndpoints sets the endpoint list advertised in discovery
// metadata (the streaming endpoints live in another handler).
func WithTransportEndpoints(endpoints map[string]string) Option {
	return func(h *Handler) { h.endpoints = endpoints }
}

// Handler is the synchronous HTTP adapter over the shared router.
type Handler struct {
	mux  *http.ServeMux
	log  *slog.Logger
	rt   *router.Router
	cat  *catalog.Catalog
	info mcp.ImplementationInfo

	mcpPath   string
	endpoints map[string]string
}

// New constructs the synchronous handler. info is the server identity served
// in discovery metadata.
func New(rt *router.Router, cat *catalog.Catalog, info mcp.ImplementationInfo, opts ...Option) *Handler {
	h := &Handler{
		log:     slog.Default(),
		rt:      rt,
		cat:     cat,
		info:    info,
		mcpPath: "/mcp",
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", h.mcpPath), h.handlePostMessage)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", h.mcpPath), h.handlePreflight)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /{$}", h.handleDiscovery)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeFrame emits one JSON-RPC frame with the given HTTP status.
func (h *Handler) writeFrame(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePostMessage resolves one message inline: decode, route, answer.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	setCORS(w)

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		h.writeFrame(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		h.writeFrame(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: batch arrays are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		h.writeFrame(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", err.Error()))
		return
	}

	resp := h.rt.Handle(ctx, &msg)
	if resp == nil {
		// Notifications produce no frame but still acknowledge receipt.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.notification.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	status := http.StatusOK
	if resp.Error != nil {
		switch resp.Error.Code {
		case jsonrpc.ErrorCodeInvalidRequest:
			status = http.StatusBadRequest
		case jsonrpc.ErrorCodeInternalError:
			status = http.StatusInternalServerError
		}
	}
	h.writeFrame(w, status, resp)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleDiscovery serves static server metadata for clients probing the root.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":      h.info.Name,
		"version":   h.info.Version,
		"protocol":  mcp.ProtocolVersion,
		"endpoints": h.endpoints,
		"tools":     h.cat.Names(),
	})
}

// handleHealth serves the liveness probe.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
}
