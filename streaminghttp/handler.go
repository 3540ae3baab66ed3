package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/palmarentals/mcp-gateway/internal/jsonrpc"
	"github.com/palmarentals/mcp-gateway/internal/logctx"
	"github.com/palmarentals/mcp-gateway/router"
	"github.com/palmarentals/mcp-gateway/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	sessionIDParam  = "sessionId"
	sessionIDHeader = "X-Session-Id"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. This is transport-level, not JSON-RPC framing.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler. If not provided, the
// default logger is used.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithEndpoints overrides the SSE and message-injection paths.
func WithEndpoints(ssePath, messagesPath string) Option {
	return func(h *Handler) {
		h.ssePath = ssePath
		h.messagesPath = messagesPath
	}
}

// Handler is the streaming transport adapter: it owns channel lifecycle via
// the session registry and delegates message semantics to the shared router.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	router   *router.Router
	registry *sessions.Registry

	ssePath      string
	messagesPath string
}

// New constructs the streaming handler over the shared router and registry.
func New(rt *router.Router, reg *sessions.Registry, opts ...Option) *Handler {
	h := &Handler{
		log:          slog.Default(),
		router:       rt,
		registry:     reg,
		ssePath:      "/sse",
		messagesPath: "/messages",
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET %s", h.ssePath), h.handleOpenStream)
	mux.HandleFunc(fmt.Sprintf("POST %s", h.messagesPath), h.handlePostMessage)
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

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and a
// context. It serializes concurrent writes/flushes (heartbeat vs. message
// delivery) and avoids writing after the connection context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// sseChannel adapts a locked flusher to the registry's EventWriter.
type sseChannel struct {
	wf *lockedWriteFlusher
}

// WriteEvent writes one named SSE frame and flushes it.
func (c sseChannel) WriteEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(c.wf, "event: %s\n", event); err != nil {
		return fmt.Errorf("failed to write SSE event name: %w", err)
	}
	if _, err := c.wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := c.wf.Write(data); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := c.wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	c.wf.Flush()
	return nil
}

// handleOpenStream handles GET on the SSE endpoint: it opens the event
// channel, registers the session, and advertises the injection endpoint.
func (h *Handler) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "sse.accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	ch := sseChannel{wf: wf}
	sess := h.registry.Open(r.URL.Query().Get(sessionIDParam), ch)

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Transport: "sse"})

	endpoint := fmt.Sprintf("%s?%s=%s", h.messagesPath, sessionIDParam, sess.ID())
	if err := ch.WriteEvent("endpoint", []byte(endpoint)); err != nil {
		h.log.WarnContext(ctx, "sse.endpoint.write.fail", slog.String("err", err.Error()))
		h.registry.Close(sess.ID())
		return
	}

	connected, _ := json.Marshal(map[string]string{"sessionId": sess.ID()})
	if err := ch.WriteEvent("connected", connected); err != nil {
		h.log.WarnContext(ctx, "sse.connected.write.fail", slog.String("err", err.Error()))
		h.registry.Close(sess.ID())
		return
	}

	h.log.InfoContext(ctx, "sse.stream.start")

	select {
	case <-ctx.Done():
		// Client disconnect is the only explicit teardown path.
	case <-sess.Done():
		// Heartbeat write failure already tore the session down.
	}
	h.registry.Close(sess.ID())

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handlePostMessage handles POST on the injection endpoint. The HTTP exchange
// is acknowledged immediately; the JSON-RPC outcome arrives later as a
// `message` frame on the session's channel.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	sessID := r.URL.Query().Get(sessionIDParam)
	if sessID == "" {
		sessID = r.Header.Get(sessionIDHeader)
	}
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sessID, Transport: "sse"})

	if !h.registry.Has(sessID) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	// Acknowledge before routing: the protocol exchange is fully asynchronous
	// relative to the injection call.
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})

	// The injection request's context dies with the 202; routing continues on
	// a detached context that keeps the log enrichment values.
	go h.route(context.WithoutCancel(ctx), sessID, &msg)
}

// route runs one injected message through the router and delivers the frame,
// if any, on the session's channel. Delivery to a since-closed session is
// logged, never raised.
func (h *Handler) route(ctx context.Context, sessID string, msg *jsonrpc.AnyMessage) {
	resp := h.router.Handle(ctx, msg)
	if resp == nil {
		return
	}

	b, err := json.Marshal(resp)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}

	if err := h.registry.Send(sessID, "message", b); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.InfoContext(ctx, "session.deliver.miss")
			return
		}
		h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
	}
}
