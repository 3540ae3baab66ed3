package jsonhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/mcp"
	"github.com/palmarentals/mcp-gateway/router"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(`"ok"`)}}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	cat := catalog.New()
	rt := router.New(cat, echoDispatcher{}, mcp.ImplementationInfo{Name: "palma-rentals-mcp", Version: "1.2.0"},
		router.WithLogger(log))
	h := New(rt, cat, mcp.ImplementationInfo{Name: "palma-rentals-mcp", Version: "1.2.0"},
		WithLogger(log),
		WithTransportEndpoints(map[string]string{"mcp": "/mcp", "sse": "/sse", "messages": "/messages"}))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func postMCP(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	res, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, b
}

func TestPostResolvesInline(t *testing.T) {
	srv := newTestServer(t)

	res, body := postMCP(t, srv, `{"jsonrpc":"2.0","id":5,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	var frame struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Result  struct {
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if frame.JSONRPC != "2.0" || frame.ID != 5 {
		t.Errorf("frame envelope = %s", body)
	}
	if frame.Result.ProtocolVersion != mcp.ProtocolVersion {
		t.Errorf("protocolVersion = %q", frame.Result.ProtocolVersion)
	}
}

func TestPostStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   int
	}{
		{"parse error", `{not json`, http.StatusBadRequest, -32700},
		{"invalid envelope", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, http.StatusBadRequest, -32600},
		{"batch rejected", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, http.StatusBadRequest, -32600},
		{"method not found", `{"jsonrpc":"2.0","id":1,"method":"nope"}`, http.StatusOK, -32601},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := postMCP(t, srv, tc.body)
			if res.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", res.StatusCode, tc.wantStatus)
			}
			var frame struct {
				Error struct {
					Code int `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(body, &frame); err != nil {
				t.Fatalf("decoding frame: %v", err)
			}
			if frame.Error.Code != tc.wantCode {
				t.Errorf("error code = %d, want %d", frame.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestPostNotificationAcknowledgedWithoutBody(t *testing.T) {
	srv := newTestServer(t)

	res, body := postMCP(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", res.StatusCode)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %s", body)
	}
}

func TestCustomMCPPath(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	cat := catalog.New()
	rt := router.New(cat, echoDispatcher{}, mcp.ImplementationInfo{Name: "palma-rentals-mcp", Version: "1.2.0"},
		router.WithLogger(log))
	srv := httptest.NewServer(New(rt, cat, mcp.ImplementationInfo{Name: "palma-rentals-mcp", Version: "1.2.0"},
		WithLogger(log), WithMCPPath("/rpc")))
	t.Cleanup(srv.Close)

	res, err := srv.Client().Post(srv.URL+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("custom path status = %d, want 200", res.StatusCode)
	}

	res, err = srv.Client().Post(srv.URL+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("default path status = %d, want 404", res.StatusCode)
	}
}

func TestPostRejectsWrongContentType(t *testing.T) {
	srv := newTestServer(t)

	res, err := srv.Client().Post(srv.URL+"/mcp", "text/plain", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", res.StatusCode)
	}
}

func TestDiscoveryMetadata(t *testing.T) {
	srv := newTestServer(t)

	res, err := srv.Client().Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}

	var meta struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Protocol  string            `json:"protocol"`
		Endpoints map[string]string `json:"endpoints"`
		Tools     []string          `json:"tools"`
	}
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta.Name != "palma-rentals-mcp" || meta.Version != "1.2.0" {
		t.Errorf("identity = %s/%s", meta.Name, meta.Version)
	}
	if meta.Protocol != mcp.ProtocolVersion {
		t.Errorf("protocol = %q", meta.Protocol)
	}
	if meta.Endpoints["sse"] != "/sse" {
		t.Errorf("endpoints = %v", meta.Endpoints)
	}
	if len(meta.Tools) != catalog.New().Len() {
		t.Errorf("tools = %v", meta.Tools)
	}
}

func TestHealthProbe(t *testing.T) {
	srv := newTestServer(t)

	res, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	var health struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Timestamp == "" {
		t.Errorf("health = %+v", health)
	}
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/mcp", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("allow-methods = %q", got)
	}
}
