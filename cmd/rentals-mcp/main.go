// Command rentals-mcp runs the La Palma vacation-rentals MCP gateway.
//
// By default it serves both HTTP transports (synchronous JSON-RPC on /mcp,
// streaming SSE on /sse + /messages) on one listener. With -stdio it speaks
// the MCP stdio transport instead, for embedding as a subprocess.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/palmarentals/mcp-gateway/backend"
	"github.com/palmarentals/mcp-gateway/catalog"
	"github.com/palmarentals/mcp-gateway/dispatch"
	"github.com/palmarentals/mcp-gateway/internal/config"
	"github.com/palmarentals/mcp-gateway/internal/logctx"
	"github.com/palmarentals/mcp-gateway/jsonhttp"
	"github.com/palmarentals/mcp-gateway/mcp"
	"github.com/palmarentals/mcp-gateway/router"
	"github.com/palmarentals/mcp-gateway/sessions"
	"github.com/palmarentals/mcp-gateway/stdio"
	"github.com/palmarentals/mcp-gateway/streaminghttp"
)

const (
	serverName    = "palma-rentals-mcp"
	serverVersion = "1.2.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	stdioMode := flag.Bool("stdio", false, "serve over stdin/stdout instead of HTTP")
	flag.Parse()

	if err := run(*stdioMode); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(stdioMode bool) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	// Stdout belongs to the stdio transport; all logging goes to stderr.
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := mcp.ImplementationInfo{Name: serverName, Version: serverVersion}

	be := backend.New(cfg.BackendBaseURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(log))
	cat := catalog.New()
	disp := dispatch.New(cat, be, dispatch.WithLogger(log))
	rt := router.New(cat, disp, info, router.WithLogger(log))

	if stdioMode {
		return stdio.Run(ctx, cat, disp, info, stdio.WithLogger(log))
	}

	reg := sessions.NewRegistry(
		sessions.WithLogger(log),
		sessions.WithHeartbeatInterval(cfg.HeartbeatInterval))

	streaming := streaminghttp.New(rt, reg, streaminghttp.WithLogger(log))
	synchronous := jsonhttp.New(rt, cat, info,
		jsonhttp.WithLogger(log),
		jsonhttp.WithTransportEndpoints(map[string]string{
			"mcp":      "/mcp",
			"sse":      "/sse",
			"messages": "/messages",
		}))

	mux := http.NewServeMux()
	mux.Handle("GET /sse", streaming)
	mux.Handle("POST /messages", streaming)
	mux.Handle("/", synchronous)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info("http.shutdown.start")

		// Closing sessions first unblocks the hanging SSE handlers so the
		// listener can drain within the timeout.
		reg.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http.shutdown.fail", slog.String("err", err.Error()))
		}
	}()

	log.Info("http.serve.start",
		slog.String("addr", cfg.ListenAddr),
		slog.String("backend", cfg.BackendBaseURL),
		slog.Int("tools", cat.Len()))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	log.Info("http.serve.stop")
	return nil
}
