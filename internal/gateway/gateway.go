// ABOUTME: Gateway orchestrator that wires the store, hub and chat service behind one HTTP server
// ABOUTME: Owns routing, health and metrics endpoints, and the serve/shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/chat"
	"github.com/2389/opsdesk/internal/config"
	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/dedupe"
	"github.com/2389/opsdesk/internal/store"
)

// Client correlation ids are remembered this long for idempotent sends.
const (
	sendDedupeTTL  = 5 * time.Minute
	sendDedupeSize = 10000
)

// Gateway serves the support-chat HTTP API and live streams.
type Gateway struct {
	config     *config.Config
	store      store.ChatStore
	hub        *conversation.Hub
	chat       *chat.Service
	recent     *dedupe.Cache
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// baseCtx parents every request context. Cancelling it ends open
	// streams, which http.Server.Shutdown would otherwise wait on forever.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	heartbeatInterval time.Duration
}

// initStore creates the SQLite store named by config.
func initStore(cfg *config.Config) (store.ChatStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway backed by the SQLite database in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a gateway over an existing store. The gateway takes
// ownership and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.ChatStore, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if cfg.Stream.BufferSize <= 0 {
		cfg.Stream.BufferSize = config.DefaultStreamBufferSize
	}

	hub := conversation.NewHub(logger)
	recent := dedupe.New(sendDedupeTTL, sendDedupeSize)
	baseCtx, cancelBase := context.WithCancel(context.Background())

	gw := &Gateway{
		config:            cfg,
		store:             s,
		hub:               hub,
		chat:              chat.New(s, hub, recent, logger),
		recent:            recent,
		verifier:          auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:            logger.With("component", "gateway"),
		baseCtx:           baseCtx,
		cancelBase:        cancelBase,
		heartbeatInterval: DefaultHeartbeatInterval,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gw.baseCtx },
	}

	return gw, nil
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.Handler())
	}

	authed := auth.HTTPAuthMiddleware(g.verifier)
	mux.Handle("POST /api/chat/send", authed(http.HandlerFunc(g.handleSend)))
	mux.Handle("POST /api/chat/delete", authed(http.HandlerFunc(g.handleDelete)))
	mux.Handle("POST /api/chat/clear", authed(http.HandlerFunc(g.handleClear)))
	mux.Handle("POST /api/chat/seen", authed(http.HandlerFunc(g.handleSeen)))
	mux.Handle("GET /api/chat/history", authed(http.HandlerFunc(g.handleHistory)))
	mux.Handle("GET /api/chat/threads", authed(http.HandlerFunc(g.handleThreads)))
	mux.Handle("GET /api/chat/stream", authed(http.HandlerFunc(g.handleStream)))

	return g.withRequestID(mux)
}

// withRequestID tags every request with an X-Request-ID, reusing the
// caller's when present.
func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		g.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "request_id", reqID)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Hub returns the broadcast hub.
func (g *Gateway) Hub() *conversation.Hub {
	return g.hub
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown ends open streams, stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.cancelBase()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	g.recent.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness along with live stream counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.baseCtx.Err() != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live rooms)", g.hub.Rooms())
}
