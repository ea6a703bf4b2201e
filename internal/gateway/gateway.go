// ABOUTME: Gateway orchestrator that wires the store, cache, relay, and HTTP server
// ABOUTME: Manages startup, health endpoints, and graceful shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/config"
	"github.com/2389/agency-gateway/internal/graphcache"
	"github.com/2389/agency-gateway/internal/metrics"
	"github.com/2389/agency-gateway/internal/relay"
	"github.com/2389/agency-gateway/internal/session"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/variables"
)

// Gateway orchestrates the agency-gateway server components: the SQLite
// store, the graph cache, the WebSocket relay, and the HTTP server that
// hosts them.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	cache      *graphcache.Cache
	registry   *relay.Registry
	relay      *relay.Relay
	sessions   *session.Index
	variables  *variables.Manager
	clients    *clientFactory
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates the store from config, honoring the AGENCY_DB_PATH
// override.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENCY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	vars := variables.NewManager(s)
	sessions := session.NewIndex(s, logger)

	cacheOpts := graphcache.Options{
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	}
	if cfg.Cache.Persist {
		cacheOpts.Store = s
	}
	cache := graphcache.New(cacheOpts)

	clients := &clientFactory{
		baseURL:     cfg.Runtime.BaseURL,
		fallbackKey: cfg.Runtime.APIKey,
		variables:   vars,
		logger:      logger,
	}

	registry := relay.NewRegistry()
	rly := relay.New(relay.Options{
		Registry:          registry,
		Verifier:          verifier,
		Sessions:          sessions,
		Specs:             s,
		Clients:           clients,
		Cache:             cache,
		MessagesPerMinute: cfg.Relay.MessagesPerMinute,
		Logger:            logger,
	})

	gw := &Gateway{
		config:    cfg,
		store:     s,
		cache:     cache,
		registry:  registry,
		relay:     rly,
		sessions:  sessions,
		variables: vars,
		clients:   clients,
		verifier:  verifier,
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// WebSocket relay authenticates per frame, not at the handshake
	mux.HandleFunc("/ws", rly.HandleWS)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
	}

	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// setupListener creates the TCP listener for the HTTP server.
func (g *Gateway) setupListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.cache.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.GetSession(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.registry.Len())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("agency-gateway-%d", time.Now().UnixNano()%1000000)
}
