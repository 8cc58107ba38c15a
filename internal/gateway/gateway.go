// ABOUTME: Gateway orchestrator that coordinates GRPC and HTTP servers
// ABOUTME: Wires sessions, OAuth flows, discovery, store, and MCP lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/openrag/orag-gateway/internal/auth"
	"github.com/openrag/orag-gateway/internal/config"
	"github.com/openrag/orag-gateway/internal/discovery"
	"github.com/openrag/orag-gateway/internal/mcp"
	"github.com/openrag/orag-gateway/internal/oauthflow"
	"github.com/openrag/orag-gateway/internal/store"
)

// Gateway orchestrates the orag-gateway server components.
// It manages the HTTP server for the auth API and the gRPC server for
// machine clients.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	sessions   *auth.SessionManager
	flow       *oauthflow.Flow
	exposer    *discovery.Exposer
	mcpServer  *mcp.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("ORAG_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newSessionManager builds the session key material and manager from config.
func newSessionManager(cfg *config.Config, logger *slog.Logger) (*auth.SessionManager, error) {
	var keys *auth.KeyMaterial
	var err error

	switch cfg.Auth.Mode {
	case config.AuthModeHMAC:
		keys, err = auth.NewHMACKeyMaterial([]byte(cfg.Auth.JWTSecret))
	default:
		keys, err = auth.NewRSAKeyMaterial(cfg.Auth.RSAKeyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key material: %w", err)
	}

	return auth.NewSessionManager(keys, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.SessionLifetime, logger), nil
}

// createGRPCServer creates a gRPC server with API key auth, or with the
// anonymous bypass when auth is disabled.
func createGRPCServer(cfg *config.Config, validator auth.ApiKeyValidator, logger *slog.Logger) *grpc.Server {
	keepaliveOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if cfg.Auth.Disabled {
		logger.Warn("auth disabled - gRPC requests run as anonymous")
		return grpc.NewServer(append(keepaliveOpts,
			grpc.ChainUnaryInterceptor(auth.NoAuthUnaryInterceptor()),
			grpc.ChainStreamInterceptor(auth.NoAuthStreamInterceptor()),
		)...)
	}

	logger.Info("API key auth enabled on gRPC")
	return grpc.NewServer(append(keepaliveOpts,
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(validator, logger)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(validator, logger)),
	)...)
}

// buildConnectors constructs one connector per configured provider and
// registers them on the flow.
func buildConnectors(ctx context.Context, cfg *config.Config, flow *oauthflow.Flow, logger *slog.Logger) error {
	for name, providerCfg := range cfg.Provider {
		connector, err := oauthflow.NewConnector(ctx, name, providerCfg)
		if err != nil {
			return fmt.Errorf("building connector %s: %w", name, err)
		}
		flow.Register(connector)
		logger.Info("registered connector", "connector_type", name, "oidc", providerCfg.IssuerURL != "")
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := newSessionManager(cfg, logger.With("component", "sessions"))
	if err != nil {
		s.Close()
		return nil, err
	}

	flow := oauthflow.New(s, sessions, s, cfg.OAuth.StateTTL, logger.With("component", "oauthflow"))
	if err := buildConnectors(ctx, cfg, flow, logger); err != nil {
		s.Close()
		return nil, err
	}

	exposer := discovery.NewExposer(sessions, cfg.Auth.Issuer, cfg.Server.BaseURL, logger.With("component", "discovery"))

	grpcServer := createGRPCServer(cfg, s, logger)
	healthpb.RegisterHealthServer(grpcServer, health.NewServer())

	gw := &Gateway{
		config:     cfg,
		store:      s,
		sessions:   sessions,
		flow:       flow,
		exposer:    exposer,
		grpcServer: grpcServer,
		logger:     logger.With("component", "gateway"),
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Validator:      s,
		AuthDisabled:   cfg.Auth.Disabled,
		SearchLimit:    cfg.Search.Limit,
		ScoreThreshold: cfg.Search.ScoreThreshold,
		Logger:         logger.With("component", "mcp"),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer

	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	mcpServer.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// cookieSecure reports whether session cookies should carry the Secure flag,
// based on the externally reachable base URL.
func (g *Gateway) cookieSecure() bool {
	return strings.HasPrefix(g.config.Server.BaseURL, "https://")
}

// setupTCPListeners creates TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
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
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupTCPListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
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

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.mcpServer != nil {
		g.mcpServer.Close()
	}
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
