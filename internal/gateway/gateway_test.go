// ABOUTME: Tests for gateway construction and the server lifecycle
// ABOUTME: Covers signing-mode selection, env overrides, and graceful shutdown

package gateway

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrag/orag-gateway/internal/config"
)

func TestNew_RSAModeGeneratesKeys(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.Mode = config.AuthModeRSA
		cfg.Auth.JWTSecret = ""
	})

	require.NotNil(t, gw.sessions.PublicKey(), "rsa mode must expose a verification key")
	assert.Len(t, gw.exposer.JWKS().Keys, 1)
}

func TestNew_HMACModeHasNoPublicKey(t *testing.T) {
	gw := newTestGateway(t, nil)

	assert.Nil(t, gw.sessions.PublicKey())
	assert.Empty(t, gw.exposer.JWKS().Keys)
}

func TestCookieSecure(t *testing.T) {
	gw := newTestGateway(t, nil)
	assert.True(t, gw.cookieSecure())

	gw = newTestGateway(t, func(cfg *config.Config) {
		cfg.Server.BaseURL = "http://localhost:8080"
		cfg.Auth.Issuer = "http://localhost:8080"
	})
	assert.False(t, gw.cookieSecure())
}

func TestInitStore_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "override.db")
	t.Setenv("ORAG_DB_PATH", override)

	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(dir, "ignored.db")

	s, err := initStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, override)
	assert.NoFileExists(t, cfg.Database.Path)
}

func TestRun_GracefulShutdownOnCancel(t *testing.T) {
	gw := newTestGateway(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the listeners a moment to come up before canceling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestShutdown_WithoutRun(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Server.BaseURL = testBaseURL
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Auth.Mode = config.AuthModeHMAC
	cfg.Auth.JWTSecret = "gateway-test-secret"
	cfg.Auth.Issuer = testBaseURL
	cfg.Auth.SessionLifetime = time.Hour
	cfg.OAuth.StateTTL = time.Minute
	cfg.Search.Limit = 10

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
}
