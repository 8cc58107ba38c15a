// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML/TOML loading, env var expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  base_url: "https://rag.example.com/"

database:
  path: "./test.db"

auth:
  mode: "hmac"
  jwt_secret: "super-secret"
  session_lifetime: "24h"

oauth:
  state_ttl: "5m"

providers:
  google:
    client_id: "cid"
    client_secret: "csecret"
    issuer_url: "https://accounts.google.com"
    scopes: ["openid", "email", "profile"]

search:
  limit: 25
  score_threshold: 0.4

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.BaseURL != "https://rag.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.Server.BaseURL)
	}
	if cfg.Auth.SessionLifetime != 24*time.Hour {
		t.Errorf("SessionLifetime = %v, want 24h", cfg.Auth.SessionLifetime)
	}
	if cfg.OAuth.StateTTL != 5*time.Minute {
		t.Errorf("StateTTL = %v, want 5m", cfg.OAuth.StateTTL)
	}
	if cfg.Auth.Issuer != "https://rag.example.com" {
		t.Errorf("Issuer = %q, want base URL default", cfg.Auth.Issuer)
	}
	if cfg.Auth.Audience != "orag" {
		t.Errorf("Audience = %q, want orag default", cfg.Auth.Audience)
	}
	if cfg.Search.Limit != 25 {
		t.Errorf("Search.Limit = %d, want 25", cfg.Search.Limit)
	}

	p, ok := cfg.Provider["google"]
	if !ok {
		t.Fatal("providers.google missing")
	}
	if p.IssuerURL != "https://accounts.google.com" {
		t.Errorf("IssuerURL = %q", p.IssuerURL)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = ":memory:"

[auth]
mode = "rsa"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:9090" {
		t.Errorf("BaseURL = %q, want derived from http_addr", cfg.Server.BaseURL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("ORAG_TEST_SECRET", "from-env")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  mode: "hmac"
  jwt_secret: "${ORAG_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Mode != "rsa" {
		t.Errorf("Mode = %q, want rsa default", cfg.Auth.Mode)
	}
	if cfg.Auth.SessionLifetime != DefaultSessionLifetime {
		t.Errorf("SessionLifetime = %v, want %v", cfg.Auth.SessionLifetime, DefaultSessionLifetime)
	}
	if cfg.OAuth.StateTTL != DefaultStateTTL {
		t.Errorf("StateTTL = %v, want %v", cfg.OAuth.StateTTL, DefaultStateTTL)
	}
	if cfg.Search.Limit != 10 {
		t.Errorf("Search.Limit = %d, want 10", cfg.Search.Limit)
	}
	if cfg.Search.ScoreThreshold != 0 {
		t.Errorf("ScoreThreshold = %v, want 0", cfg.Search.ScoreThreshold)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./test.db"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "0.0.0.0:8080"
`,
			wantErr: "database.path",
		},
		{
			name: "hmac without secret",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  mode: "hmac"
`,
			wantErr: "auth.jwt_secret",
		},
		{
			name: "unknown mode",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  mode: "ed25519"
`,
			wantErr: "auth.mode",
		},
		{
			name: "provider missing client_id",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
providers:
  acme:
    client_secret: "s"
    issuer_url: "https://idp.acme.test"
`,
			wantErr: "providers.acme.client_id",
		},
		{
			name: "provider missing endpoints",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
providers:
  acme:
    client_id: "c"
    client_secret: "s"
`,
			wantErr: "providers.acme requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should have returned an error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  session_lifetime: "soon"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "session_lifetime") {
		t.Errorf("Load() error = %v, want session_lifetime parse failure", err)
	}
}
