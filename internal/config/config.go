// ABOUTME: Configuration loading and parsing for orag-gateway
// ABOUTME: Supports YAML and TOML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultSessionLifetime matches the session cookie lifetime (7 days).
const DefaultSessionLifetime = 7 * 24 * time.Hour

// DefaultStateTTL bounds how long an OAuth state nonce stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// Config represents the complete orag-gateway configuration
type Config struct {
	Server   ServerConfig              `yaml:"server" toml:"server"`
	Database DatabaseConfig            `yaml:"database" toml:"database"`
	Auth     AuthConfig                `yaml:"auth" toml:"auth"`
	OAuth    OAuthConfig               `yaml:"oauth" toml:"oauth"`
	Logging  LoggingConfig             `yaml:"logging" toml:"logging"`
	Search   SearchConfig              `yaml:"search" toml:"search"`
	Provider map[string]ProviderConfig `yaml:"providers" toml:"providers"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional machine channel
	// BaseURL is the externally reachable URL, used for discovery metadata
	// and OAuth redirect construction. Defaults to http://<http_addr>.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Signing modes accepted by auth.mode.
const (
	AuthModeRSA  = "rsa"
	AuthModeHMAC = "hmac"
)

// AuthConfig holds session token and key material configuration
type AuthConfig struct {
	// Disabled turns on no-auth mode: every request is served under a fixed
	// anonymous identity and no credential is ever inspected.
	Disabled bool `yaml:"disabled" toml:"disabled"`

	// Mode selects the signing algorithm: "rsa" (RS256, default) or "hmac" (HS256).
	Mode string `yaml:"mode" toml:"mode"`

	// RSAKeyPath points at a PEM-encoded RSA private key. When empty in rsa
	// mode, a fresh key pair is generated at startup.
	RSAKeyPath string `yaml:"rsa_key_path" toml:"rsa_key_path"`

	// JWTSecret is the HS256 signing secret, required in hmac mode.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	// Issuer and Audience are stamped into every issued token. Issuer
	// defaults to the server base URL, audience to "orag".
	Issuer   string `yaml:"issuer" toml:"issuer"`
	Audience string `yaml:"audience" toml:"audience"`

	SessionLifetime time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	SessionLifetimeRaw string `yaml:"session_lifetime" toml:"session_lifetime"`
}

// OAuthConfig holds connection-flow configuration shared across providers
type OAuthConfig struct {
	StateTTL time.Duration `yaml:"-" toml:"-"`

	StateTTLRaw string `yaml:"state_ttl" toml:"state_ttl"`
}

// ProviderConfig holds one external OAuth provider's settings
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	AuthURL      string   `yaml:"auth_url" toml:"auth_url"`
	TokenURL     string   `yaml:"token_url" toml:"token_url"`
	// IssuerURL enables OIDC discovery; when set, AuthURL/TokenURL are
	// resolved from the issuer's metadata and ID tokens are verified.
	IssuerURL string   `yaml:"issuer_url" toml:"issuer_url"`
	Scopes    []string `yaml:"scopes" toml:"scopes"`
}

// SearchConfig holds retrieval-scoping defaults seeded into the security context
type SearchConfig struct {
	Limit          int     `yaml:"limit" toml:"limit"`
	ScoreThreshold float64 `yaml:"score_threshold" toml:"score_threshold"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// YAML is assumed unless the file has a .toml extension. Environment variables
// in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in derived and defaulted fields after parsing.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" && c.Server.HTTPAddr != "" {
		c.Server.BaseURL = "http://" + c.Server.HTTPAddr
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")

	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeRSA
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.Server.BaseURL
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "orag"
	}
	if c.Auth.SessionLifetime == 0 {
		c.Auth.SessionLifetime = DefaultSessionLifetime
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = DefaultStateTTL
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = 10
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Auth.Mode {
	case AuthModeRSA:
		// Key material is generated when rsa_key_path is absent.
	case AuthModeHMAC:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required in hmac mode")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeRSA, AuthModeHMAC, c.Auth.Mode)
	}

	for name, p := range c.Provider {
		if p.ClientID == "" {
			return fmt.Errorf("providers.%s.client_id is required", name)
		}
		if p.ClientSecret == "" {
			return fmt.Errorf("providers.%s.client_secret is required", name)
		}
		if p.IssuerURL == "" && (p.AuthURL == "" || p.TokenURL == "") {
			return fmt.Errorf("providers.%s requires issuer_url or auth_url+token_url", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionLifetimeRaw != "" {
		cfg.Auth.SessionLifetime, err = time.ParseDuration(cfg.Auth.SessionLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing session_lifetime %q: %w", cfg.Auth.SessionLifetimeRaw, err)
		}
	}

	if cfg.OAuth.StateTTLRaw != "" {
		cfg.OAuth.StateTTL, err = time.ParseDuration(cfg.OAuth.StateTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing state_ttl %q: %w", cfg.OAuth.StateTTLRaw, err)
		}
	}

	return nil
}
