// ABOUTME: Connector variants that talk to external OAuth providers
// ABOUTME: OIDC discovery-based and static-endpoint implementations

package oauthflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/openrag/orag-gateway/internal/config"
)

// Identity is the provider-resolved identity of a logging-in user.
type Identity struct {
	Subject           string
	Email             string
	Name              string
	PreferredUsername string
}

// Connector performs the provider-specific parts of an OAuth exchange.
// Implementations own their network calls; the flow treats any error they
// surface as a failed credential, never as an authenticated one.
type Connector interface {
	// Type is the connector_type callers name at init.
	Type() string
	// AuthCodeURL builds the provider authorization URL embedding the state nonce.
	AuthCodeURL(state, redirectURI string) string
	// Exchange trades an authorization code for provider tokens.
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	// ResolveIdentity maps exchanged tokens to a user identity for app_auth.
	ResolveIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

// NewConnector builds a connector from provider configuration: OIDC
// discovery when issuer_url is set, static endpoints otherwise.
func NewConnector(ctx context.Context, name string, cfg config.ProviderConfig) (Connector, error) {
	if cfg.IssuerURL != "" {
		return newOIDCConnector(ctx, name, cfg)
	}
	return newStaticConnector(name, cfg), nil
}

// staticConnector drives a provider with fixed authorize/token endpoints.
// It cannot resolve identities, so it serves data_source flows only.
type staticConnector struct {
	name string
	conf oauth2.Config
}

func newStaticConnector(name string, cfg config.ProviderConfig) *staticConnector {
	return &staticConnector{
		name: name,
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
	}
}

func (c *staticConnector) Type() string { return c.name }

func (c *staticConnector) AuthCodeURL(state, redirectURI string) string {
	conf := c.conf
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state)
}

func (c *staticConnector) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	conf := c.conf
	conf.RedirectURL = redirectURI
	return conf.Exchange(ctx, code)
}

func (c *staticConnector) ResolveIdentity(context.Context, *oauth2.Token) (*Identity, error) {
	return nil, ErrIdentityUnsupported
}

// oidcConnector drives an OIDC provider discovered from its issuer URL and
// verifies the ID token returned by the exchange.
type oidcConnector struct {
	name     string
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	conf     oauth2.Config
}

func newOIDCConnector(ctx context.Context, name string, cfg config.ProviderConfig) (*oidcConnector, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering provider %s: %w", name, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &oidcConnector{
		name:     name,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

func (c *oidcConnector) Type() string { return c.name }

func (c *oidcConnector) AuthCodeURL(state, redirectURI string) string {
	conf := c.conf
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state)
}

func (c *oidcConnector) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	conf := c.conf
	conf.RedirectURL = redirectURI
	return conf.Exchange(ctx, code)
}

func (c *oidcConnector) ResolveIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id_token: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing id_token claims: %w", err)
	}

	return &Identity{
		Subject:           idToken.Subject,
		Email:             claims.Email,
		Name:              claims.Name,
		PreferredUsername: claims.PreferredUsername,
	}, nil
}
