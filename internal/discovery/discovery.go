// ABOUTME: OIDC-style discovery metadata, JWKS, and token introspection
// ABOUTME: Lets external verifiers validate gateway-issued session tokens

// Package discovery exposes the gateway as a token issuer that external
// services can verify against: a discovery document with endpoint
// locations, the JWKS holding the session verification key, and an
// introspection answer for opaque callers.
package discovery

import (
	"log/slog"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/openrag/orag-gateway/internal/auth"
)

// Document is the issuer metadata served at the well-known endpoints.
type Document struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// Introspection is the answer for a presented token. Active is false for
// any token that fails verification, with no further detail.
type Introspection struct {
	Active            bool     `json:"active"`
	Subject           string   `json:"sub,omitempty"`
	Issuer            string   `json:"iss,omitempty"`
	Audience          []string `json:"aud,omitempty"`
	ExpiresAt         int64    `json:"exp,omitempty"`
	IssuedAt          int64    `json:"iat,omitempty"`
	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
}

// Exposer builds discovery responses from the session manager's key
// material and the gateway's public base URL.
type Exposer struct {
	sessions *auth.SessionManager
	issuer   string
	baseURL  string
	logger   *slog.Logger
}

// NewExposer creates an exposer. baseURL is the externally reachable
// gateway URL that endpoint locations are derived from.
func NewExposer(sessions *auth.SessionManager, issuer, baseURL string, logger *slog.Logger) *Exposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exposer{
		sessions: sessions,
		issuer:   issuer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// Document returns the issuer metadata.
func (e *Exposer) Document() *Document {
	alg := "HS256"
	if e.sessions.PublicKey() != nil {
		alg = "RS256"
	}
	return &Document{
		Issuer:                           e.issuer,
		AuthorizationEndpoint:            e.baseURL + "/auth/init",
		TokenEndpoint:                    e.baseURL + "/auth/callback",
		JWKSURI:                          e.baseURL + "/auth/jwks",
		UserinfoEndpoint:                 e.baseURL + "/auth/me",
		IntrospectionEndpoint:            e.baseURL + "/auth/introspect",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{alg},
		ScopesSupported:                  []string{"openid", "email", "profile"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat",
			"email", "name", "preferred_username",
		},
	}
}

// JWKS returns the verification key set. In RSA mode it holds exactly one
// key under the fixed session key ID; in HMAC mode the set is empty since
// the shared secret is never published.
func (e *Exposer) JWKS() *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	if pub := e.sessions.PublicKey(); pub != nil {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     auth.KeyID,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return set
}

// Introspect reports whether a token is a live gateway session. It never
// returns an error: anything that does not verify is simply inactive.
func (e *Exposer) Introspect(token string) *Introspection {
	claims, err := e.sessions.Verify(token)
	if err != nil {
		return &Introspection{Active: false}
	}

	resp := &Introspection{
		Active:            true,
		Subject:           claims.Subject,
		Issuer:            claims.Issuer,
		Audience:          []string(claims.Audience),
		Email:             claims.Email,
		Name:              claims.Name,
		PreferredUsername: claims.PreferredUsername,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Unix()
	}
	return resp
}
