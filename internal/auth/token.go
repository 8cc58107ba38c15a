// ABOUTME: Session token issuance and verification for browser sessions
// ABOUTME: Signs RS256 (or HS256 fallback) JWTs carrying the fixed claim set

package auth

import (
	"crypto/rsa"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the single outward failure for token verification.
// Bad signature, expiry, wrong algorithm, and malformed input all collapse
// to this sentinel; callers must not be able to tell the cases apart from
// the return value. Diagnostic detail goes to the debug log only.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the claim set carried on every issued session token.
type Claims struct {
	jwt.RegisteredClaims
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// SessionManager issues and verifies session tokens against the process-wide
// key material. Safe for concurrent use: all state is read-only after New.
type SessionManager struct {
	keys     *KeyMaterial
	issuer   string
	audience string
	lifetime time.Duration
	logger   *slog.Logger
}

// NewSessionManager creates a session manager. lifetime is the default token
// validity and matches the session cookie lifetime.
func NewSessionManager(keys *KeyMaterial, issuer, audience string, lifetime time.Duration, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		lifetime: lifetime,
		logger:   logger,
	}
}

// Issue signs a session token for the given user with the default lifetime.
func (m *SessionManager) Issue(user *User) (string, error) {
	return m.IssueWithLifetime(user, m.lifetime)
}

// IssueWithLifetime signs a session token expiring after the given duration.
func (m *SessionManager) IssueWithLifetime(user *User, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		Email:             user.Email,
		Name:              user.Name,
		PreferredUsername: user.Email,
	}

	token := jwt.NewWithClaims(m.keys.SigningMethod(), claims)
	token.Header["kid"] = KeyID
	return token.SignedString(m.keys.SignKey())
}

// Verify validates signature, expiry, issuer, audience, and structural
// well-formedness. Every failure mode returns ErrInvalidToken.
func (m *SessionManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.keys.VerifyKey(), nil
	},
		jwt.WithValidMethods([]string{m.keys.SigningMethod().Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		m.logger.Debug("token verification failed", "error", err)
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		m.logger.Debug("token verification failed", "error", "empty subject")
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		m.logger.Debug("token verification failed", "error", "exp not after iat")
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// UserFromToken verifies a token and maps its claims onto a User snapshot.
func (m *SessionManager) UserFromToken(tokenString string) (*User, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

// PublicKey returns the RSA public key, or nil in symmetric mode.
func (m *SessionManager) PublicKey() *rsa.PublicKey {
	return m.keys.PublicKey()
}

// PublicKeyPEM exposes the PEM-encoded public key, or false when running in
// symmetric mode (no JWKS can be published then).
func (m *SessionManager) PublicKeyPEM() (string, bool) {
	return m.keys.PublicKeyPEM()
}

// Lifetime returns the default token lifetime.
func (m *SessionManager) Lifetime() time.Duration {
	return m.lifetime
}
