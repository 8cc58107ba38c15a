// ABOUTME: Unit tests for session token issuance and verification
// ABOUTME: Covers roundtrips, tampering, expiry, and failure collapsing

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newRSAManager(t *testing.T) *SessionManager {
	t.Helper()
	keys, err := NewRSAKeyMaterial("")
	if err != nil {
		t.Fatalf("NewRSAKeyMaterial() error = %v", err)
	}
	return NewSessionManager(keys, "https://rag.example.com", "orag", 7*24*time.Hour, nil)
}

func newHMACManager(t *testing.T) *SessionManager {
	t.Helper()
	keys, err := NewHMACKeyMaterial([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("NewHMACKeyMaterial() error = %v", err)
	}
	return NewSessionManager(keys, "https://rag.example.com", "orag", 7*24*time.Hour, nil)
}

func TestSessionManager_IssueVerifyRoundtrip(t *testing.T) {
	for _, mode := range []string{"rsa", "hmac"} {
		t.Run(mode, func(t *testing.T) {
			var m *SessionManager
			if mode == "rsa" {
				m = newRSAManager(t)
			} else {
				m = newHMACManager(t)
			}

			user := &User{ID: "user-123", Email: "ada@example.com", Name: "Ada"}
			token, err := m.Issue(user)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}

			claims, err := m.Verify(token)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if claims.Subject != user.ID {
				t.Errorf("sub = %q, want %q", claims.Subject, user.ID)
			}
			if claims.Email != user.Email {
				t.Errorf("email = %q, want %q", claims.Email, user.Email)
			}
			if claims.Name != user.Name {
				t.Errorf("name = %q, want %q", claims.Name, user.Name)
			}
			if claims.PreferredUsername != user.Email {
				t.Errorf("preferred_username = %q, want %q", claims.PreferredUsername, user.Email)
			}
			if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
				t.Error("exp should be after iat")
			}
		})
	}
}

func TestSessionManager_UserFromToken(t *testing.T) {
	m := newRSAManager(t)

	token, err := m.Issue(&User{ID: "user-456", Email: "bea@example.com", Name: "Bea"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	user, err := m.UserFromToken(token)
	if err != nil {
		t.Fatalf("UserFromToken() error = %v", err)
	}
	if user.ID != "user-456" || user.Email != "bea@example.com" || user.Name != "Bea" {
		t.Errorf("UserFromToken() = %+v", user)
	}
}

func TestSessionManager_Verify_Invalid(t *testing.T) {
	m := newRSAManager(t)
	other := newRSAManager(t) // different key pair

	validToken, err := m.Issue(&User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	expired, err := m.IssueWithLifetime(&User{ID: "user-123"}, -time.Hour)
	if err != nil {
		t.Fatalf("IssueWithLifetime() error = %v", err)
	}

	wrongIssuer := NewSessionManager(mustRSAKeys(t, m), "https://other.example.com", "orag", time.Hour, nil)
	wrongIssuerToken, err := wrongIssuer.Issue(&User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	wrongAudience := NewSessionManager(mustRSAKeys(t, m), "https://rag.example.com", "not-orag", time.Hour, nil)
	wrongAudienceToken, err := wrongAudience.Issue(&User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	hmacToken, err := newHMACManager(t).Issue(&User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	emptySubToken, err := m.Issue(&User{ID: ""})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "altered signature", token: validToken[:len(validToken)-4] + "AAAA"},
		{name: "wrong key", token: mustIssue(t, other)},
		{name: "expired", token: expired},
		{name: "wrong issuer", token: wrongIssuerToken},
		{name: "wrong audience", token: wrongAudienceToken},
		{name: "wrong algorithm", token: hmacToken},
		{name: "empty subject", token: emptySubToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Verify(tt.token)
			if claims != nil {
				t.Error("Verify() returned claims for invalid token")
			}
			// Every failure mode must collapse to the single sentinel.
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// mustIssue returns a token from the given manager, failing the test on error.
func mustIssue(t *testing.T, m *SessionManager) string {
	t.Helper()
	token, err := m.Issue(&User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

// mustRSAKeys extracts the key material from an existing manager so derived
// managers sign with the same key pair.
func mustRSAKeys(t *testing.T, m *SessionManager) *KeyMaterial {
	t.Helper()
	return m.keys
}

func TestSessionManager_Verify_MissingExpiry(t *testing.T) {
	m := newHMACManager(t)

	// Hand-craft a token without exp.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"iss": "https://rag.example.com",
		"aud": "orag",
		"iat": time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := m.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionManager_PublicKeyPEM(t *testing.T) {
	rsaManager := newRSAManager(t)
	pemStr, ok := rsaManager.PublicKeyPEM()
	if !ok {
		t.Fatal("PublicKeyPEM() should be available in rsa mode")
	}
	if !strings.Contains(pemStr, "BEGIN PUBLIC KEY") {
		t.Errorf("PublicKeyPEM() = %q, want PEM block", pemStr)
	}
	if rsaManager.PublicKey() == nil {
		t.Error("PublicKey() should be non-nil in rsa mode")
	}

	hmacManager := newHMACManager(t)
	if _, ok := hmacManager.PublicKeyPEM(); ok {
		t.Error("PublicKeyPEM() should be unavailable in hmac mode")
	}
	if hmacManager.PublicKey() != nil {
		t.Error("PublicKey() should be nil in hmac mode")
	}
}

func TestSessionManager_KidHeader(t *testing.T) {
	m := newRSAManager(t)
	token := mustIssue(t, m)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if kid, _ := parsed.Header["kid"].(string); kid != KeyID {
		t.Errorf("kid = %q, want %q", kid, KeyID)
	}
}
