// ABOUTME: API key minting and parsing helpers
// ABOUTME: Keys carry the orag_ prefix, a fixed-width ID, and a random secret

package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/openrag/orag-gateway/internal/auth"
)

// apiKeyIDLength is the fixed width of the key ID segment following the
// prefix, letting the plaintext be split without a separator character.
const apiKeyIDLength = 32

// GenerateAPIKey mints a new machine credential. The returned plaintext is
// shown to the caller exactly once; only the bcrypt hash of its secret half
// is kept in the APIKey record.
func GenerateAPIKey(name, userID string, roles, groups []string) (string, *APIKey, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generating key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key secret: %w", err)
	}

	key := &APIKey{
		ID:         id,
		Name:       name,
		UserID:     userID,
		SecretHash: string(hash),
		Roles:      roles,
		Groups:     groups,
		CreatedAt:  time.Now().UTC(),
	}
	return auth.APIKeyPrefix + id + secret, key, nil
}

// splitAPIKey separates a presented plaintext key into its ID and secret
// segments. Malformed keys fail without touching the database.
func splitAPIKey(key string) (id, secret string, err error) {
	if !strings.HasPrefix(key, auth.APIKeyPrefix) {
		return "", "", auth.ErrAPIKeyInvalid
	}
	rest := key[len(auth.APIKeyPrefix):]
	if len(rest) <= apiKeyIDLength {
		return "", "", auth.ErrAPIKeyInvalid
	}
	return rest[:apiKeyIDLength], rest[apiKeyIDLength:], nil
}
