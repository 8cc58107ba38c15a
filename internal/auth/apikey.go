// ABOUTME: Machine API key extraction and the validator collaborator interface
// ABOUTME: Keys are recognized by the fixed orag_ prefix on either header

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// APIKeyPrefix is the fixed wire prefix every machine key carries. A header
// value without it is not treated as a candidate key at all.
const APIKeyPrefix = "orag_"

// APIKeyHeader is the dedicated machine-key header.
const APIKeyHeader = "X-API-Key"

// API key gate errors
var (
	ErrAPIKeyRequired = errors.New("api key required")
	ErrAPIKeyInvalid  = errors.New("invalid api key")
)

// ApiKeyValidator validates machine API keys against stored records. It is
// an external collaborator: this package consumes it at transport gates but
// never implements storage itself. Any error from ValidateKey is treated as
// a failed credential, never as an authenticated one.
type ApiKeyValidator interface {
	ValidateKey(ctx context.Context, key string) (*User, error)
}

// ExtractAPIKey pulls a candidate machine key from the request headers.
// It checks the dedicated key header first, then a bearer-style authorization
// header. A value is a candidate only if it carries the recognized prefix.
func ExtractAPIKey(h http.Header) (string, bool) {
	if key := h.Get(APIKeyHeader); strings.HasPrefix(key, APIKeyPrefix) {
		return key, true
	}
	authHeader := h.Get("Authorization")
	if bearer, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		if strings.HasPrefix(bearer, APIKeyPrefix) {
			return bearer, true
		}
	}
	return "", false
}
