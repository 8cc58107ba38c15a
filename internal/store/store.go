// ABOUTME: Store interface and data types for orag-gateway persistence
// ABOUTME: Defines APIKey, StoredCredential and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/openrag/orag-gateway/internal/auth"
	"github.com/openrag/orag-gateway/internal/oauthflow"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose ID already exists
var ErrDuplicate = errors.New("already exists")

// APIKey is the stored record of a machine credential. The secret half of
// the key is never persisted; only its bcrypt hash is.
type APIKey struct {
	ID         string
	Name       string
	UserID     string
	SecretHash string
	Roles      []string
	Groups     []string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// StoredCredential is an exchanged provider token kept for a data-source
// connection so the ingestion side can call the provider later.
type StoredCredential struct {
	ConnectionID  string
	ConnectorType string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        *time.Time
	UpdatedAt     time.Time
}

// Store defines the persistence surface of the gateway. It covers the
// OAuth connection lifecycle, exchanged provider credentials, and machine
// API keys.
type Store interface {
	oauthflow.ConnectionStore
	oauthflow.CredentialSink
	auth.ApiKeyValidator

	// Connections
	GetConnection(ctx context.Context, id string) (*oauthflow.Connection, error)
	ListConnectionsByOwner(ctx context.Context, userID string) ([]*oauthflow.Connection, error)
	DeleteExpiredConnections(ctx context.Context, now time.Time) (int64, error)

	// Credentials
	GetCredential(ctx context.Context, connectionID string) (*StoredCredential, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
