// ABOUTME: OAuth connection records and the single-use state nonce contract
// ABOUTME: Connections are created at init and consumed exactly once at callback

package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Purpose distinguishes user login from data-source linking.
type Purpose string

const (
	// PurposeDataSource links an external provider as a retrieval source.
	PurposeDataSource Purpose = "data_source"
	// PurposeAppAuth logs a user into the application itself.
	PurposeAppAuth Purpose = "app_auth"
)

// Valid reports whether the purpose is one of the known variants.
func (p Purpose) Valid() bool {
	return p == PurposeDataSource || p == PurposeAppAuth
}

// Flow errors
var (
	// ErrStateInvalid covers mismatched, expired, and replayed state nonces.
	// The three cases deliberately collapse: a forged callback learns nothing.
	ErrStateInvalid = errors.New("oauth state invalid")
	// ErrExchangeFailed is a provider-side failure during code exchange.
	ErrExchangeFailed = errors.New("oauth exchange failed")
	// ErrUnknownConnector means no connector is registered for the type.
	ErrUnknownConnector = errors.New("unknown connector type")
	// ErrIdentityUnsupported means the connector cannot resolve a user
	// identity and therefore cannot serve app_auth flows.
	ErrIdentityUnsupported = errors.New("connector does not support identity resolution")
)

// Connection is one init/callback exchange in progress. The state nonce is
// single-use and time-bounded; a connection is consumed exactly once.
type Connection struct {
	ID            string
	ConnectorType string
	Purpose       Purpose
	Name          string
	State         string
	RedirectURI   string
	// OwnerUserID is empty until an app_auth flow completes (or is set at
	// init when an authenticated user links a data source).
	OwnerUserID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// ConnectionStore records pending connections and enforces strict single-use
// consumption. ConsumeConnection must atomically verify the state nonce,
// expiry, and consumption status, returning ErrStateInvalid for any of
// mismatch, expiry, replay, or an unknown connection ID.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *Connection) error
	ConsumeConnection(ctx context.Context, connectionID, state string, now time.Time) (*Connection, error)
}

// newStateNonce returns a cryptographically unguessable single-use nonce.
func newStateNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
