// ABOUTME: Init/callback lifecycle for connecting to external OAuth providers
// ABOUTME: Serves both user login (app_auth) and data-source linking

package oauthflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/openrag/orag-gateway/internal/auth"
)

// CredentialSink is the connector collaborator that persists exchanged
// provider tokens. Persistence itself is outside this package.
type CredentialSink interface {
	StoreCredential(ctx context.Context, conn *Connection, token *oauth2.Token) error
}

// InitRequest describes a new connection attempt.
type InitRequest struct {
	ConnectorType  string
	Purpose        Purpose
	ConnectionName string
	RedirectURI    string
	// ConnectionID is optional; a UUID is assigned when empty.
	ConnectionID string
	// UserID is the already-authenticated user for data_source linking,
	// empty for app_auth (the identity is resolved at callback).
	UserID string
}

// InitResult is returned to the caller so it can redirect to the provider.
type InitResult struct {
	AuthorizeURL string
	ConnectionID string
}

// CallbackResult is the outcome of a successful callback exchange.
type CallbackResult struct {
	Connection *Connection
	// User and SessionToken are set for app_auth flows only. The token is
	// meant for cookie delivery: it must never be serialized into a JSON
	// response body readable by client-side code.
	User         *auth.User
	SessionToken string
}

// Flow manages the init/callback lifecycle. Nonce bookkeeping lives in the
// ConnectionStore; provider traffic lives in the registered Connectors.
type Flow struct {
	connectors map[string]Connector
	store      ConnectionStore
	sessions   *auth.SessionManager
	sink       CredentialSink
	stateTTL   time.Duration
	logger     *slog.Logger
}

// New creates a flow. sessions may be nil when no app_auth connector is
// registered; sink may be nil when exchanged tokens are discarded.
func New(store ConnectionStore, sessions *auth.SessionManager, sink CredentialSink, stateTTL time.Duration, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		connectors: make(map[string]Connector),
		store:      store,
		sessions:   sessions,
		sink:       sink,
		stateTTL:   stateTTL,
		logger:     logger,
	}
}

// Register adds a connector variant. Not safe to call after serving begins.
func (f *Flow) Register(c Connector) {
	f.connectors[c.Type()] = c
}

// ConnectorTypes lists the registered connector types.
func (f *Flow) ConnectorTypes() []string {
	types := make([]string, 0, len(f.connectors))
	for t := range f.connectors {
		types = append(types, t)
	}
	return types
}

// Init records a new connection with a fresh single-use state nonce and
// builds the provider authorization URL embedding it.
func (f *Flow) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	connector, ok := f.connectors[req.ConnectorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, req.ConnectorType)
	}
	if !req.Purpose.Valid() {
		return nil, fmt.Errorf("invalid purpose %q", req.Purpose)
	}
	if req.RedirectURI == "" {
		return nil, fmt.Errorf("redirect_uri is required")
	}

	state, err := newStateNonce()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conn := &Connection{
		ID:            req.ConnectionID,
		ConnectorType: req.ConnectorType,
		Purpose:       req.Purpose,
		Name:          req.ConnectionName,
		State:         state,
		RedirectURI:   req.RedirectURI,
		OwnerUserID:   req.UserID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(f.stateTTL),
	}
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}

	if err := f.store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("recording connection: %w", err)
	}

	f.logger.Info("oauth connection initiated",
		"connection_id", conn.ID,
		"connector_type", conn.ConnectorType,
		"purpose", string(conn.Purpose),
	)

	return &InitResult{
		AuthorizeURL: connector.AuthCodeURL(state, req.RedirectURI),
		ConnectionID: conn.ID,
	}, nil
}

// Callback consumes the recorded nonce and exchanges the authorization code.
// A mismatched, expired, or replayed state rejects before the provider is
// ever contacted. For app_auth, a fresh session token is minted for the
// resolved identity.
func (f *Flow) Callback(ctx context.Context, connectionID, code, state string) (*CallbackResult, error) {
	conn, err := f.store.ConsumeConnection(ctx, connectionID, state, time.Now())
	if err != nil {
		f.logger.Warn("oauth callback rejected",
			"connection_id", connectionID,
			"reason", "state_invalid",
		)
		return nil, err
	}

	connector, ok := f.connectors[conn.ConnectorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, conn.ConnectorType)
	}

	token, err := connector.Exchange(ctx, code, conn.RedirectURI)
	if err != nil {
		f.logger.Warn("oauth code exchange failed",
			"connection_id", conn.ID,
			"connector_type", conn.ConnectorType,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	result := &CallbackResult{Connection: conn}

	if conn.Purpose == PurposeAppAuth {
		identity, err := connector.ResolveIdentity(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
		}
		user := &auth.User{
			ID:    identity.Subject,
			Email: identity.Email,
			Name:  identity.Name,
		}
		sessionToken, err := f.sessions.Issue(user)
		if err != nil {
			return nil, fmt.Errorf("issuing session token: %w", err)
		}
		conn.OwnerUserID = user.ID
		result.User = user
		result.SessionToken = sessionToken
	}

	if f.sink != nil {
		if err := f.sink.StoreCredential(ctx, conn, token); err != nil {
			return nil, fmt.Errorf("storing credential: %w", err)
		}
	}

	f.logger.Info("oauth connection completed",
		"connection_id", conn.ID,
		"connector_type", conn.ConnectorType,
		"purpose", string(conn.Purpose),
	)

	return result, nil
}
