// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists OAuth connections, provider credentials, and API keys

package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"github.com/openrag/orag-gateway/internal/auth"
	"github.com/openrag/orag-gateway/internal/oauthflow"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS oauth_connections (
			id             TEXT PRIMARY KEY,
			connector_type TEXT NOT NULL,
			purpose        TEXT NOT NULL,
			name           TEXT NOT NULL,
			state          TEXT NOT NULL,
			redirect_uri   TEXT NOT NULL,
			owner_user_id  TEXT,
			created_at     TEXT NOT NULL,
			expires_at     TEXT NOT NULL,
			consumed_at    TEXT,

			CHECK (purpose IN ('data_source', 'app_auth'))
		);

		CREATE INDEX IF NOT EXISTS idx_connections_owner
			ON oauth_connections(owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_connections_expires
			ON oauth_connections(expires_at);

		CREATE TABLE IF NOT EXISTS oauth_credentials (
			connection_id  TEXT PRIMARY KEY REFERENCES oauth_connections(id) ON DELETE CASCADE,
			connector_type TEXT NOT NULL,
			access_token   TEXT NOT NULL,
			refresh_token  TEXT,
			token_type     TEXT,
			expiry         TEXT,
			updated_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			secret_hash  TEXT NOT NULL,
			roles_json   TEXT,
			groups_json  TEXT,
			created_at   TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConnection records a pending OAuth connection.
// Returns ErrDuplicate if the connection ID is already taken.
func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *oauthflow.Connection) error {
	query := `
		INSERT INTO oauth_connections
			(id, connector_type, purpose, name, state, redirect_uri, owner_user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conn.ID,
		conn.ConnectorType,
		string(conn.Purpose),
		conn.Name,
		conn.State,
		conn.RedirectURI,
		nullString(conn.OwnerUserID),
		conn.CreatedAt.UTC().Format(time.RFC3339),
		conn.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting connection: %w", err)
	}

	s.logger.Debug("created connection", "id", conn.ID, "connector_type", conn.ConnectorType)
	return nil
}

// ConsumeConnection atomically validates and consumes the state nonce inside
// a transaction. Unknown ID, state mismatch, expiry, and replay all collapse
// to oauthflow.ErrStateInvalid so a forged callback learns nothing.
func (s *SQLiteStore) ConsumeConnection(ctx context.Context, connectionID, state string, now time.Time) (*oauthflow.Connection, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	conn, err := scanConnection(tx.QueryRowContext(ctx, `
		SELECT id, connector_type, purpose, name, state, redirect_uri, owner_user_id,
		       created_at, expires_at, consumed_at
		FROM oauth_connections WHERE id = ?
	`, connectionID))
	if errors.Is(err, ErrNotFound) {
		return nil, oauthflow.ErrStateInvalid
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(conn.State), []byte(state)) != 1 {
		return nil, oauthflow.ErrStateInvalid
	}
	if conn.ConsumedAt != nil {
		return nil, oauthflow.ErrStateInvalid
	}
	if now.After(conn.ExpiresAt) {
		return nil, oauthflow.ErrStateInvalid
	}

	consumed := now.UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE oauth_connections SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL
	`, consumed.Format(time.RFC3339), connectionID)
	if err != nil {
		return nil, fmt.Errorf("consuming connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Lost a race with a concurrent consume.
		return nil, oauthflow.ErrStateInvalid
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing consume: %w", err)
	}

	conn.ConsumedAt = &consumed
	return conn, nil
}

// GetConnection retrieves a connection by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*oauthflow.Connection, error) {
	return scanConnection(s.db.QueryRowContext(ctx, `
		SELECT id, connector_type, purpose, name, state, redirect_uri, owner_user_id,
		       created_at, expires_at, consumed_at
		FROM oauth_connections WHERE id = ?
	`, id))
}

// ListConnectionsByOwner returns completed connections owned by a user,
// most recent first.
func (s *SQLiteStore) ListConnectionsByOwner(ctx context.Context, userID string) ([]*oauthflow.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connector_type, purpose, name, state, redirect_uri, owner_user_id,
		       created_at, expires_at, consumed_at
		FROM oauth_connections
		WHERE owner_user_id = ? AND consumed_at IS NOT NULL
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var conns []*oauthflow.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// DeleteExpiredConnections removes pending connections whose state nonce has
// expired unconsumed. Returns the number of rows deleted.
func (s *SQLiteStore) DeleteExpiredConnections(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oauth_connections WHERE expires_at <= ? AND consumed_at IS NULL
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired connections: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Debug("deleted expired connections", "count", deleted)
	}
	return deleted, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*oauthflow.Connection, error) {
	var conn oauthflow.Connection
	var purpose, createdAt, expiresAt string
	var owner, consumedAt sql.NullString

	err := row.Scan(&conn.ID, &conn.ConnectorType, &purpose, &conn.Name, &conn.State,
		&conn.RedirectURI, &owner, &createdAt, &expiresAt, &consumedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection: %w", err)
	}

	conn.Purpose = oauthflow.Purpose(purpose)
	conn.OwnerUserID = owner.String

	conn.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conn.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if consumedAt.Valid {
		t, err := time.Parse(time.RFC3339, consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing consumed_at: %w", err)
		}
		conn.ConsumedAt = &t
	}

	return &conn, nil
}

// StoreCredential persists the exchanged provider token for a connection,
// replacing any earlier credential. It also records the connection owner
// resolved at callback time.
func (s *SQLiteStore) StoreCredential(ctx context.Context, conn *oauthflow.Connection, token *oauth2.Token) error {
	var expiry any
	if !token.Expiry.IsZero() {
		expiry = token.Expiry.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO oauth_credentials
			(connection_id, connector_type, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		conn.ID,
		conn.ConnectorType,
		token.AccessToken,
		nullString(token.RefreshToken),
		nullString(token.TokenType),
		expiry,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	if conn.OwnerUserID != "" {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE oauth_connections SET owner_user_id = ? WHERE id = ?
		`, conn.OwnerUserID, conn.ID); err != nil {
			return fmt.Errorf("recording connection owner: %w", err)
		}
	}

	s.logger.Debug("stored credential", "connection_id", conn.ID, "connector_type", conn.ConnectorType)
	return nil
}

// GetCredential retrieves the stored provider credential for a connection.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetCredential(ctx context.Context, connectionID string) (*StoredCredential, error) {
	var cred StoredCredential
	var refreshToken, tokenType, expiry sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT connection_id, connector_type, access_token, refresh_token, token_type, expiry, updated_at
		FROM oauth_credentials WHERE connection_id = ?
	`, connectionID).Scan(&cred.ConnectionID, &cred.ConnectorType, &cred.AccessToken,
		&refreshToken, &tokenType, &expiry, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	cred.RefreshToken = refreshToken.String
	cred.TokenType = tokenType.String
	if expiry.Valid {
		t, err := time.Parse(time.RFC3339, expiry.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expiry: %w", err)
		}
		cred.Expiry = &t
	}
	cred.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &cred, nil
}

// CreateAPIKey persists a minted API key record.
// Returns ErrDuplicate if the key ID is already taken.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	rolesJSON, err := marshalStrings(key.Roles)
	if err != nil {
		return fmt.Errorf("encoding roles: %w", err)
	}
	groupsJSON, err := marshalStrings(key.Groups)
	if err != nil {
		return fmt.Errorf("encoding groups: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, user_id, secret_hash, roles_json, groups_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.Name, key.UserID, key.SecretHash, rolesJSON, groupsJSON,
		key.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "id", key.ID, "name", key.Name, "user_id", key.UserID)
	return nil
}

// GetAPIKey retrieves an API key record by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `
		SELECT id, name, user_id, secret_hash, roles_json, groups_json, created_at, last_used_at, revoked_at
		FROM api_keys WHERE id = ?
	`, id))
}

// ListAPIKeys returns all keys for a user, most recent first. An empty
// userID lists every key.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	query := `
		SELECT id, name, user_id, secret_hash, roles_json, groups_json, created_at, last_used_at, revoked_at
		FROM api_keys
	`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key as revoked. Revocation is permanent.
// Returns ErrNotFound if the key doesn't exist or is already revoked.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("revoked api key", "id", id)
	return nil
}

// ValidateKey checks a presented plaintext API key and resolves the machine
// identity it authenticates. Malformed, unknown, revoked, and mismatched
// keys all return auth.ErrAPIKeyInvalid; database failures are returned as
// errors so callers fail closed rather than letting the request through.
func (s *SQLiteStore) ValidateKey(ctx context.Context, key string) (*auth.User, error) {
	id, secret, err := splitAPIKey(key)
	if err != nil {
		return nil, err
	}

	record, err := s.GetAPIKey(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, auth.ErrAPIKeyInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	if record.Revoked() {
		return nil, auth.ErrAPIKeyInvalid
	}
	if bcrypt.CompareHashAndPassword([]byte(record.SecretHash), []byte(secret)) != nil {
		return nil, auth.ErrAPIKeyInvalid
	}

	// Best effort; a failed touch must not fail authentication.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id); err != nil {
		s.logger.Warn("recording api key use failed", "id", id, "error", err)
	}

	return &auth.User{
		ID:     record.UserID,
		Name:   record.Name,
		Roles:  record.Roles,
		Groups: record.Groups,
	}, nil
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var key APIKey
	var rolesJSON, groupsJSON, lastUsedAt, revokedAt sql.NullString
	var createdAt string

	err := row.Scan(&key.ID, &key.Name, &key.UserID, &key.SecretHash,
		&rolesJSON, &groupsJSON, &createdAt, &lastUsedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	key.Roles, err = unmarshalStrings(rolesJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding roles: %w", err)
	}
	key.Groups, err = unmarshalStrings(groupsJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}

	key.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		key.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t, err := time.Parse(time.RFC3339, revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		key.RevokedAt = &t
	}

	return &key, nil
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalStrings(column sql.NullString) ([]string, error) {
	if !column.Valid || column.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(column.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
