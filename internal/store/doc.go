// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// A single SQLiteStore implements the Store interface, which composes the
// persistence collaborators the rest of the gateway is written against:
//
//   - oauthflow.ConnectionStore: single-use OAuth state nonce bookkeeping
//   - oauthflow.CredentialSink: exchanged provider tokens for data sources
//   - auth.ApiKeyValidator: machine API key authentication
//
// plus management operations for API keys and connections.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: Entity ID already taken
//
// Nonce consumption failures collapse to oauthflow.ErrStateInvalid and API
// key rejections collapse to auth.ErrAPIKeyInvalid regardless of cause, so
// callers cannot distinguish why a credential was refused.
//
// All methods accept context.Context for cancellation support.
package store
