// Package auth provides authentication and security-context propagation for
// orag-gateway.
//
// # Trust Mechanisms
//
// The package reconciles four distinct trust mechanisms:
//
//   - Session tokens: browser users authenticate with signed JWTs delivered
//     in an HttpOnly cookie. Tokens are signed RS256 against process-wide
//     key material, or HS256 when a symmetric secret is configured.
//
//   - API keys: machine clients authenticate with orag_-prefixed keys on the
//     X-API-Key or Authorization header. Validation is delegated to an
//     ApiKeyValidator collaborator; the gates here only recognize the wire
//     format and fail closed on any validator error.
//
//   - OAuth credentials: login and data-source linking exchange provider
//     credentials at the flow boundary (see the oauthflow package) and end
//     up as session tokens issued by SessionManager.
//
//   - No-auth mode: a deployment switch that disables enforcement entirely,
//     substituting a fixed anonymous identity so downstream code never
//     branches on a missing user.
//
// # Key Material
//
// Key material is generated or loaded exactly once at process start and held
// read-only for the process lifetime under a single fixed key identifier.
// Verification therefore needs no locking.
//
// # Token Verification
//
// Verify collapses every failure mode (bad signature, expiry, malformed
// input, wrong algorithm) into the single ErrInvalidToken sentinel. This is
// a protocol guarantee, not an oversight: callers must not distinguish
// failure reasons from the return value. Detail is logged at debug level.
//
// # Security Context
//
// Identity, RBAC attributes, and retrieval-scoping parameters travel through
// nested asynchronous work on the context.Context. Snapshots are immutable:
// every override derives a new value visible only to the branch that set it
// and its descendants, so concurrent requests on a shared worker pool can
// never observe each other's identity.
//
// # Guards and Gates
//
// HTTP routes use RequireSession or OptionalSession middleware. Machine
// channels use the gRPC interceptors (or the MCP server's own gate), which
// reject traffic before any protected logic runs.
package auth
