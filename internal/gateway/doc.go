// Package gateway orchestrates the orag-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the orag-gateway
// server. It wires together:
//
//   - the HTTP server carrying the auth API, discovery endpoints, and the
//     MCP endpoint for machine clients
//   - the gRPC server gated by API key interceptors, with the standard
//     health service registered
//   - the SQLite store, session manager, OAuth connection flow, and
//     discovery exposer
//
// # HTTP surface
//
//	POST /auth/init                              start an OAuth connection
//	GET  /auth/callback                          complete it (sets cookie for app_auth)
//	GET  /auth/me                                authenticated identity
//	POST /auth/logout                            clear the session cookie
//	GET  /auth/connections                       caller's completed connections
//	GET  /auth/jwks                              session verification keys
//	POST /auth/introspect                        token liveness for external services
//	GET  /.well-known/openid-configuration       issuer metadata
//	GET  /.well-known/oauth-authorization-server issuer metadata (OAuth alias)
//	GET  /health                                 liveness probe
//	POST /mcp                                    MCP endpoint (API key gated)
//
// Session tokens are delivered exclusively through the auth_token cookie.
// No handler writes a token into a JSON response body.
//
// # Lifecycle
//
// Run starts both servers and blocks until the context is canceled or a
// server fails, then performs a bounded graceful shutdown of the HTTP
// server, the gRPC server, and the store.
package gateway
