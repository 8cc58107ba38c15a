// Package mcp implements the Model Context Protocol server for machine access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server (Streamable HTTP transport)
// that exposes gateway tools to machine clients such as ingestion agents.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 over HTTP POST on a single endpoint:
//
//   - POST /mcp - initialize, tools/list, tools/call, notifications
//   - DELETE /mcp - session termination (owner-verified)
//
// Sessions are created by the initialize handshake and identified by the
// Mcp-Session-Id header on subsequent requests.
//
// # Authentication
//
// Every request except notifications is gated on a machine API key carrying
// the orag_ prefix, presented either as:
//
//	X-API-Key: orag_<key>
//	Authorization: Bearer orag_<key>
//
// The key resolves to a user identity via the configured validator. A
// validator failure rejects the request; the gate fails closed. When auth is
// disabled the gate is bypassed entirely and every caller runs as the
// anonymous user.
//
// # Security context
//
// Before a tool handler runs, the request context is seeded with the
// resolved identity and the configured search bounds, so handlers read
// their caller's permissions from the context alone.
package mcp
