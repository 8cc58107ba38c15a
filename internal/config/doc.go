// Package config handles configuration loading for orag-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ORAG_CONFIG environment variable
//  2. ~/.config/orag/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ORAG_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Auth API and discovery endpoints
//	  grpc_addr: "0.0.0.0:50051"  # Optional machine channel
//	  base_url: "https://rag.example.com"
//
// Database:
//
//	database:
//	  path: "/var/lib/orag/gateway.db"
//
// Authentication:
//
//	auth:
//	  disabled: false             # no-auth mode when true
//	  mode: "rsa"                 # rsa (RS256) or hmac (HS256)
//	  rsa_key_path: ""            # generated at startup when empty
//	  jwt_secret: "${ORAG_JWT_SECRET}"
//	  session_lifetime: "168h"
//
// OAuth providers:
//
//	providers:
//	  google:
//	    client_id: "${GOOGLE_CLIENT_ID}"
//	    client_secret: "${GOOGLE_CLIENT_SECRET}"
//	    issuer_url: "https://accounts.google.com"
//	    scopes: ["openid", "email", "profile"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() fails fast at startup when required settings are absent: the HTTP
// address, the database path, the HMAC secret in hmac mode, and provider
// client credentials.
package config
