// ABOUTME: MCP-compatible HTTP server for machine clients like agents.
// ABOUTME: Implements Streamable HTTP transport with API key gating.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openrag/orag-gateway/internal/auth"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolFunc executes a tool call. The context carries the caller's security
// context: identity resolved from the API key plus the configured search
// bounds.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a callable exposed over the MCP endpoint.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     ToolFunc
}

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	user            *auth.User
	ownerKey        string // API key used at initialize; binds the session to its creator
	createdAt       time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*mcpSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*mcpSession)}
}

func (s *sessionStore) create(protocolVersion string, user *auth.User, ownerKey string) *mcpSession {
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		user:            user,
		ownerKey:        ownerKey,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) clear() {
	s.mu.Lock()
	s.sessions = make(map[string]*mcpSession)
	s.mu.Unlock()
}

// Config holds configuration for the MCP server.
type Config struct {
	Validator      auth.ApiKeyValidator
	AuthDisabled   bool // If true, requests run as the anonymous user
	SearchLimit    int
	ScoreThreshold float64
	Logger         *slog.Logger
}

// Server implements MCP-compatible HTTP endpoints for machine clients.
// Every request is gated on a valid orag_ API key unless auth is disabled.
type Server struct {
	validator      auth.ApiKeyValidator
	authDisabled   bool
	searchLimit    int
	scoreThreshold float64
	logger         *slog.Logger
	sessions       *sessionStore

	toolsMu sync.RWMutex
	tools   map[string]Tool
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if !cfg.AuthDisabled && cfg.Validator == nil {
		return nil, errors.New("api key validator required when auth is enabled")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		validator:      cfg.Validator,
		authDisabled:   cfg.AuthDisabled,
		searchLimit:    cfg.SearchLimit,
		scoreThreshold: cfg.ScoreThreshold,
		logger:         logger,
		sessions:       newSessionStore(),
		tools:          make(map[string]Tool),
	}

	if err := s.RegisterTool(whoamiTool()); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterTool adds a tool to the server. Tool names are unique.
func (s *Server) RegisterTool(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	s.tools[tool.Name] = tool
	return nil
}

// whoamiTool reports the identity the transport gate resolved, which is how
// clients confirm which user their API key maps to.
func whoamiTool() Tool {
	return Tool{
		Name:        "whoami",
		Description: "Return the identity and security context of the caller",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			out, err := json.Marshal(map[string]any{
				"user_id":         auth.CurrentUserID(ctx),
				"roles":           auth.CurrentRoles(ctx),
				"groups":          auth.CurrentGroups(ctx),
				"search_limit":    auth.SearchLimitFrom(ctx),
				"score_threshold": auth.ScoreThresholdFrom(ctx),
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// Close releases server resources and drops all sessions.
func (s *Server) Close() {
	s.sessions.clear()
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE per the
// Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// authenticate resolves the caller's identity from the request's API key.
// With auth disabled every caller is the anonymous user and the key is
// never inspected. Validator failures reject the request: the gate fails
// closed rather than letting an unverified caller through.
func (s *Server) authenticate(r *http.Request) (*auth.User, string, error) {
	if s.authDisabled {
		return auth.AnonymousUser(), "", nil
	}

	key, ok := auth.ExtractAPIKey(r.Header)
	if !ok {
		return nil, "", auth.ErrAPIKeyRequired
	}

	user, err := s.validator.ValidateKey(r.Context(), key)
	if err != nil {
		return nil, "", err
	}
	return user, key, nil
}

// writeAuthFailure maps an authentication error to an HTTP status.
func (s *Server) writeAuthFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAPIKeyRequired):
		http.Error(w, "Unauthorized: API key required", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrAPIKeyInvalid):
		http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
	default:
		s.logger.Error("api key validation failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
// Verifies the caller owns the session to prevent unauthorized termination.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	// The DELETE must carry the same API key as initialize did.
	if sess.ownerKey != "" {
		callerKey, _ := auth.ExtractAPIKey(r.Header)
		if callerKey != sess.ownerKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize)
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Notifications carry no result channel and are accepted without
	// touching the gate: accept and return HTTP 202 with no body.
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	user, key, authErr := s.authenticate(r)
	if authErr != nil {
		s.writeAuthFailure(w, authErr)
		return
	}

	// Non-initialize requests require a valid session owned by the caller.
	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sess, ok := s.sessions.get(sessionID)
		if !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if sess.user.ID != user.ID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"user_id", user.ID,
		"session_id", sessionID,
	)

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req, user, key)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req, user)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest, user *auth.User, ownerKey string) {
	sess := s.sessions.create(latestProtocolVersion, user, ownerKey)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"user_id", user.ID,
		"protocol_version", sess.protocolVersion,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "orag-gateway",
			"version": "1.0.0",
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	s.toolsMu.RLock()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, 0, len(s.tools))}
	for _, tool := range s.tools {
		result.Tools = append(result.Tools, MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	s.toolsMu.RUnlock()

	s.logger.Debug("tools/list", "count", len(result.Tools))
	s.sendJSONRPCResult(w, req.ID, result)
}

// securityContext seeds the request context with the resolved identity and
// the configured search bounds before a tool runs.
func (s *Server) securityContext(ctx context.Context, user *auth.User) context.Context {
	ctx = auth.WithIdentity(ctx, user, "")
	if s.searchLimit > 0 {
		ctx = auth.WithSearchLimit(ctx, s.searchLimit)
	}
	if s.scoreThreshold > 0 {
		ctx = auth.WithScoreThreshold(ctx, s.scoreThreshold)
	}
	return ctx
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, user *auth.User) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	s.toolsMu.RLock()
	tool, ok := s.tools[params.Name]
	s.toolsMu.RUnlock()
	if !ok {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	requestID := uuid.New().String()

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"user_id", user.ID,
		"request_id", requestID,
	)

	ctx := s.securityContext(r.Context(), user)
	output, err := tool.Handler(ctx, args)

	var result MCPCallToolResult
	if err != nil {
		s.logger.Warn("tool execution failed",
			"tool_name", params.Name,
			"request_id", requestID,
			"error", err,
		)
		message := "tool execution failed"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			message = "tool execution timed out"
		case errors.Is(err, context.Canceled):
			message = "request cancelled"
		}
		result = MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: message}},
			IsError: true,
		}
	} else {
		result = MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: output}},
		}
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"request_id", requestID,
		"is_error", result.IsError,
	)

	s.sendJSONRPCResult(w, req.ID, result)
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
