// ABOUTME: HTTP handlers for the auth API and discovery endpoints
// ABOUTME: Session tokens travel in cookies only, never in JSON bodies

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openrag/orag-gateway/internal/auth"
	"github.com/openrag/orag-gateway/internal/oauthflow"
)

// AuthInitRequest is the JSON request body for POST /auth/init.
type AuthInitRequest struct {
	ConnectorType string `json:"connector_type"`
	Purpose       string `json:"purpose"`
	Name          string `json:"name,omitempty"`
}

// AuthInitResponse is the JSON response for POST /auth/init.
type AuthInitResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	ConnectionID string `json:"connection_id"`
}

// CallbackResponse is the JSON response for /auth/callback. The session
// token is delivered via the auth_token cookie and deliberately has no
// field here.
type CallbackResponse struct {
	Status       string     `json:"status"`
	ConnectionID string     `json:"connection_id"`
	User         *auth.User `json:"user,omitempty"`
}

// ConnectionResponse is a completed connection as listed to its owner.
// The state nonce is never exposed.
type ConnectionResponse struct {
	ID            string    `json:"id"`
	ConnectorType string    `json:"connector_type"`
	Purpose       string    `json:"purpose"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

// registerRoutes registers the auth API, discovery, and health routes.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	noAuth := g.config.Auth.Disabled
	logger := g.logger
	required := auth.RequireSession(g.sessions, noAuth, logger)
	optional := auth.OptionalSession(g.sessions, noAuth, logger)

	mux.HandleFunc("/health", g.handleHealth)

	mux.Handle("/auth/init", optional(http.HandlerFunc(g.handleAuthInit)))
	mux.HandleFunc("/auth/callback", g.handleAuthCallback)
	mux.Handle("/auth/me", required(http.HandlerFunc(g.handleMe)))
	mux.HandleFunc("/auth/logout", g.handleLogout)
	mux.Handle("/auth/connections", required(http.HandlerFunc(g.handleListConnections)))

	mux.HandleFunc("/auth/jwks", g.handleJWKS)
	mux.HandleFunc("/auth/introspect", g.handleIntrospect)
	mux.HandleFunc("/.well-known/openid-configuration", g.handleDiscovery)
	mux.HandleFunc("/.well-known/oauth-authorization-server", g.handleDiscovery)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes an error response in JSON format.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// callbackRedirectURI builds the redirect URI the provider sends the user
// back to, carrying the connection ID so the callback can find its nonce.
func (g *Gateway) callbackRedirectURI(connectionID string) string {
	base := strings.TrimRight(g.config.Server.BaseURL, "/")
	return base + "/auth/callback?connection_id=" + url.QueryEscape(connectionID)
}

// handleAuthInit starts an OAuth connection and returns the provider
// authorization URL to redirect the user to.
func (g *Gateway) handleAuthInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AuthInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	purpose := oauthflow.Purpose(req.Purpose)
	if !purpose.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, "purpose must be data_source or app_auth")
		return
	}

	var userID string
	if user := auth.UserFrom(r.Context()); user != nil {
		userID = user.ID
	}
	// Linking a data source requires knowing whose source it becomes.
	if purpose == oauthflow.PurposeDataSource && userID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required to link a data source")
		return
	}

	connectionID := uuid.New().String()
	result, err := g.flow.Init(r.Context(), oauthflow.InitRequest{
		ConnectorType:  req.ConnectorType,
		Purpose:        purpose,
		ConnectionName: req.Name,
		RedirectURI:    g.callbackRedirectURI(connectionID),
		ConnectionID:   connectionID,
		UserID:         userID,
	})
	if err != nil {
		if errors.Is(err, oauthflow.ErrUnknownConnector) {
			g.sendJSONError(w, http.StatusBadRequest, "unknown connector_type")
			return
		}
		g.logger.Error("initiating oauth connection", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to initiate connection")
		return
	}

	g.writeJSON(w, http.StatusOK, AuthInitResponse{
		AuthorizeURL: result.AuthorizeURL,
		ConnectionID: result.ConnectionID,
	})
}

// handleAuthCallback completes an OAuth connection. For app_auth the minted
// session token is set as an HttpOnly cookie; it never appears in the body.
func (g *Gateway) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	connectionID := query.Get("connection_id")
	code := query.Get("code")
	state := query.Get("state")
	if connectionID == "" || code == "" || state == "" {
		g.sendJSONError(w, http.StatusBadRequest, "connection_id, code, and state are required")
		return
	}

	result, err := g.flow.Callback(r.Context(), connectionID, code, state)
	if err != nil {
		switch {
		case errors.Is(err, oauthflow.ErrStateInvalid):
			g.sendJSONError(w, http.StatusBadRequest, "invalid or expired state")
		case errors.Is(err, oauthflow.ErrExchangeFailed):
			g.sendJSONError(w, http.StatusBadGateway, "provider exchange failed")
		default:
			g.logger.Error("completing oauth callback", "connection_id", connectionID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to complete connection")
		}
		return
	}

	resp := CallbackResponse{
		Status:       "connected",
		ConnectionID: result.Connection.ID,
	}
	if result.SessionToken != "" {
		g.setSessionCookie(w, result.SessionToken)
		resp.Status = "authenticated"
		resp.User = result.User
	}

	g.writeJSON(w, http.StatusOK, resp)
}

// setSessionCookie delivers the session token as an HttpOnly cookie scoped
// to the whole site.
func (g *Gateway) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.sessions.Lifetime().Seconds()),
		HttpOnly: true,
		Secure:   g.cookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

// handleMe returns the authenticated user's identity.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := auth.UserFrom(r.Context())
	if user == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	g.writeJSON(w, http.StatusOK, user)
}

// handleLogout clears the session cookie. The token itself stays valid
// until expiry; logout is a client-side discard.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleListConnections lists the caller's completed connections.
func (g *Gateway) handleListConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := auth.CurrentUserID(r.Context())
	conns, err := g.store.ListConnectionsByOwner(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing connections", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}

	response := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		response = append(response, ConnectionResponse{
			ID:            conn.ID,
			ConnectorType: conn.ConnectorType,
			Purpose:       string(conn.Purpose),
			Name:          conn.Name,
			CreatedAt:     conn.CreatedAt,
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"connections": response})
}

// handleDiscovery serves the issuer metadata document.
func (g *Gateway) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.writeJSON(w, http.StatusOK, g.exposer.Document())
}

// handleJWKS serves the session verification key set.
func (g *Gateway) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.writeJSON(w, http.StatusOK, g.exposer.JWKS())
}

// handleIntrospect answers whether a presented token is a live session.
// Always 200: invalid tokens report active=false with no further detail.
func (g *Gateway) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	g.writeJSON(w, http.StatusOK, g.exposer.Introspect(r.PostFormValue("token")))
}
