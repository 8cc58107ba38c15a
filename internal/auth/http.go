// ABOUTME: HTTP middleware resolving browser sessions from the auth cookie
// ABOUTME: Required and optional guards plus the total no-auth bypass

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// SessionCookieName is the browser session cookie.
const SessionCookieName = "auth_token"

// UserResolver resolves a session token to a user snapshot. Implemented by
// SessionManager; declared here so middleware stays testable in isolation.
type UserResolver interface {
	UserFromToken(token string) (*User, error)
}

// authErrorResponse is the stable JSON shape for boundary rejections.
type authErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authErrorResponse{Error: code, Message: message})
}

// RequireSession creates middleware that enforces an authenticated browser
// session. In no-auth mode the bypass is total: an anonymous identity is
// synthesized and the cookie is never inspected. Otherwise a missing or
// invalid cookie rejects with 401 before any handler logic runs.
func RequireSession(resolver UserResolver, noAuth bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if noAuth {
				ctx := WithIdentity(r.Context(), AnonymousUser(), "")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeAuthError(w, http.StatusUnauthorized, "authentication_required", "missing session cookie")
				return
			}

			user, err := resolver.UserFromToken(cookie.Value)
			if err != nil {
				logger.Warn("session rejected", "reason", "invalid_token", "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, "authentication_required", "invalid or expired session")
				return
			}

			ctx := WithIdentity(r.Context(), user, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalSession creates middleware with the same cookie resolution as
// RequireSession, but absence or invalidity forwards a null identity to the
// handler instead of rejecting. Handlers decide whether identity is mandatory.
func OptionalSession(resolver UserResolver, noAuth bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if noAuth {
				ctx := WithIdentity(r.Context(), AnonymousUser(), "")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}

			user, err := resolver.UserFromToken(cookie.Value)
			if err != nil {
				logger.Debug("optional session ignored", "reason", "invalid_token", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), user, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminHTTP creates middleware that requires the admin or owner role.
// Must be used after RequireSession.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFrom(r.Context()) == nil {
				writeAuthError(w, http.StatusUnauthorized, "authentication_required", "not authenticated")
				return
			}
			if !IsAdmin(r.Context()) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
