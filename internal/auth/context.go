// ABOUTME: Security context propagated through a request's task tree
// ABOUTME: Carries identity, RBAC attributes, and retrieval-scoping defaults

package auth

import (
	"context"
)

// DefaultSearchLimit is the retrieval limit when nothing has been set.
const DefaultSearchLimit = 10

// SecurityContext is the snapshot of identity and retrieval scoping carried
// by one logical request and everything spawned from it. Values are never
// mutated in place: every With* helper derives a new snapshot, so an override
// made inside a nested unit of work is invisible to its siblings and to the
// caller after the nested unit completes.
type SecurityContext struct {
	User           *User
	Token          string // raw session token, for downstream calls on the user's behalf
	Groups         []string
	Roles          []string
	SearchFilters  map[string]any
	SearchLimit    int
	ScoreThreshold float64
}

// securityContextKey is the key type for storing SecurityContext in context.Context.
type securityContextKey struct{}

func snapshot(ctx context.Context) SecurityContext {
	if sc, ok := ctx.Value(securityContextKey{}).(SecurityContext); ok {
		return sc
	}
	return SecurityContext{SearchLimit: DefaultSearchLimit}
}

// WithIdentity returns a context seeded with the given identity. Groups and
// roles are copied from the user snapshot.
func WithIdentity(ctx context.Context, user *User, token string) context.Context {
	sc := snapshot(ctx)
	sc.User = user
	sc.Token = token
	if user != nil {
		sc.Groups = append([]string(nil), user.Groups...)
		sc.Roles = append([]string(nil), user.Roles...)
	} else {
		sc.Groups = nil
		sc.Roles = nil
	}
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// WithScopes returns a context whose RBAC attributes are overridden without
// touching the resolved user.
func WithScopes(ctx context.Context, groups, roles []string) context.Context {
	sc := snapshot(ctx)
	sc.Groups = append([]string(nil), groups...)
	sc.Roles = append([]string(nil), roles...)
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// WithSearchFilters returns a context with retrieval filters scoped to the
// current branch of work.
func WithSearchFilters(ctx context.Context, filters map[string]any) context.Context {
	sc := snapshot(ctx)
	copied := make(map[string]any, len(filters))
	for k, v := range filters {
		copied[k] = v
	}
	sc.SearchFilters = copied
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// WithSearchLimit returns a context with an overridden retrieval limit.
func WithSearchLimit(ctx context.Context, limit int) context.Context {
	sc := snapshot(ctx)
	sc.SearchLimit = limit
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// WithScoreThreshold returns a context with an overridden score threshold.
func WithScoreThreshold(ctx context.Context, threshold float64) context.Context {
	sc := snapshot(ctx)
	sc.ScoreThreshold = threshold
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// UserFrom retrieves the resolved user from the context, returning nil when
// no identity has been seeded.
func UserFrom(ctx context.Context) *User {
	return snapshot(ctx).User
}

// MustUserFrom retrieves the resolved user, panicking if not present.
func MustUserFrom(ctx context.Context) *User {
	user := UserFrom(ctx)
	if user == nil {
		panic("auth: no user in context")
	}
	return user
}

// TokenFrom returns the raw session token for the current request, or "".
func TokenFrom(ctx context.Context) string {
	return snapshot(ctx).Token
}

// CurrentUserID returns the nearest enclosing user ID, or "".
func CurrentUserID(ctx context.Context) string {
	if u := snapshot(ctx).User; u != nil {
		return u.ID
	}
	return ""
}

// CurrentGroups returns the nearest enclosing group set.
func CurrentGroups(ctx context.Context) []string {
	return snapshot(ctx).Groups
}

// CurrentRoles returns the nearest enclosing role set.
func CurrentRoles(ctx context.Context) []string {
	return snapshot(ctx).Roles
}

// SearchFiltersFrom returns the nearest enclosing retrieval filters, or nil.
func SearchFiltersFrom(ctx context.Context) map[string]any {
	return snapshot(ctx).SearchFilters
}

// SearchLimitFrom returns the nearest enclosing retrieval limit, defaulting
// to DefaultSearchLimit.
func SearchLimitFrom(ctx context.Context) int {
	return snapshot(ctx).SearchLimit
}

// ScoreThresholdFrom returns the nearest enclosing score threshold, defaulting to 0.
func ScoreThresholdFrom(ctx context.Context) float64 {
	return snapshot(ctx).ScoreThreshold
}

// IsAdmin reports whether the current context carries the admin or owner role.
func IsAdmin(ctx context.Context) bool {
	for _, r := range snapshot(ctx).Roles {
		if r == "admin" || r == "owner" {
			return true
		}
	}
	return false
}
