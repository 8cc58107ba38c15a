// ABOUTME: User identity types resolved from session tokens or no-auth mode
// ABOUTME: Provides the anonymous sentinel used when enforcement is disabled

package auth

// AnonymousUserID is the fixed identifier used in no-auth mode.
const AnonymousUserID = "anonymous"

// User is an immutable per-request snapshot of an authenticated identity.
// It is created on successful token verification or OAuth app-auth completion
// and never persisted by this package.
type User struct {
	ID     string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// IsAnonymous reports whether this is the no-auth sentinel identity.
func (u *User) IsAnonymous() bool {
	return u != nil && u.ID == AnonymousUserID
}

// AnonymousUser returns the sentinel identity substituted when authentication
// is disabled. Downstream code never has to branch on "user is absent".
func AnonymousUser() *User {
	return &User{ID: AnonymousUserID}
}
