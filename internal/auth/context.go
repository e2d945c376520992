package auth

import "context"

type contextKey string

const sessionContextKey contextKey = "docuchat.session"

// Session is the authenticated identity attached to a request context after
// the session cookie has been verified.
type Session struct {
	UserID      string
	Email       string
	Name        string
	DisplayName string
	Roles       []Role
}

// HasRole reports whether the session carries the given role.
func (s *Session) HasRole(role Role) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the session carries at least one of the given
// roles.
func (s *Session) HasAnyRole(roles ...Role) bool {
	for _, want := range roles {
		if s.HasRole(want) {
			return true
		}
	}
	return false
}

// SessionFromClaims builds a Session from verified token claims.
func SessionFromClaims(claims *SessionClaims) *Session {
	return &Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		DisplayName: claims.DisplayName,
		Roles:       claims.RoleList(),
	}
}

// ContextWithSession returns a context carrying the session.
func ContextWithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext extracts the session from the context, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*Session)
	return session, ok && session != nil
}
