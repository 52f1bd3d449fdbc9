package httpx

import (
	"context"

	domainauth "github.com/target/studyhub/internal/domain/auth"
)

type sessionKey struct{}

type roleKey struct{}

// SetSessionInContext returns a child context that carries the given session.
// If session is nil, the original ctx is returned unchanged.
func SetSessionInContext(ctx context.Context, session *domainauth.StoredSession) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// GetSessionFromContext returns the stored session placed by RequireAuth.
func GetSessionFromContext(ctx context.Context) (*domainauth.StoredSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(*domainauth.StoredSession)
	return s, ok && s != nil
}

func setRoleInContext(ctx context.Context, role domainauth.Role) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// GetRoleFromContext returns the role resolved by RequireRole, or student.
func GetRoleFromContext(ctx context.Context) domainauth.Role {
	if r, ok := ctx.Value(roleKey{}).(domainauth.Role); ok {
		return r
	}
	return domainauth.RoleStudent
}
