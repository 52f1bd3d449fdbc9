// Package authroles derives roles from identity claims.
package authroles

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// DefaultRoleExpression selects the role claim most hosted providers emit.
const DefaultRoleExpression = "app_metadata.role || user_metadata.role"

var (
	// ErrNoRoleClaim is returned when the expression selects nothing.
	ErrNoRoleClaim = errors.New("no role claim")
	// ErrSubjectMismatch is returned when the claims belong to another identity.
	ErrSubjectMismatch = errors.New("claims subject does not match identity")
)

// tokenAlgorithms are the JWS algorithms accepted when reading claims.
var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// ClaimsMapper evaluates a JMESPath expression against claims.
type ClaimsMapper struct {
	expr string
}

// NewClaimsMapper compiles expr. An empty expr uses DefaultRoleExpression.
func NewClaimsMapper(expr string) (*ClaimsMapper, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultRoleExpression
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile role expression: %w", err)
	}
	return &ClaimsMapper{expr: expr}, nil
}

// Expression returns the compiled expression source.
func (m *ClaimsMapper) Expression() string { return m.expr }

// RoleFromClaims evaluates the expression. The result must be a string naming
// a known role.
func (m *ClaimsMapper) RoleFromClaims(claims map[string]any) (domainauth.Role, error) {
	out, err := jmespath.Search(m.expr, claims)
	if err != nil {
		return "", fmt.Errorf("evaluate role expression: %w", err)
	}
	switch v := out.(type) {
	case nil:
		return "", ErrNoRoleClaim
	case string:
		if strings.TrimSpace(v) == "" {
			return "", ErrNoRoleClaim
		}
		return domainauth.ParseRoleStrict(v)
	default:
		return "", fmt.Errorf("role claim has type %T, want string", out)
	}
}

// Lookup binds the mapper to a claims source.
func (m *ClaimsMapper) Lookup(src ClaimsSource) *ClaimsRoleLookup {
	return &ClaimsRoleLookup{mapper: m, source: src}
}

// ClaimsSource returns the claims known for an identity.
type ClaimsSource interface {
	Claims(ctx context.Context, identityID string) (map[string]any, error)
}

// ClaimsSourceFunc adapts a function to ClaimsSource.
type ClaimsSourceFunc func(ctx context.Context, identityID string) (map[string]any, error)

// Claims implements ClaimsSource.
func (f ClaimsSourceFunc) Claims(ctx context.Context, identityID string) (map[string]any, error) {
	return f(ctx, identityID)
}

// ClaimsRoleLookup implements ports.RoleLookup over a ClaimsSource.
type ClaimsRoleLookup struct {
	mapper *ClaimsMapper
	source ClaimsSource
}

var _ ports.RoleLookup = (*ClaimsRoleLookup)(nil)

// LookupRole implements ports.RoleLookup.
func (l *ClaimsRoleLookup) LookupRole(ctx context.Context, identityID string) (domainauth.Role, error) {
	claims, err := l.source.Claims(ctx, identityID)
	if err != nil {
		return "", err
	}
	return l.mapper.RoleFromClaims(claims)
}

// SessionClaims returns a source that reads the claims of a known session:
// the unverified access-token payload when it is a JWT, overlaid with the
// identity metadata.
func SessionClaims(sess *domainauth.Session) ClaimsSource {
	return ClaimsSourceFunc(func(_ context.Context, identityID string) (map[string]any, error) {
		if sess == nil || sess.Identity.ID != identityID {
			return nil, fmt.Errorf("session for %s: %w", identityID, ports.ErrNotFound)
		}
		claims := map[string]any{}
		if tokenClaims, err := ClaimsFromToken(sess.AccessToken); err == nil {
			claims = tokenClaims
		}
		maps.Copy(claims, sess.Identity.Metadata)
		claims["sub"] = identityID
		return claims, nil
	})
}

// TokenClaims returns a source that parses whatever token tokenFn yields,
// such as the token mirror. The token's subject must match the identity.
func TokenClaims(tokenFn func(ctx context.Context) (string, bool)) ClaimsSource {
	return ClaimsSourceFunc(func(ctx context.Context, identityID string) (map[string]any, error) {
		raw, ok := tokenFn(ctx)
		if !ok {
			return nil, fmt.Errorf("access token: %w", ports.ErrNotFound)
		}
		claims, err := ClaimsFromToken(raw)
		if err != nil {
			return nil, err
		}
		if sub, _ := claims["sub"].(string); sub != identityID {
			return nil, ErrSubjectMismatch
		}
		return claims, nil
	})
}

// ClaimsFromToken decodes a compact JWS payload without verifying the signature.
func ClaimsFromToken(raw string) (map[string]any, error) {
	tok, err := jwt.ParseSigned(raw, tokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims := map[string]any{}
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", err)
	}
	return claims, nil
}
