package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service
// and internal/authstate.

import (
	"context"
	"errors"

	domainauth "github.com/target/studyhub/internal/domain/auth"
)

// ErrNotFound is returned by stores and lookups when the key is absent.
var ErrNotFound = errors.New("not found")

// ErrRefreshRejected marks a refresh the issuer refused outright, as opposed
// to one that failed in transit. The refresh token is unusable afterwards.
var ErrRefreshRejected = errors.New("refresh token rejected")

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// PasswordInput groups parameters for a resource-owner password sign-in.
type PasswordInput struct {
	Email    string
	Password string
}

// SessionIssuer talks to the hosted auth provider and issues sessions.
type SessionIssuer interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying state and nonce, and returns the issued session.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Session, error)

	// PasswordLogin signs in with email and password.
	PasswordLogin(ctx context.Context, in PasswordInput) (domainauth.Session, error)

	// Refresh exchanges a refresh token for a new session.
	Refresh(ctx context.Context, refreshToken string) (domainauth.Session, error)

	// Revoke ends the session at the provider. Best effort.
	Revoke(ctx context.Context, sess domainauth.Session) error
}

// SessionListener receives session changes. A nil session means signed out.
type SessionListener func(sess *domainauth.Session)

// AuthProvider is the client-side view of the auth provider: current session,
// a change stream, sign-out and code exchange.
type AuthProvider interface {
	CurrentSession(ctx context.Context) (*domainauth.Session, error)
	Subscribe(ctx context.Context, fn SessionListener) (unsubscribe func(), err error)
	SignOut(ctx context.Context) error
	ExchangeCode(ctx context.Context, in ExchangeInput) (*domainauth.Session, error)
}

// RoleLookup resolves a backend-owned role for an identity id.
// Implementations return an error on any failure; callers decide the fallback.
type RoleLookup interface {
	LookupRole(ctx context.Context, identityID string) (domainauth.Role, error)
}

// RoleLookupFunc adapts a function to RoleLookup.
type RoleLookupFunc func(ctx context.Context, identityID string) (domainauth.Role, error)

// LookupRole implements RoleLookup.
func (f RoleLookupFunc) LookupRole(ctx context.Context, identityID string) (domainauth.Role, error) {
	return f(ctx, identityID)
}

// MirrorStorage is the side storage channel the token mirror writes to.
// Get returns ErrNotFound when the key is absent.
type MirrorStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SessionStore persists gateway sessions keyed by cookie id.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.StoredSession) error
	Get(ctx context.Context, id string) (domainauth.StoredSession, error)
	Delete(ctx context.Context, id string) error
}

// SessionVault persists the client's own session under a device key.
// Load returns ErrNotFound when nothing is stored.
type SessionVault interface {
	Load(ctx context.Context, key string) (domainauth.Session, error)
	Store(ctx context.Context, key string, sess domainauth.Session) error
	Clear(ctx context.Context, key string) error
}

// Navigator moves the user to a route after auth transitions.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }
