package auth

// Package auth contains domain-level types for authentication, sessions and the
// merged client-side auth state. It is pure and free of framework/adapter concerns.

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role represents an application's authorization role.
// Keep string form for easy persistence and JSON.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// ErrUnknownRole is returned by ParseRoleStrict for values outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole normalises a role string. Anything that is not a known role maps to
// RoleStudent (least privilege).
func ParseRole(s string) Role {
	r, err := ParseRoleStrict(s)
	if err != nil {
		return RoleStudent
	}
	return r
}

// ParseRoleStrict normalises a role string and rejects unknown values.
func ParseRoleStrict(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// IsAdmin reports whether r grants admin access.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// Identity represents the authenticated principal derived from a Session.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is the credential bundle issued by the auth provider. The application
// only ever holds a read-only copy.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the session expires within d of now.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Sub(now) <= d
}

// Equal reports whether two sessions carry the same credentials for the same identity.
func (s Session) Equal(o Session) bool {
	return s.AccessToken == o.AccessToken &&
		s.RefreshToken == o.RefreshToken &&
		s.ExpiresAt.Equal(o.ExpiresAt) &&
		s.Identity.ID == o.Identity.ID &&
		s.Identity.Email == o.Identity.Email
}

// StoredSession is the server-side record the gateway persists for a browser.
// ID is an opaque identifier carried in the session cookie.
type StoredSession struct {
	ID        string    `json:"id"`
	Session   Session   `json:"session"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the server-computed initial state handed once to a client.
// A nil Session means signed out.
type Snapshot struct {
	Session *Session `json:"session"`
}

// Identity returns the snapshot's identity or nil.
func (s *Snapshot) Identity() *Identity {
	if s == nil || s.Session == nil {
		return nil
	}
	id := s.Session.Identity
	return &id
}

// State is the merged view consumed by UI code.
// Ready becomes true once and never reverts. Role is meaningful only when
// Identity is non-nil; otherwise it is RoleStudent.
type State struct {
	Identity *Identity `json:"identity"`
	Session  *Session  `json:"session"`
	Role     Role      `json:"role"`
	Ready    bool      `json:"ready"`
}

// InitialState returns the state before any resolution attempt.
func InitialState() State {
	return State{Role: RoleStudent}
}

// SignedIn reports whether the state is ready and carries an identity.
func (s State) SignedIn() bool { return s.Ready && s.Identity != nil }

// IdentityID returns the identity id or "".
func (s State) IdentityID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

// RoleResult is the tagged outcome of a role lookup. Either the lookup produced
// a role (Fallback false), or it fell back to RoleStudent for Reason.
type RoleResult struct {
	Role     Role
	Fallback bool
	Reason   error
}

// ResolvedRole builds a successful RoleResult.
func ResolvedRole(r Role) RoleResult { return RoleResult{Role: r} }

// FallbackRole builds a RoleResult that defaulted to student.
func FallbackRole(reason error) RoleResult {
	return RoleResult{Role: RoleStudent, Fallback: true, Reason: reason}
}
