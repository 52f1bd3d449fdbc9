package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/target/studyhub/internal/adapters/authroles"
	"github.com/target/studyhub/internal/authstate"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	apperrors "github.com/target/studyhub/internal/errors"
	"github.com/target/studyhub/internal/observability/metrics"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
)

var (
	// ErrSessionNotFound is returned when the cookie names no stored session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a stored session expired and could not be refreshed.
	ErrSessionExpired = errors.New("session expired")
	// ErrIssuerRequired is returned by NewAuthService without an issuer.
	ErrIssuerRequired = errors.New("session issuer is required")
	// ErrSessionsRequired is returned by NewAuthService without a session store.
	ErrSessionsRequired = errors.New("session store is required")
)

// DefaultRefreshLeeway refreshes sessions this close to expiry on read.
const DefaultRefreshLeeway = 30 * time.Second

// UserDirectory records users on sign-in. Implemented by data.UserRoleRepository.
type UserDirectory interface {
	EnsureUser(ctx context.Context, identityID, email string) (domainauth.Role, error)
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Issuer   ports.SessionIssuer
	Sessions ports.SessionStore
	// Roles resolves the backend-owned role. Optional; without it every
	// identity falls back to claims, then to student.
	Roles *authstate.RoleResolver
	// Claims maps identity claims to a role when Roles falls back. Optional.
	Claims *authroles.ClaimsMapper
	// Users is told about every sign-in. Optional.
	Users         UserDirectory
	Logger        *slog.Logger
	Metrics       statsd.Sink
	RefreshLeeway time.Duration
	Now           func() time.Time
}

// AuthService orchestrates the gateway's login flows and server-side sessions.
type AuthService struct {
	issuer   ports.SessionIssuer
	sessions ports.SessionStore
	roles    *authstate.RoleResolver
	claims   *authroles.ClaimsMapper
	users    UserDirectory
	logger   *slog.Logger
	metrics  statsd.Sink
	leeway   time.Duration
	now      func() time.Time

	refreshes singleflight.Group
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Issuer == nil {
		return nil, ErrIssuerRequired
	}
	if opts.Sessions == nil {
		return nil, ErrSessionsRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	leeway := opts.RefreshLeeway
	if leeway <= 0 {
		leeway = DefaultRefreshLeeway
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		issuer:   opts.Issuer,
		sessions: opts.Sessions,
		roles:    opts.Roles,
		claims:   opts.Claims,
		users:    opts.Users,
		logger:   logger.With("component", "auth_service"),
		metrics:  opts.Metrics,
		leeway:   leeway,
		now:      now,
	}, nil
}

// BeginLoginResult contains the result of beginning a login flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginLogin initiates an authentication flow and returns the provider auth URL with state and nonce.
func (s *AuthService) BeginLogin(ctx context.Context, redirectURL string) (*BeginLoginResult, error) {
	if redirectURL == "" {
		return nil, apperrors.Validation("redirect URL is required")
	}

	authURL, state, nonce, err := s.issuer.Begin(ctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}
	return &BeginLoginResult{AuthURL: authURL, State: state, Nonce: nonce}, nil
}

// CompleteLoginInput groups parameters for completing a login flow.
type CompleteLoginInput struct {
	Code  string
	State string
	Nonce string
}

// CompleteLoginResult carries the stored session created by a login.
type CompleteLoginResult struct {
	Session domainauth.StoredSession
}

// CompleteLogin exchanges the authorization code and persists a new server session.
func (s *AuthService) CompleteLogin(ctx context.Context, input CompleteLoginInput) (*CompleteLoginResult, error) {
	if input.Code == "" {
		return nil, apperrors.Validation("authorization code is required")
	}
	if input.State == "" {
		return nil, apperrors.Validation("state parameter is required")
	}
	if input.Nonce == "" {
		return nil, apperrors.Validation("nonce parameter is required")
	}

	sess, err := s.issuer.Exchange(ctx, ports.ExchangeInput(input))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "exchange authorization code")
	}
	return s.persistLogin(ctx, sess)
}

// PasswordLogin signs in with email and password and persists a new server session.
func (s *AuthService) PasswordLogin(ctx context.Context, email, password string) (*CompleteLoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	sess, err := s.issuer.PasswordLogin(ctx, ports.PasswordInput{Email: email, Password: password})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid email or password")
	}
	return s.persistLogin(ctx, sess)
}

func (s *AuthService) persistLogin(ctx context.Context, sess domainauth.Session) (*CompleteLoginResult, error) {
	if s.users != nil && sess.Identity.Email != "" {
		if _, err := s.users.EnsureUser(ctx, sess.Identity.ID, sess.Identity.Email); err != nil {
			s.logger.WarnContext(ctx, "record user failed", "identity_id", sess.Identity.ID, "error", err)
		}
	}

	stored := domainauth.StoredSession{
		ID:        generateSessionID(),
		Session:   sess,
		CreatedAt: s.now().UTC(),
	}
	if err := s.sessions.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	metrics.EmitSessionTransition(s.metrics, metrics.SessionTransitionMetric{Transition: "login", SignedIn: true})
	return &CompleteLoginResult{Session: stored}, nil
}

// GetSession returns the stored session. Sessions at or near expiry are
// refreshed when they carry a refresh token and deleted otherwise.
func (s *AuthService) GetSession(ctx context.Context, sessionID string) (*domainauth.StoredSession, error) {
	if sessionID == "" {
		return nil, apperrors.Wrap(ErrSessionNotFound, apperrors.ErrCodeUnauthorized, "not authenticated")
	}

	stored, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, apperrors.Wrap(ErrSessionNotFound, apperrors.ErrCodeUnauthorized, "not authenticated")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if !stored.Session.ExpiresWithin(s.now(), s.leeway) {
		return &stored, nil
	}
	if stored.Session.RefreshToken == "" {
		if stored.Session.Expired(s.now()) {
			return nil, s.expire(ctx, sessionID, nil)
		}
		return &stored, nil
	}
	return s.refresh(ctx, stored)
}

func (s *AuthService) refresh(ctx context.Context, stored domainauth.StoredSession) (*domainauth.StoredSession, error) {
	v, err, _ := s.refreshes.Do(stored.ID, func() (any, error) {
		// Shared by every caller for this session, so no single caller's
		// cancellation may abort it.
		rctx := context.WithoutCancel(ctx)
		fresh, rerr := s.issuer.Refresh(rctx, stored.Session.RefreshToken)
		if rerr != nil {
			metrics.EmitSessionTransition(s.metrics, metrics.SessionTransitionMetric{Transition: "refresh", Err: rerr})
			if stored.Session.Expired(s.now()) {
				return nil, s.expire(rctx, stored.ID, rerr)
			}
			// Still valid: keep serving it and retry on a later read.
			s.logger.WarnContext(rctx, "session refresh failed", "error", rerr)
			return stored, nil
		}
		next := domainauth.StoredSession{ID: stored.ID, Session: fresh, CreatedAt: stored.CreatedAt}
		if saveErr := s.sessions.Save(rctx, next); saveErr != nil {
			return nil, fmt.Errorf("save refreshed session: %w", saveErr)
		}
		metrics.EmitSessionTransition(s.metrics, metrics.SessionTransitionMetric{Transition: "refresh", SignedIn: true})
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	out := v.(domainauth.StoredSession)
	return &out, nil
}

func (s *AuthService) expire(ctx context.Context, sessionID string, cause error) error {
	expired := apperrors.Wrap(errors.Join(ErrSessionExpired, cause), apperrors.ErrCodeUnauthorized, "session expired")
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return errors.Join(expired, fmt.Errorf("delete session: %w", err))
	}
	return expired
}

// Snapshot returns the initial auth snapshot handed to clients. It never
// fails: any problem yields a signed-out snapshot.
func (s *AuthService) Snapshot(ctx context.Context, sessionID string) domainauth.Snapshot {
	if sessionID == "" {
		return domainauth.Snapshot{}
	}
	stored, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrSessionExpired) {
			s.logger.WarnContext(ctx, "snapshot degraded to signed out", "error", err)
		}
		return domainauth.Snapshot{}
	}
	sess := stored.Session
	return domainauth.Snapshot{Session: &sess}
}

// MeResult is the identity behind a session with its resolved role.
type MeResult struct {
	Identity domainauth.Identity `json:"identity"`
	Role     domainauth.Role     `json:"role"`
	// Fallback is true when no lookup produced the role.
	Fallback  bool      `json:"fallback"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Me resolves the session's identity and role.
func (s *AuthService) Me(ctx context.Context, sessionID string) (*MeResult, error) {
	stored, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := stored.Session
	res := s.ResolveRole(ctx, &sess)
	return &MeResult{
		Identity:  sess.Identity,
		Role:      res.Role,
		Fallback:  res.Fallback,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ResolveRole resolves the backend role for sess, then the claims role, then student.
func (s *AuthService) ResolveRole(ctx context.Context, sess *domainauth.Session) domainauth.RoleResult {
	if sess == nil {
		return domainauth.FallbackRole(authstate.ErrNoIdentity)
	}
	res := domainauth.FallbackRole(authstate.ErrNoLookup)
	if s.roles != nil {
		res = s.roles.Resolve(ctx, sess.Identity.ID)
	}
	if !res.Fallback || s.claims == nil {
		return res
	}
	role, err := s.claims.Lookup(authroles.SessionClaims(sess)).LookupRole(ctx, sess.Identity.ID)
	if err != nil {
		return domainauth.FallbackRole(errors.Join(res.Reason, err))
	}
	return domainauth.ResolvedRole(role)
}

// Logout revokes the session at the provider (best effort) and deletes it locally.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	stored, err := s.sessions.Get(ctx, sessionID)
	switch {
	case err == nil:
		if revokeErr := s.issuer.Revoke(ctx, stored.Session); revokeErr != nil {
			s.logger.WarnContext(ctx, "provider revoke failed", "error", revokeErr)
		}
	case !errors.Is(err, ports.ErrNotFound):
		s.logger.WarnContext(ctx, "load session for logout failed", "error", err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	metrics.EmitSessionTransition(s.metrics, metrics.SessionTransitionMetric{Transition: "sign_out"})
	return nil
}

// generateSessionID creates a random, URL-safe session ID.
func generateSessionID() string {
	return uuid.NewString()
}
