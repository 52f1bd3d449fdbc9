package devauth

// Package devauth provides a config-driven session issuer for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// ErrInvalidCredentials is returned for a rejected password or refresh token.
var ErrInvalidCredentials = errors.New("dev auth: invalid credentials")

// Config controls the dev issuer.
// UserID and Email are required.
type Config struct {
	UserID string
	Email  string
	// Role is exposed as the app_metadata.role claim when set.
	Role string
	// Password, when set, is the only password PasswordLogin accepts.
	Password        string
	SessionDuration time.Duration // default 8h when zero
}

// Provider implements ports.SessionIssuer without a network round trip.
// Begin redirects straight back to our callback; every sign-in returns the
// configured identity with fresh opaque tokens.
type Provider struct {
	identity        domainauth.Identity
	password        string
	sessionDuration time.Duration
	now             func() time.Time

	mu      sync.Mutex
	refresh map[string]struct{}
	revoked map[string]struct{}
}

var _ ports.SessionIssuer = (*Provider)(nil)

// NewProvider constructs a dev issuer from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	var meta map[string]any
	if role := strings.TrimSpace(cfg.Role); role != "" {
		meta = map[string]any{"app_metadata": map[string]any{"role": role}}
	}
	return &Provider{
		identity:        domainauth.Identity{ID: cfg.UserID, Email: cfg.Email, Metadata: meta},
		password:        cfg.Password,
		sessionDuration: dur,
		now:             time.Now,
		refresh:         make(map[string]struct{}),
		revoked:         make(map[string]struct{}),
	}, nil
}

// Begin returns a local callback URL and cryptographically secure state and nonce.
func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (string, string, string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	// The gateway handler expects GET /auth/callback?code=...&state=...
	authURL := "/auth/callback?code=dev&state=" + url.QueryEscape(state)
	return authURL, state, nonce, nil
}

// Exchange ignores the code; state and nonce are validated by the caller.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Session, error) {
	if in.Code == "" {
		return domainauth.Session{}, errors.New("authorization code is required")
	}
	return p.issue()
}

// PasswordLogin accepts the configured email with the configured password,
// or any non-empty password when none is configured.
func (p *Provider) PasswordLogin(_ context.Context, in ports.PasswordInput) (domainauth.Session, error) {
	if !strings.EqualFold(strings.TrimSpace(in.Email), p.identity.Email) || in.Password == "" {
		return domainauth.Session{}, ErrInvalidCredentials
	}
	if p.password != "" && in.Password != p.password {
		return domainauth.Session{}, ErrInvalidCredentials
	}
	return p.issue()
}

// Refresh rotates a refresh token previously issued by this provider.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (domainauth.Session, error) {
	p.mu.Lock()
	_, ok := p.refresh[refreshToken]
	delete(p.refresh, refreshToken)
	p.mu.Unlock()
	if !ok {
		return domainauth.Session{}, fmt.Errorf("%w: %w", ports.ErrRefreshRejected, ErrInvalidCredentials)
	}
	return p.issue()
}

// Revoke invalidates the session's refresh token.
func (p *Provider) Revoke(_ context.Context, sess domainauth.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refresh, sess.RefreshToken)
	if sess.AccessToken != "" {
		p.revoked[sess.AccessToken] = struct{}{}
	}
	return nil
}

// Revoked reports whether an access token was revoked.
func (p *Provider) Revoked(accessToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.revoked[accessToken]
	return ok
}

func (p *Provider) issue() (domainauth.Session, error) {
	access, err := randomString(32)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := randomString(32)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refresh = "dev-refresh-" + refresh

	p.mu.Lock()
	p.refresh[refresh] = struct{}{}
	p.mu.Unlock()

	return domainauth.Session{
		AccessToken:  "dev-" + access,
		RefreshToken: refresh,
		ExpiresAt:    p.now().Add(p.sessionDuration),
		Identity:     p.identity,
	}, nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
