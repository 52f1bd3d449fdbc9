package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOAuth uses OAuth/OIDC for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses mock/dev authentication (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"studyhub"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	LogoutURL    string `env:"LOGOUT_URL"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID   string `env:"USER_ID"  envDefault:"dev-user"`
	Email    string `env:"EMAIL"    envDefault:"dev@example.com"`
	Role     string `env:"ROLE"     envDefault:"admin"`
	Password string `env:"PASSWORD"`
}

// RolesConfig controls how identities are mapped to roles.
type RolesConfig struct {
	// Sources is the comma-delimited lookup order: db, backend, claims.
	Sources string `env:"ROLE_SOURCES" envDefault:"db,claims"`
	// ClaimExpression is a JMESPath expression evaluated against token claims.
	ClaimExpression string `env:"ROLE_CLAIM_EXPRESSION" envDefault:"app_metadata.role || user_metadata.role"`
	// LookupTimeout bounds a single role lookup.
	LookupTimeout time.Duration `env:"ROLE_LOOKUP_TIMEOUT" envDefault:"3s"`
}

// SessionConfig controls gateway session lifetime.
type SessionConfig struct {
	// Retention keeps refreshable sessions past token expiry.
	Retention time.Duration `env:"SESSION_RETENTION"      envDefault:"168h"`
	// RefreshLeeway refreshes sessions this long before they expire.
	RefreshLeeway time.Duration `env:"SESSION_REFRESH_LEEWAY" envDefault:"30s"`
	// KeyPrefix namespaces session records in Redis.
	KeyPrefix string `env:"SESSION_KEY_PREFIX" envDefault:"session:"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oauth"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	Roles    RolesConfig
	Sessions SessionConfig

	// RecordUsers upserts signed-in identities into the users table.
	RecordUsers bool `env:"AUTH_RECORD_USERS" envDefault:"true"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.OAuth.DiscoveryURL = strings.TrimSpace(a.OAuth.DiscoveryURL)
	a.Roles.ClaimExpression = strings.TrimSpace(a.Roles.ClaimExpression)
	if a.Roles.LookupTimeout < 0 {
		a.Roles.LookupTimeout = 0
	}
	if a.Sessions.Retention < 0 {
		a.Sessions.Retention = 0
	}
	if a.Sessions.RefreshLeeway <= 0 {
		a.Sessions.RefreshLeeway = 30 * time.Second
	}
	if a.Sessions.KeyPrefix == "" {
		a.Sessions.KeyPrefix = "session:"
	}
}

// Validate reports configuration that cannot produce a working issuer.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeMock:
		if a.DevAuth.UserID == "" || a.DevAuth.Email == "" {
			return errors.New("DEV_AUTH_USER_ID and DEV_AUTH_EMAIL are required in mock mode")
		}
	case AuthModeOAuth:
		var missing []string
		if a.OAuth.DiscoveryURL == "" {
			missing = append(missing, "OAUTH_DISCOVERY_URL")
		}
		if a.OAuth.ClientID == "" {
			missing = append(missing, "OAUTH_CLIENT_ID")
		}
		if a.OAuth.RedirectURL == "" {
			missing = append(missing, "OAUTH_REDIRECT_URL")
		}
		if len(missing) > 0 {
			return fmt.Errorf("oauth mode requires %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("unknown auth mode %q", a.Mode)
	}
	if _, err := ParseRoleSources(a.Roles.Sources); err != nil {
		return err
	}
	return nil
}
