package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/adapters/authroles"
	"github.com/target/studyhub/internal/adapters/backendapi"
	"github.com/target/studyhub/internal/adapters/devauth"
	"github.com/target/studyhub/internal/adapters/oidc"
	redisadapter "github.com/target/studyhub/internal/adapters/redis"
	"github.com/target/studyhub/internal/authstate"
	"github.com/target/studyhub/internal/data"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
	"github.com/target/studyhub/internal/service"
)

// BuildIssuer creates the session issuer for the configured auth mode.
//
//nolint:ireturn // callers only need the port.
func BuildIssuer(cfg config.AuthConfig, logger *slog.Logger) (ports.SessionIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case config.AuthModeMock:
		if logger != nil {
			logger.Warn("dev auth enabled; do not use in production", "user_id", cfg.DevAuth.UserID)
		}
		return devauth.NewProvider(devauth.Config{
			UserID:   cfg.DevAuth.UserID,
			Email:    cfg.DevAuth.Email,
			Role:     cfg.DevAuth.Role,
			Password: cfg.DevAuth.Password,
		})
	case config.AuthModeOAuth:
		prov, err := oidc.NewProvider(oidc.ProviderConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Scope:        cfg.OAuth.Scope,
			DiscoveryURL: cfg.OAuth.DiscoveryURL,
			LogoutURL:    cfg.OAuth.LogoutURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		return prov, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// BuildBackendClient creates the Backend API client, or nil when no backend
// is configured.
func BuildBackendClient(cfg config.BackendConfig, auth backendapi.Authorizer) (*backendapi.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return backendapi.NewClient(backendapi.Config{
		BaseURL:    cfg.URL,
		Timeout:    cfg.Timeout,
		RetryLimit: cfg.RetryLimit,
		Demo:       cfg.Demo,
	}, auth)
}

// RoleLookupDeps holds the backends a role chain may draw from.
type RoleLookupDeps struct {
	DB      *sql.DB
	Backend *backendapi.Client
	// Claims is used for the claims source when set.
	Claims ports.RoleLookup
}

var errSourceUnavailable = errors.New("role source has no backing dependency")

// BuildRoleLookup chains the configured sources in order. A source whose
// dependency is missing is an error so misconfiguration fails at startup.
//
//nolint:ireturn // callers only need the port.
func BuildRoleLookup(sources []config.RoleSource, deps RoleLookupDeps) (ports.RoleLookup, error) {
	lookups := make([]ports.RoleLookup, 0, len(sources))
	for _, src := range sources {
		switch src {
		case config.RoleSourceDB:
			if deps.DB == nil {
				return nil, fmt.Errorf("%w: %s", errSourceUnavailable, src)
			}
			lookups = append(lookups, data.NewUserRoleRepository(deps.DB))
		case config.RoleSourceBackend:
			if deps.Backend == nil {
				return nil, fmt.Errorf("%w: %s (set BACKEND_URL or BACKEND_DEMO)", errSourceUnavailable, src)
			}
			lookups = append(lookups, deps.Backend)
		case config.RoleSourceClaims:
			if deps.Claims == nil {
				continue
			}
			lookups = append(lookups, deps.Claims)
		}
	}
	if len(lookups) == 0 {
		return nil, nil
	}
	return authroles.Chain(lookups...), nil
}

// AuthServiceDeps contains everything BuildAuthService wires together.
type AuthServiceDeps struct {
	Config      *config.AppConfig
	Issuer      ports.SessionIssuer
	RedisClient redis.UniversalClient
	DB          *sql.DB
	Backend     *backendapi.Client
	Metrics     statsd.Sink
	Logger      *slog.Logger
}

// BuildAuthService creates the gateway auth service. Sessions live in Redis.
// The claims source is consulted last against the session's own token.
func BuildAuthService(deps AuthServiceDeps) (*service.AuthService, error) {
	if deps.Config == nil {
		return nil, errors.New("auth service requires config")
	}
	if deps.RedisClient == nil {
		return nil, errors.New("auth service requires a redis client for sessions")
	}
	cfg := deps.Config.Auth

	sources, err := deps.Config.RoleSources()
	if err != nil {
		return nil, err
	}
	lookup, err := BuildRoleLookup(sources, RoleLookupDeps{DB: deps.DB, Backend: deps.Backend})
	if err != nil {
		return nil, err
	}

	opts := service.AuthServiceOptions{
		Issuer: deps.Issuer,
		Sessions: redisadapter.NewSessionStoreWithOptions(deps.RedisClient, redisadapter.SessionStoreOptions{
			Prefix:           cfg.Sessions.KeyPrefix,
			RefreshRetention: cfg.Sessions.Retention,
		}),
		Logger:        deps.Logger,
		Metrics:       deps.Metrics,
		RefreshLeeway: cfg.Sessions.RefreshLeeway,
	}
	if lookup != nil {
		opts.Roles = authstate.NewRoleResolver(authstate.RoleResolverOptions{
			Lookup:  lookup,
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
			Source:  sourceTag(sources),
			Timeout: cfg.Roles.LookupTimeout,
		})
	}
	if hasSource(sources, config.RoleSourceClaims) {
		mapper, mapErr := authroles.NewClaimsMapper(cfg.Roles.ClaimExpression)
		if mapErr != nil {
			return nil, mapErr
		}
		opts.Claims = mapper
	}
	if cfg.RecordUsers && deps.DB != nil {
		opts.Users = data.NewUserRoleRepository(deps.DB)
	}
	return service.NewAuthService(opts)
}

func hasSource(sources []config.RoleSource, want config.RoleSource) bool {
	for _, s := range sources {
		if s == want {
			return true
		}
	}
	return false
}

// sourceTag names the lookup for metrics: the first non-claims source.
func sourceTag(sources []config.RoleSource) string {
	for _, s := range sources {
		if s != config.RoleSourceClaims {
			return string(s)
		}
	}
	return "chain"
}
