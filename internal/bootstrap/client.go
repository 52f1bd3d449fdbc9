package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/adapters/authroles"
	"github.com/target/studyhub/internal/adapters/backendapi"
	boltstore "github.com/target/studyhub/internal/adapters/bolt"
	redisadapter "github.com/target/studyhub/internal/adapters/redis"
	"github.com/target/studyhub/internal/authclient"
	"github.com/target/studyhub/internal/authstate"
	"github.com/target/studyhub/internal/data/cryptoutil"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
)

const (
	clientVaultPrefix  = "studyhub:vault:"
	clientMirrorPrefix = "studyhub:mirror:"
)

// ClientStores are the CLI's local session vault and token mirror storage.
type ClientStores struct {
	Vault  ports.SessionVault
	Mirror ports.MirrorStorage
	close  func() error
}

// Close releases the underlying database or connection.
func (s *ClientStores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenClientStores opens the configured storage backend. Bolt keeps state in
// a file under the state directory; redis shares state across devices.
func OpenClientStores(ctx context.Context, cfg *config.AppConfig, sealer cryptoutil.Sealer, logger *slog.Logger) (*ClientStores, error) {
	switch cfg.Client.Storage {
	case "redis":
		rdb, err := ConnectRedis(ctx, DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return redisClientStores(rdb, sealer), nil
	default:
		if err := os.MkdirAll(cfg.Client.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		store, err := boltstore.Open(cfg.Client.StatePath())
		if err != nil {
			return nil, err
		}
		return &ClientStores{
			Vault:  store.Vault(sealer),
			Mirror: store.Mirror(),
			close:  store.Close,
		}, nil
	}
}

func redisClientStores(rdb redis.UniversalClient, sealer cryptoutil.Sealer) *ClientStores {
	return &ClientStores{
		Vault:  redisadapter.NewVault(rdb, clientVaultPrefix, sealer),
		Mirror: redisadapter.NewMirrorStore(rdb, clientMirrorPrefix, 0),
		close:  rdb.Close,
	}
}

// ClientRuntime is the wired client-side auth stack.
type ClientRuntime struct {
	Auth       *authclient.Client
	Store      *authstate.Store
	Mirror     *authstate.Mirror
	Resolver   *authstate.RoleResolver
	Controller *authstate.Controller
	// Backend is nil when no Backend API is configured.
	Backend *backendapi.Client
}

// ClientDeps contains what BuildClientRuntime wires together.
type ClientDeps struct {
	Config    *config.AppConfig
	Issuer    ports.SessionIssuer
	Stores    *ClientStores
	Navigator ports.Navigator
	Metrics   statsd.Sink
	Logger    *slog.Logger
}

// BuildClientRuntime wires the auth client, token mirror, role resolver and
// controller. The db role source is server-side only and is skipped here.
func BuildClientRuntime(deps ClientDeps) (*ClientRuntime, error) {
	if deps.Config == nil || deps.Stores == nil {
		return nil, errors.New("client runtime requires config and stores")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := authclient.New(authclient.Options{
		Issuer:        deps.Issuer,
		Vault:         deps.Stores.Vault,
		DeviceKey:     cfg.Client.DeviceKey,
		RefreshLeeway: cfg.Auth.Sessions.RefreshLeeway,
		Logger:        logger,
		Metrics:       deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	mirror := authstate.NewMirror(deps.Stores.Mirror, cfg.Client.MirrorKey, logger)
	backend, err := BuildBackendClient(cfg.Backend, mirror)
	if err != nil {
		return nil, err
	}

	lookup, err := clientRoleLookup(cfg, backend, deps.Stores.Vault)
	if err != nil {
		return nil, err
	}
	resolver := authstate.NewRoleResolver(authstate.RoleResolverOptions{
		Lookup:  lookup,
		Logger:  logger,
		Metrics: deps.Metrics,
		Source:  "client",
		Timeout: cfg.Auth.Roles.LookupTimeout,
	})

	store := authstate.NewStore()
	controller, err := authstate.NewController(authstate.ControllerOptions{
		Provider:  client,
		Store:     store,
		Mirror:    mirror,
		Resolver:  resolver,
		Navigator: deps.Navigator,
		Logger:    logger,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &ClientRuntime{
		Auth:       client,
		Store:      store,
		Mirror:     mirror,
		Resolver:   resolver,
		Controller: controller,
		Backend:    backend,
	}, nil
}

//nolint:ireturn // the chain is consumed through the port.
func clientRoleLookup(cfg *config.AppConfig, backend *backendapi.Client, vault ports.SessionVault) (ports.RoleLookup, error) {
	sources, err := cfg.RoleSources()
	if err != nil {
		return nil, err
	}
	lookups := make([]ports.RoleLookup, 0, len(sources))
	for _, src := range sources {
		switch src {
		case config.RoleSourceBackend:
			if backend != nil {
				lookups = append(lookups, backend)
			}
		case config.RoleSourceClaims:
			mapper, mapErr := authroles.NewClaimsMapper(cfg.Auth.Roles.ClaimExpression)
			if mapErr != nil {
				return nil, mapErr
			}
			lookups = append(lookups, mapper.Lookup(vaultClaims(vault, cfg.Client.DeviceKey)))
		}
	}
	if len(lookups) == 0 {
		return nil, nil
	}
	return authroles.Chain(lookups...), nil
}

// vaultClaims reads claims from the stored session without refreshing it.
func vaultClaims(vault ports.SessionVault, key string) authroles.ClaimsSource {
	return authroles.ClaimsSourceFunc(func(ctx context.Context, identityID string) (map[string]any, error) {
		sess, err := vault.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		return authroles.SessionClaims(&sess).Claims(ctx, identityID)
	})
}

// CurrentRole resolves the role for the stored session, or reports false
// when signed out.
func (r *ClientRuntime) CurrentRole(ctx context.Context) (*domainauth.Session, domainauth.RoleResult, bool, error) {
	sess, err := r.Auth.CurrentSession(ctx)
	if err != nil {
		return nil, domainauth.RoleResult{}, false, err
	}
	if sess == nil {
		return nil, domainauth.RoleResult{}, false, nil
	}
	return sess, r.Resolver.Resolve(ctx, sess.Identity.ID), true, nil
}
