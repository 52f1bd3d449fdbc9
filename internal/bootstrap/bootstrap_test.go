package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/adapters/backendapi"
	"github.com/target/studyhub/internal/adapters/devauth"
	"github.com/target/studyhub/internal/data/cryptoutil"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/testutil"
)

func devAuthConfig() config.AuthConfig {
	cfg := config.AuthConfig{
		Mode: config.AuthModeMock,
		DevAuth: config.DevAuthConfig{
			UserID:   "dev-user",
			Email:    "dev@example.com",
			Role:     "admin",
			Password: "pw",
		},
		Roles: config.RolesConfig{
			Sources:         "claims",
			ClaimExpression: "app_metadata.role || user_metadata.role",
			LookupTimeout:   time.Second,
		},
	}
	cfg.Sanitize()
	return cfg
}

func TestBuildIssuer(t *testing.T) {
	t.Run("mock mode builds dev provider", func(t *testing.T) {
		issuer, err := BuildIssuer(devAuthConfig(), nil)
		require.NoError(t, err)
		assert.IsType(t, &devauth.Provider{}, issuer)
	})

	t.Run("oauth mode without discovery fails validation", func(t *testing.T) {
		cfg := devAuthConfig()
		cfg.Mode = config.AuthModeOAuth
		_, err := BuildIssuer(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OAUTH_DISCOVERY_URL")
	})
}

func TestBuildRoleLookup(t *testing.T) {
	t.Run("db source without database", func(t *testing.T) {
		_, err := BuildRoleLookup([]config.RoleSource{config.RoleSourceDB}, RoleLookupDeps{})
		require.ErrorIs(t, err, errSourceUnavailable)
	})

	t.Run("backend source without client", func(t *testing.T) {
		_, err := BuildRoleLookup([]config.RoleSource{config.RoleSourceBackend}, RoleLookupDeps{})
		require.ErrorIs(t, err, errSourceUnavailable)
	})

	t.Run("claims only yields no lookup", func(t *testing.T) {
		lookup, err := BuildRoleLookup([]config.RoleSource{config.RoleSourceClaims}, RoleLookupDeps{})
		require.NoError(t, err)
		assert.Nil(t, lookup)
	})

	t.Run("demo backend", func(t *testing.T) {
		backend, err := BuildBackendClient(config.BackendConfig{Demo: true}, backendapi.StaticToken("svc"))
		require.NoError(t, err)
		require.NotNil(t, backend)

		lookup, err := BuildRoleLookup([]config.RoleSource{config.RoleSourceBackend}, RoleLookupDeps{Backend: backend})
		require.NoError(t, err)
		role, err := lookup.LookupRole(context.Background(), "anyone")
		require.NoError(t, err)
		assert.Equal(t, domainauth.RoleStudent, role)
	})
}

func TestBuildBackendClient_Disabled(t *testing.T) {
	backend, err := BuildBackendClient(config.BackendConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, backend)
}

func TestBuildSealer(t *testing.T) {
	_, err := BuildSealer("", false, nil)
	require.Error(t, err)

	plain, err := BuildSealer("", true, nil)
	require.NoError(t, err)
	assert.IsType(t, cryptoutil.PlainSealer{}, plain)

	sealer, err := BuildSealer("correct horse battery staple", false, nil)
	require.NoError(t, err)
	sealed, err := sealer.Seal("vault:default", []byte("secret"))
	require.NoError(t, err)
	opened, err := sealer.Open("vault:default", sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(opened))
}

func TestBuildMetrics_DisabledDropsMetrics(t *testing.T) {
	client := BuildMetrics(config.ObservabilityMetricsConfig{}, nil)
	require.NotNil(t, client)
	client.Count("auth.login", 1, nil)
	require.NoError(t, client.Close())
}

func TestBuildAuthService_RequiresRedis(t *testing.T) {
	cfg := &config.AppConfig{Auth: devAuthConfig()}
	_, err := BuildAuthService(AuthServiceDeps{Config: cfg})
	require.Error(t, err)
}

func TestBuildAuthService_ClaimsRole(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.AppConfig{Auth: devAuthConfig()}
	issuer, err := BuildIssuer(cfg.Auth, nil)
	require.NoError(t, err)

	svc, err := BuildAuthService(AuthServiceDeps{Config: cfg, Issuer: issuer, RedisClient: rdb})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := svc.PasswordLogin(ctx, "dev@example.com", "pw")
	require.NoError(t, err)

	me, err := svc.Me(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, me.Role)
}

func TestBuildGatewayHandler(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.AppConfig{Auth: devAuthConfig()}
	issuer, err := BuildIssuer(cfg.Auth, nil)
	require.NoError(t, err)
	svc, err := BuildAuthService(AuthServiceDeps{Config: cfg, Issuer: issuer, RedisClient: rdb})
	require.NoError(t, err)

	t.Run("invalid backend url", func(t *testing.T) {
		bad := *cfg
		bad.Backend.URL = "not a url"
		_, err := BuildGatewayHandler(GatewayDeps{Config: &bad, Auth: svc})
		require.Error(t, err)
	})

	t.Run("readiness pings redis", func(t *testing.T) {
		h, err := BuildGatewayHandler(GatewayDeps{Config: cfg, Auth: svc, RedisClient: rdb})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRunGateway_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunGateway(ctx, http.NotFoundHandler(), config.HTTPConfig{
			Addr:            "127.0.0.1:0",
			ShutdownTimeout: time.Second,
		}, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestBuildClientRuntime_BoltStores(t *testing.T) {
	cfg := &config.AppConfig{
		IsDev: true,
		Auth:  devAuthConfig(),
		Client: config.ClientConfig{
			StateDir: t.TempDir(),
			Storage:  "bolt",
		},
	}
	cfg.Client.Sanitize()

	ctx := context.Background()
	sealer, err := BuildSealer("", cfg.IsDev, nil)
	require.NoError(t, err)
	stores, err := OpenClientStores(ctx, cfg, sealer, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	issuer, err := BuildIssuer(cfg.Auth, nil)
	require.NoError(t, err)
	rt, err := BuildClientRuntime(ClientDeps{Config: cfg, Issuer: issuer, Stores: stores})
	require.NoError(t, err)
	assert.Nil(t, rt.Backend)

	_, _, signedIn, err := rt.CurrentRole(ctx)
	require.NoError(t, err)
	assert.False(t, signedIn)

	_, err = rt.Auth.SignInWithPassword(ctx, "dev@example.com", "pw")
	require.NoError(t, err)

	sess, role, signedIn, err := rt.CurrentRole(ctx)
	require.NoError(t, err)
	require.True(t, signedIn)
	assert.Equal(t, "dev-user", sess.Identity.ID)
	assert.Equal(t, domainauth.RoleAdmin, role.Role)
	assert.False(t, role.Fallback)
}
