package httpx

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/target/studyhub/internal/domain/auth"
)

const (
	apiPrefix      = "/api"
	adminAPIPrefix = "/api/admin/"
)

// RouterServices holds everything the gateway router needs.
type RouterServices struct {
	Auth AuthServiceInterface
	// BackendURL enables the /api/ proxy when set.
	BackendURL       *url.URL
	BackendTransport http.RoundTripper
	CookieDomain     string
	SessionRetention time.Duration
	// DisableCSRF turns off double-submit checks, for API-only deployments
	// where no browser holds the session cookie.
	DisableCSRF bool
	Readiness   map[string]ReadinessCheck
	Logger      *slog.Logger
}

// NewRouter creates the gateway handler with its middleware chain.
func NewRouter(services RouterServices) (http.Handler, error) {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readinessHandler(services.Readiness, logger))

	authHandlers := &AuthHandlers{
		Svc:              services.Auth,
		Logger:           logger,
		Cookies:          cookieJar{domain: services.CookieDomain},
		SessionRetention: services.SessionRetention,
	}
	registerAuthRoutes(mux, authHandlers)

	if services.BackendURL != nil {
		proxy, err := NewAPIProxy(APIProxyOptions{
			Target:    services.BackendURL,
			Prefix:    apiPrefix,
			Auth:      services.Auth,
			Logger:    logger,
			Transport: services.BackendTransport,
		})
		if err != nil {
			return nil, err
		}
		mux.Handle(adminAPIPrefix, RequireRole(services.Auth, domainauth.RoleAdmin)(proxy))
		mux.Handle(apiPrefix+"/", proxy)
	}

	var handler http.Handler = mux
	if !services.DisableCSRF {
		handler = CSRFProtection(CSRFConfig{CookieDomain: services.CookieDomain})(handler)
	}
	return Recover(logger)(Logging(logger)(handler)), nil
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/password", h.PasswordLogin)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/session", h.Session)
	mux.HandleFunc("GET /auth/me", h.Me)
}
