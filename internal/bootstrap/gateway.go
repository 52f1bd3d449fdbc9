package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/studyhub/config"
	httpx "github.com/target/studyhub/internal/http"
	"github.com/target/studyhub/internal/service"
)

// GatewayDeps contains the connected infrastructure the gateway runs on.
type GatewayDeps struct {
	Config      *config.AppConfig
	Auth        *service.AuthService
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// BuildGatewayHandler assembles the router for the configured deployment.
func BuildGatewayHandler(deps GatewayDeps) (http.Handler, error) {
	if deps.Config == nil {
		return nil, errors.New("gateway requires config")
	}
	if deps.Auth == nil {
		return nil, errors.New("gateway requires an auth service")
	}
	cfg := deps.Config

	var backendURL *url.URL
	if cfg.Backend.URL != "" {
		u, err := url.Parse(cfg.Backend.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid BACKEND_URL %q", cfg.Backend.URL)
		}
		backendURL = u
	}

	return httpx.NewRouter(httpx.RouterServices{
		Auth:             deps.Auth,
		BackendURL:       backendURL,
		CookieDomain:     cfg.HTTP.CookieDomain,
		SessionRetention: cfg.Auth.Sessions.Retention,
		DisableCSRF:      !cfg.HTTP.CSRFEnabled,
		Readiness:        readinessChecks(deps.DB, deps.RedisClient),
		Logger:           deps.Logger,
	})
}

func readinessChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// RunGateway serves the handler until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func RunGateway(ctx context.Context, handler http.Handler, cfg config.HTTPConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})
	return g.Wait()
}
