package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/adapters/backendapi"
	"github.com/target/studyhub/internal/bootstrap"
	"github.com/target/studyhub/internal/observability/statsd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if lvlErr := bootstrap.SetLogLevel(cfg.Observability.LogLevel); lvlErr != nil {
		logger.WarnContext(ctx, "invalid log level, keeping info", "error", lvlErr)
	}
	logStartupInfo(ctx, logger, &cfg)

	metrics := bootstrap.BuildMetrics(cfg.Observability.Metrics, logger)
	defer func() {
		if cerr := metrics.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close metrics failed", "error", cerr)
		}
	}()

	db, err := initDatabase(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close database failed", "error", cerr)
			}
		}()
	}

	redisClient, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	handler, err := buildHandler(&cfg, db, redisClient, metrics, logger)
	if err != nil {
		return err
	}
	return bootstrap.RunGateway(ctx, handler, cfg.HTTP, logger)
}

func buildHandler(
	cfg *config.AppConfig,
	db *sql.DB,
	redisClient redis.UniversalClient,
	metrics statsd.Sink,
	logger *slog.Logger,
) (http.Handler, error) {
	issuer, err := bootstrap.BuildIssuer(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("build issuer: %w", err)
	}
	backend, err := bootstrap.BuildBackendClient(cfg.Backend, backendapi.StaticToken(cfg.Backend.ServiceToken))
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}
	auth, err := bootstrap.BuildAuthService(bootstrap.AuthServiceDeps{
		Config:      cfg,
		Issuer:      issuer,
		RedisClient: redisClient,
		DB:          db,
		Backend:     backend,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build auth service: %w", err)
	}
	return bootstrap.BuildGatewayHandler(bootstrap.GatewayDeps{
		Config:      cfg,
		Auth:        auth,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
}

// initDatabase connects Postgres only when a role source or user recording
// needs it.
func initDatabase(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*sql.DB, error) {
	if !cfg.UsesDatabase() {
		logger.InfoContext(ctx, "skipping database connection", "reason", "no component uses postgres")
		return nil, nil
	}
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cfg.Postgres,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if !cfg.Postgres.RunMigrationsOnStart {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		return db, nil
	}
	if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database after migration failure", "error", cerr)
		}
		return nil, err
	}
	return db, nil
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting studyhub gateway",
		"addr", cfg.HTTP.Addr,
		"auth_mode", cfg.Auth.Mode,
		"role_sources", cfg.Auth.Roles.Sources,
		"backend", cfg.Backend.URL,
		"backend_demo", cfg.Backend.Demo,
		"dev", cfg.IsDev)
}
