package bootstrap

import (
	"log/slog"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/observability/statsd"
)

// BuildMetrics returns a StatsD client. Disabled or unreachable sinks yield a
// client that drops every metric so callers never branch on nil.
func BuildMetrics(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.StatsdAddress,
			Prefix:  cfg.Prefix,
			Logger:  logger,
		})
		if err == nil {
			return client
		}
		logger.Error("failed to initialise statsd client", "error", err)
	}
	client, _ := statsd.NewClient(statsd.Config{Logger: logger})
	return client
}
