package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Authentication, session and role configuration
//   - database.go: Database and Redis configuration
//   - http.go: Gateway server and Backend API configuration
//   - client.go: CLI client configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// SessionEncryptionKey seals persisted client sessions.
	// Required for production, optional for development.
	SessionEncryptionKey string `env:"SESSION_ENCRYPTION_KEY"`

	// Authentication configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Backend API configuration
	Backend BackendConfig `envPrefix:"BACKEND_"`

	// CLI client configuration
	Client ClientConfig `envPrefix:"STUDYHUB_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Auth.Sanitize()
	c.Backend.Sanitize()
	c.Client.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// RoleSources returns the configured role lookup order.
func (c *AppConfig) RoleSources() ([]RoleSource, error) {
	return ParseRoleSources(c.Auth.Roles.Sources)
}

// UsesDatabase reports whether any configured component needs Postgres.
func (c *AppConfig) UsesDatabase() bool {
	sources, err := c.RoleSources()
	if err != nil {
		return false
	}
	for _, s := range sources {
		if s == RoleSourceDB {
			return true
		}
	}
	return c.Auth.RecordUsers
}
