package config

import (
	"strings"
	"time"
)

// HTTPConfig contains gateway HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CSRFEnabled turns on double-submit checks for unsafe methods.
	CSRFEnabled bool `env:"HTTP_CSRF_ENABLED" envDefault:"true"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if strings.TrimSpace(h.Addr) == "" {
		h.Addr = ":8080"
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

// BackendConfig describes the Backend API the gateway fronts.
type BackendConfig struct {
	// URL is the Backend API base URL. Empty disables the /api proxy and the
	// backend role source.
	URL        string        `env:"URL"`
	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"RETRY_LIMIT" envDefault:"2"`
	// ServiceToken authorizes the gateway's own role lookups.
	ServiceToken string `env:"SERVICE_TOKEN"`
	// Demo answers role and identity calls locally without a backend.
	Demo bool `env:"DEMO" envDefault:"false"`
}

// Sanitize normalises backend configuration values.
func (b *BackendConfig) Sanitize() {
	b.URL = strings.TrimRight(strings.TrimSpace(b.URL), "/")
	if b.Timeout <= 0 {
		b.Timeout = 5 * time.Second
	}
	if b.RetryLimit < 0 {
		b.RetryLimit = 0
	}
}

// Enabled reports whether a backend is reachable or simulated.
func (b *BackendConfig) Enabled() bool {
	return b.URL != "" || b.Demo
}
