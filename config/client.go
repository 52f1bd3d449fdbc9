package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ClientConfig controls the CLI client's local state.
type ClientConfig struct {
	// StateDir holds the client's bolt database.
	StateDir string `env:"STATE_DIR"`
	// DeviceKey names this device's session in the vault.
	DeviceKey string `env:"DEVICE_KEY" envDefault:"default"`
	// MirrorKey is the storage key the access token is mirrored under.
	MirrorKey string `env:"MIRROR_KEY" envDefault:"sb-access-token"`
	// Storage selects the vault backend: bolt or redis.
	Storage string `env:"STORAGE" envDefault:"bolt"`
}

// Sanitize fills the state directory from the user config dir and
// normalises the storage backend name.
func (c *ClientConfig) Sanitize() {
	c.StateDir = strings.TrimSpace(c.StateDir)
	if c.StateDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.StateDir = filepath.Join(dir, "studyhub")
		} else {
			c.StateDir = ".studyhub"
		}
	}
	if c.DeviceKey == "" {
		c.DeviceKey = "default"
	}
	if c.MirrorKey == "" {
		c.MirrorKey = "sb-access-token"
	}
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage != "redis" {
		c.Storage = "bolt"
	}
}

// StatePath returns the path of the client's bolt database.
func (c *ClientConfig) StatePath() string {
	return filepath.Join(c.StateDir, "state.db")
}
