package bootstrap

import (
	"errors"
	"log/slog"

	"github.com/target/studyhub/internal/data/cryptoutil"
)

// BuildSealer creates the sealer for persisted sessions. An empty key stores
// records unencrypted, which is refused outside dev mode.
//
//nolint:ireturn // Returning interface is intentional for sealer abstraction
func BuildSealer(key string, isDev bool, logger *slog.Logger) (cryptoutil.Sealer, error) {
	if key == "" {
		if !isDev {
			return nil, errors.New("SESSION_ENCRYPTION_KEY is required outside dev mode")
		}
		if logger != nil {
			logger.Warn("session encryption key is empty, storing sessions unencrypted")
		}
	}
	return cryptoutil.New(key)
}
