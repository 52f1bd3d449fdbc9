package authstate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// DefaultMirrorKey is the storage key holding the mirrored access token.
const DefaultMirrorKey = "studyhub:access_token"

// Mirror copies the live access token into side storage so plain REST
// clients can attach it. The entry exists iff a session exists.
type Mirror struct {
	storage ports.MirrorStorage
	key     string
	logger  *slog.Logger
}

// NewMirror creates a Mirror. An empty key uses DefaultMirrorKey.
func NewMirror(storage ports.MirrorStorage, key string, logger *slog.Logger) *Mirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{storage: storage, key: key, logger: logger.With("component", "token_mirror")}
}

// Key returns the storage key.
func (m *Mirror) Key() string { return m.key }

// Sync writes the session's access token or deletes the entry for a nil
// session. Storage failures are logged and swallowed.
func (m *Mirror) Sync(ctx context.Context, sess *domainauth.Session) {
	if m == nil || m.storage == nil {
		return
	}
	if sess == nil || sess.AccessToken == "" {
		if err := m.storage.Delete(ctx, m.key); err != nil && !errors.Is(err, ports.ErrNotFound) {
			m.logger.WarnContext(ctx, "token mirror delete failed", "error", err)
		}
		return
	}
	if err := m.storage.Set(ctx, m.key, sess.AccessToken); err != nil {
		m.logger.WarnContext(ctx, "token mirror write failed", "error", err)
	}
}

// Token returns the mirrored access token. A missing or empty entry, or a
// storage failure, reports false.
func (m *Mirror) Token(ctx context.Context) (string, bool) {
	if m == nil || m.storage == nil {
		return "", false
	}
	tok, err := m.storage.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			m.logger.WarnContext(ctx, "token mirror read failed", "error", err)
		}
		return "", false
	}
	return tok, tok != ""
}

// AuthorizeRequest sets a bearer Authorization header when a token is
// mirrored and removes any existing header otherwise.
func (m *Mirror) AuthorizeRequest(req *http.Request) bool {
	tok, ok := m.Token(req.Context())
	if !ok {
		req.Header.Del("Authorization")
		return false
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return true
}
