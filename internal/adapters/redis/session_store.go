// Package redis provides Redis-backed session, mirror and vault storage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// ErrNotFound is returned when a key is absent. It is ports.ErrNotFound so
// callers can match on either.
var ErrNotFound = ports.ErrNotFound

// DefaultRefreshRetention is how long a refreshable session outlives its
// access token expiry.
const DefaultRefreshRetention = 7 * 24 * time.Hour

// SessionStoreOptions configures a SessionStore.
type SessionStoreOptions struct {
	Prefix string // default "session:"
	// RefreshRetention extends the key TTL past ExpiresAt for sessions that
	// carry a refresh token, so an expired access token can still be refreshed.
	RefreshRetention time.Duration
	Now              func() time.Time
}

// SessionStore is the gateway's server-side session store. Key TTL follows
// the session expiry.
type SessionStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a session store with default options.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithOptions(client, SessionStoreOptions{})
}

// NewSessionStoreWithOptions creates a session store with custom options.
func NewSessionStoreWithOptions(client redis.UniversalClient, opts SessionStoreOptions) *SessionStore {
	if opts.Prefix == "" {
		opts.Prefix = "session:"
	}
	if opts.RefreshRetention <= 0 {
		opts.RefreshRetention = DefaultRefreshRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionStore{client: client, prefix: opts.Prefix, retention: opts.RefreshRetention, now: opts.Now}
}

func (s *SessionStore) ttl(sess domainauth.Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(s.now())
	if sess.RefreshToken != "" {
		if ttl < 0 {
			ttl = 0
		}
		ttl += s.retention
	}
	return ttl
}

// Save writes the session. Sessions that are expired and cannot be refreshed are rejected.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.StoredSession) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	ttl := s.ttl(sess.Session)
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+sess.ID, data, ttl).Err()
}

// Get loads a session. An expired session without a refresh token is
// removed and reported as ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.StoredSession, error) {
	if id == "" {
		return domainauth.StoredSession{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.StoredSession{}, ErrNotFound
		}
		return domainauth.StoredSession{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.StoredSession
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.StoredSession{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	if sess.Session.RefreshToken == "" && sess.Session.Expired(s.now()) {
		if deleteErr := s.Delete(ctx, id); deleteErr != nil {
			return domainauth.StoredSession{}, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return domainauth.StoredSession{}, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+id).Err()
}
