package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/target/studyhub/internal/data/cryptoutil"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// Vault implements ports.SessionVault. Records are sealed before they are
// written and never expire on their own; the client clears them on sign-out.
type Vault struct {
	client redis.UniversalClient
	prefix string
	sealer cryptoutil.Sealer
}

var _ ports.SessionVault = (*Vault)(nil)

// NewVault creates a vault. A nil sealer stores records unencrypted.
func NewVault(client redis.UniversalClient, prefix string, sealer cryptoutil.Sealer) *Vault {
	if prefix == "" {
		prefix = "vault:"
	}
	if sealer == nil {
		sealer = cryptoutil.PlainSealer{}
	}
	return &Vault{client: client, prefix: prefix, sealer: sealer}
}

// Load returns the stored session or ErrNotFound.
func (v *Vault) Load(ctx context.Context, key string) (domainauth.Session, error) {
	name := v.prefix + key
	raw, err := v.client.Get(ctx, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}
	pt, err := v.sealer.Open(name, raw)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("open vault record: %w", err)
	}
	var sess domainauth.Session
	if err := json.Unmarshal(pt, &sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal vault record: %w", err)
	}
	return sess, nil
}

// Store seals and writes the session.
func (v *Vault) Store(ctx context.Context, key string, sess domainauth.Session) error {
	name := v.prefix + key
	pt, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal vault record: %w", err)
	}
	sealed, err := v.sealer.Seal(name, pt)
	if err != nil {
		return fmt.Errorf("seal vault record: %w", err)
	}
	return v.client.Set(ctx, name, sealed, 0).Err()
}

// Clear removes the session.
func (v *Vault) Clear(ctx context.Context, key string) error {
	return v.client.Del(ctx, v.prefix+key).Err()
}
