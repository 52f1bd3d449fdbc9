package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/studyhub/internal/ports"
)

// MirrorStore implements ports.MirrorStorage over plain Redis string keys.
type MirrorStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

var _ ports.MirrorStorage = (*MirrorStore)(nil)

// NewMirrorStore creates a mirror store. Keys are written as namespace+key.
// A zero ttl keeps values until they are deleted.
func NewMirrorStore(client redis.UniversalClient, namespace string, ttl time.Duration) *MirrorStore {
	return &MirrorStore{client: client, namespace: namespace, ttl: ttl}
}

// Get returns the mirrored value or ErrNotFound.
func (m *MirrorStore) Get(ctx context.Context, key string) (string, error) {
	v, err := m.client.Get(ctx, m.namespace+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Set writes the value.
func (m *MirrorStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	return m.client.Set(ctx, m.namespace+key, value, m.ttl).Err()
}

// Delete removes the value. Deleting an absent key is not an error.
func (m *MirrorStore) Delete(ctx context.Context, key string) error {
	return m.client.Del(ctx, m.namespace+key).Err()
}
