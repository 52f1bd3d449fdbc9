// Package bolt keeps the CLI's token mirror and session vault in one local
// bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/target/studyhub/internal/data/cryptoutil"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

var (
	mirrorBucket = []byte("mirror")
	vaultBucket  = []byte("vault")
)

// Store wraps a bbolt database holding the mirror and vault buckets.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path. Parent directories are
// created with 0700 and the file with 0600.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{mirrorBucket, vaultBucket} {
			if _, cerr := tx.CreateBucketIfNotExists(name); cerr != nil {
				return cerr
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Mirror returns the MirrorStorage view of the store.
func (s *Store) Mirror() *Mirror { return &Mirror{db: s.db} }

// Vault returns the SessionVault view of the store. A nil sealer stores
// records unencrypted.
func (s *Store) Vault(sealer cryptoutil.Sealer) *Vault {
	if sealer == nil {
		sealer = cryptoutil.PlainSealer{}
	}
	return &Vault{db: s.db, sealer: sealer}
}

func get(db *bbolt.DB, bucket []byte, key string) ([]byte, error) {
	var out []byte
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ports.ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func put(db *bbolt.DB, bucket []byte, key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

func del(db *bbolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Mirror implements ports.MirrorStorage.
type Mirror struct {
	db *bbolt.DB
}

var _ ports.MirrorStorage = (*Mirror)(nil)

// Get returns the value or an error wrapping ports.ErrNotFound.
func (m *Mirror) Get(_ context.Context, key string) (string, error) {
	v, err := get(m.db, mirrorBucket, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Set writes the value.
func (m *Mirror) Set(_ context.Context, key, value string) error {
	return put(m.db, mirrorBucket, key, []byte(value))
}

// Delete removes the value. Deleting an absent key is not an error.
func (m *Mirror) Delete(_ context.Context, key string) error {
	return del(m.db, mirrorBucket, key)
}

// Vault implements ports.SessionVault with sealed JSON records.
type Vault struct {
	db     *bbolt.DB
	sealer cryptoutil.Sealer
}

var _ ports.SessionVault = (*Vault)(nil)

// Load returns the stored session or an error wrapping ports.ErrNotFound.
func (v *Vault) Load(_ context.Context, key string) (domainauth.Session, error) {
	raw, err := get(v.db, vaultBucket, key)
	if err != nil {
		return domainauth.Session{}, err
	}
	pt, err := v.sealer.Open(key, raw)
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
func (v *Vault) Store(_ context.Context, key string, sess domainauth.Session) error {
	pt, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal vault record: %w", err)
	}
	sealed, err := v.sealer.Seal(key, pt)
	if err != nil {
		return fmt.Errorf("seal vault record: %w", err)
	}
	return put(v.db, vaultBucket, key, sealed)
}

// Clear removes the session.
func (v *Vault) Clear(_ context.Context, key string) error {
	return del(v.db, vaultBucket, key)
}
