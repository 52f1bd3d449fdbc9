// Package cryptoutil seals session records before they are written to a vault.
package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Sealer encrypts and decrypts records. The record name is bound to the
// ciphertext so a sealed value cannot be replayed under another name.
type Sealer interface {
	Seal(name string, plaintext []byte) ([]byte, error)
	Open(name string, sealed []byte) ([]byte, error)
}

var (
	prefixV1    = []byte("v1:")
	prefixPlain = []byte("plain:")

	// ErrUnknownFormat is returned by Open for data without a known prefix.
	ErrUnknownFormat = errors.New("unknown sealed format")
)

// AESGCMSealer implements Sealer using AES-256-GCM.
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer constructs a sealer. Key must be 32 bytes (AES-256).
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCMSealer{aead: aead}, nil
}

// KeyFromPassphrase derives a 32-byte key from an operator-supplied secret.
func KeyFromPassphrase(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Seal returns "v1:" followed by nonce||ciphertext.
func (s *AESGCMSealer) Seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(prefixV1)+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, prefixV1...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, []byte(name)), nil
}

// Open decrypts data produced by Seal. Plain records written before a key
// was configured are still readable.
func (s *AESGCMSealer) Open(name string, sealed []byte) ([]byte, error) {
	if bytes.HasPrefix(sealed, prefixPlain) {
		return PlainSealer{}.Open(name, sealed)
	}
	if !bytes.HasPrefix(sealed, prefixV1) {
		return nil, ErrUnknownFormat
	}
	data := sealed[len(prefixV1):]
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New("ciphertext too short")
	}
	pt, err := s.aead.Open(nil, data[:n], data[n:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("open sealed record: %w", err)
	}
	return pt, nil
}

// PlainSealer stores plaintext behind a marker prefix. Used when no key is configured.
type PlainSealer struct{}

// Seal implements Sealer.
func (PlainSealer) Seal(_ string, plaintext []byte) ([]byte, error) {
	return append(append([]byte(nil), prefixPlain...), plaintext...), nil
}

// Open implements Sealer.
func (PlainSealer) Open(_ string, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, prefixPlain) {
		return nil, ErrUnknownFormat
	}
	return append([]byte(nil), sealed[len(prefixPlain):]...), nil
}

// New returns an AES-GCM sealer for a non-empty passphrase and a PlainSealer otherwise.
func New(passphrase string) (Sealer, error) {
	if passphrase == "" {
		return PlainSealer{}, nil
	}
	return NewAESGCMSealer(KeyFromPassphrase(passphrase))
}
