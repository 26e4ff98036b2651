// Package security seals small records at rest. The license record is stored
// through a Sealer so a copied or hand-edited record reads as corrupt.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion = 1
	keyLen      = 32 // AES-256
)

// defaultSecret is used when no seal secret is configured. It binds records to
// this application, not to a deployment.
var defaultSecret = []byte("fontlens/license-record/v1/2f4c9a1e7b")

var (
	// ErrSealedTooShort is returned for input shorter than a version byte,
	// nonce and tag.
	ErrSealedTooShort = errors.New("sealed payload too short")

	// ErrTampered is returned when authentication fails.
	ErrTampered = errors.New("sealed payload failed authentication")

	// ErrUnsupportedVersion is returned for an unknown format byte.
	ErrUnsupportedVersion = errors.New("unsupported sealed payload version")
)

// Sealer encrypts and authenticates blobs with AES-256-GCM under a key derived
// by HKDF-SHA256 from a secret and a purpose label.
type Sealer struct {
	aead    cipher.AEAD
	purpose []byte
}

// NewSealer derives a key for purpose from secret. An empty secret selects the
// built-in application secret.
func NewSealer(secret []byte, purpose string) (*Sealer, error) {
	if len(secret) == 0 {
		secret = defaultSecret
	}
	if purpose == "" {
		return nil, errors.New("seal purpose must not be empty")
	}

	key := make([]byte, keyLen)
	kdf := hkdf.New(sha256.New, secret, []byte("fontlens-seal-salt"), []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead, purpose: []byte(purpose)}, nil
}

// Seal returns version || nonce || ciphertext+tag. The purpose label is bound
// as additional data.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, s.purpose), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < 1+ns+s.aead.Overhead() {
		return nil, ErrSealedTooShort
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, sealed[0])
	}
	nonce := sealed[1 : 1+ns]
	plaintext, err := s.aead.Open(nil, nonce, sealed[1+ns:], s.purpose)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

// SecureCompare compares two byte slices in constant time.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
