package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SealKeySize is the AES-256 key size
const SealKeySize = 32

// sealVersion prefixes every sealed value so the format can change later
const sealVersion byte = 1

// Every replica derives the same key from the shared passphrase, so the
// salt is fixed.
var sealSalt = []byte("karapace-operator/seal/v1")

var (
	// ErrEmptySecret is returned when sealing or opening nothing
	ErrEmptySecret = errors.New("empty secret")

	// ErrSealedFormat is returned for values that were not produced by Seal
	ErrSealedFormat = errors.New("malformed sealed value")
)

// SecretsManager seals values at rest with AES-256-GCM. Sealed values are
// laid out as version || nonce || ciphertext.
type SecretsManager struct {
	aead cipher.AEAD
}

// NewSecretsManager creates a SecretsManager from a raw 32 byte key
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != SealKeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", SealKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretsManager{aead: aead}, nil
}

// NewSecretsManagerFromPassword derives the key from passphrase with
// argon2id
func NewSecretsManagerFromPassword(passphrase string) (*SecretsManager, error) {
	if passphrase == "" {
		return nil, errors.New("seal passphrase is empty")
	}
	key := argon2.IDKey([]byte(passphrase), sealSalt, 2, 19*1024, 1, SealKeySize)
	return NewSecretsManager(key)
}

// Seal encrypts plaintext
func (sm *SecretsManager) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptySecret
	}

	n := sm.aead.NonceSize()
	out := make([]byte, 1+n, 1+n+len(plaintext)+sm.aead.Overhead())
	out[0] = sealVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return sm.aead.Seal(out, out[1:], plaintext, nil), nil
}

// Open decrypts a value produced by Seal
func (sm *SecretsManager) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, ErrEmptySecret
	}
	n := sm.aead.NonceSize()
	if len(sealed) < 1+n+sm.aead.Overhead() || sealed[0] != sealVersion {
		return nil, ErrSealedFormat
	}

	plain, err := sm.aead.Open(nil, sealed[1:1+n], sealed[1+n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plain, nil
}
