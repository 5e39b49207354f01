package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// PasswordLength is the length of generated credentials
	PasswordLength = 32

	// SaltLength is the length of generated hashing salts
	SaltLength = 16

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GeneratePassword returns a random alphanumeric string of the given length.
// Alphanumerics keep the value safe to pass as a command argument.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("password length must be positive, got %d", length)
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// IsSafeSecret reports whether a caller supplied secret only uses the
// generator's alphabet
func IsSafeSecret(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
