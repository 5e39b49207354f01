package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32)},
		{name: "invalid short key", key: make([]byte, 16), wantErr: true},
		{name: "invalid long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSecretsManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && sm == nil {
				t.Error("NewSecretsManager() returned nil without error")
			}
		})
	}
}

func TestNewSecretsManagerFromPassword(t *testing.T) {
	if _, err := NewSecretsManagerFromPassword(""); err == nil {
		t.Error("expected error for empty password")
	}

	a, err := NewSecretsManagerFromPassword("peer-passphrase")
	if err != nil {
		t.Fatalf("NewSecretsManagerFromPassword() error = %v", err)
	}
	b, _ := NewSecretsManagerFromPassword("peer-passphrase")

	sealed, err := a.Seal([]byte("operator-password"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	plain, err := b.Open(sealed)
	if err != nil {
		t.Fatalf("same passphrase must derive the same key: %v", err)
	}
	if string(plain) != "operator-password" {
		t.Errorf("Open() = %q", plain)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	sm, err := NewSecretsManager(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("hunter2")
	first, err := sm.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	second, _ := sm.Seal(plaintext)
	if bytes.Equal(first, second) {
		t.Error("ciphertexts should differ because of the random nonce")
	}
	if bytes.Contains(first, plaintext) {
		t.Error("ciphertext leaks plaintext")
	}

	got, err := sm.Open(first)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestDecryptErrors(t *testing.T) {
	sm, _ := NewSecretsManager(make([]byte, 32))
	other, _ := NewSecretsManager(bytes.Repeat([]byte{1}, 32))

	sealed, _ := sm.Seal([]byte("data"))

	tests := []struct {
		name string
		data []byte
		sm   *SecretsManager
	}{
		{name: "empty", data: nil, sm: sm},
		{name: "too short", data: []byte{1, 2, 3}, sm: sm},
		{name: "wrong key", data: sealed, sm: other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sm.Open(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := sm.Seal(nil); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("Seal(nil) error = %v, want ErrEmptySecret", err)
	}

	bumped := append([]byte(nil), sealed...)
	bumped[0] = sealVersion + 1
	if _, err := sm.Open(bumped); !errors.Is(err, ErrSealedFormat) {
		t.Errorf("Open() error = %v, want ErrSealedFormat", err)
	}
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(PasswordLength)
	if err != nil {
		t.Fatalf("GeneratePassword() error = %v", err)
	}
	if len(pw) != PasswordLength {
		t.Errorf("len = %d, want %d", len(pw), PasswordLength)
	}
	if !IsSafeSecret(pw) {
		t.Errorf("generated password %q is not alphanumeric", pw)
	}

	other, _ := GeneratePassword(PasswordLength)
	if pw == other {
		t.Error("two generated passwords are equal")
	}

	if _, err := GeneratePassword(0); err == nil {
		t.Error("expected error for zero length")
	}
}

func TestIsSafeSecret(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abcXYZ019", true},
		{"", false},
		{"with space", false},
		{"semi;colon", false},
		{"dash-ed", false},
	}
	for _, tt := range tests {
		if got := IsSafeSecret(tt.in); got != tt.want {
			t.Errorf("IsSafeSecret(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
