// Package vault encrypts and decrypts wallet private keys at rest with a key
// derived from the operator's password.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Marker prefixes every ciphertext the vault produces
	Marker = "enc:v1:"

	// DefaultIterations PBKDF2-SHA256 work factor
	DefaultIterations = 600_000

	// MinSaltSize smallest salt accepted from disk
	MinSaltSize = 16
)

// ErrInvalidCredential wrong password or unreadable ciphertext
var ErrInvalidCredential = errors.New("invalid credential")

// CredentialError carries why a decrypt was refused. It matches
// ErrInvalidCredential with errors.Is.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid credential: %s: %v", e.Reason, e.Err)
	}
	return "invalid credential: " + e.Reason
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrInvalidCredential
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Option tunes vault construction
type Option func(*options)

type options struct {
	iterations int
}

// WithIterations overrides the PBKDF2 work factor
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// Vault holds the derived key. It is built once at startup and shared
// read-only by every task.
type Vault struct {
	aead    cipher.AEAD
	enabled bool
}

// DeriveKey stretches password with salt into a 32 byte key
func DeriveKey(password string, salt []byte, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes, got %d", MinSaltSize, len(salt))
	}
	if iterations < 1 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, chacha20poly1305.KeySize, sha256.New), nil
}

// New derives the key for password and returns an enabled vault
func New(password string, salt []byte, opts ...Option) (*Vault, error) {
	o := options{iterations: DefaultIterations}
	for _, opt := range opts {
		opt(&o)
	}

	key, err := DeriveKey(password, salt, o.iterations)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return &Vault{aead: aead, enabled: true}, nil
}

// Disabled returns a vault for private_key_encryption=false: plaintext keys
// pass through and any stored ciphertext is refused.
func Disabled() *Vault {
	return &Vault{}
}

// Enabled reports whether the vault encrypts new keys
func (v *Vault) Enabled() bool {
	return v != nil && v.enabled
}

// IsEncrypted reports whether value carries the ciphertext marker
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Marker)
}

// Encrypt seals plaintext. Values that are already encrypted, and every value
// when the vault is disabled, are returned unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.Enabled() || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), []byte(Marker))
	return Marker + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Plaintext values are returned as
// they are. It never returns partial output: any failure is a CredentialError.
func (v *Vault) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if !v.Enabled() {
		return "", &CredentialError{Reason: "key is encrypted but the vault is locked"}
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, Marker))
	if err != nil {
		return "", &CredentialError{Reason: "malformed ciphertext", Err: err}
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", &CredentialError{Reason: "ciphertext too short"}
	}

	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], []byte(Marker))
	if err != nil {
		return "", &CredentialError{Reason: "wrong password or corrupted ciphertext"}
	}
	return string(plain), nil
}
