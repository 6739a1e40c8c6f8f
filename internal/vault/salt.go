package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadOrCreateSalt reads the salt at path, generating it on first use. The
// file is created with O_EXCL so an existing salt is never rewritten, even
// when two processes race on first start.
func LoadOrCreateSalt(path string) (salt []byte, created bool, err error) {
	salt, err = readSalt(path)
	if err == nil {
		return salt, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create salt directory: %w", err)
	}

	salt = make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, false, fmt.Errorf("failed to generate salt: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		salt, err = readSalt(path)
		return salt, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create salt file: %w", err)
	}
	if _, err := f.Write(salt); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("failed to write salt file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("failed to sync salt file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, false, err
	}
	return salt, true, nil
}

func readSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt file %s is too short (%d bytes)", path, len(salt))
	}
	return salt, nil
}
