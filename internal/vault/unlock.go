package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"wallet-engine/internal/models"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// KeyProbe finds a stored key to validate a password against
type KeyProbe interface {
	FirstWithKeyPrefix(ctx context.Context, prefix string) (*models.Wallet, error)
}

// PasswordFunc supplies one password attempt
type PasswordFunc func() (string, error)

// Unlock derives a vault for password and confirms it against the first
// encrypted wallet in the store. An empty store (or one holding only
// plaintext keys) accepts any password, which then becomes authoritative.
func Unlock(ctx context.Context, probe KeyProbe, password string, salt []byte, opts ...Option) (*Vault, error) {
	v, err := New(password, salt, opts...)
	if err != nil {
		return nil, err
	}

	w, err := probe.FirstWithKeyPrefix(ctx, Marker)
	if err != nil {
		return nil, fmt.Errorf("failed to load probe wallet: %w", err)
	}
	if w == nil {
		return v, nil
	}

	plain, err := v.Decrypt(w.PrivateKey)
	if err != nil {
		return nil, err
	}
	addr, err := AddressFromKey(plain)
	if err != nil {
		return nil, &CredentialError{Reason: "decrypted key is not a valid private key", Err: err}
	}
	if !strings.EqualFold(addr, w.Address) {
		return nil, &CredentialError{Reason: fmt.Sprintf("decrypted key does not match wallet %d", w.ID)}
	}
	return v, nil
}

// UnlockInteractive asks for the password up to attempts times. It returns an
// error wrapping ErrInvalidCredential once every attempt was rejected.
func UnlockInteractive(ctx context.Context, probe KeyProbe, salt []byte, attempts int, ask PasswordFunc, log *logrus.Logger, opts ...Option) (*Vault, error) {
	if attempts < 1 {
		attempts = 1
	}

	for try := 1; try <= attempts; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		password, err := ask()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		if password == "" {
			log.Warnf("⚠️ Password cannot be empty (attempt %d/%d)", try, attempts)
			continue
		}

		v, err := Unlock(ctx, probe, password, salt, opts...)
		if err == nil {
			log.Info("🔐 Vault unlocked")
			return v, nil
		}
		if !errors.Is(err, ErrInvalidCredential) {
			return nil, err
		}
		log.Warnf("❌ Invalid password (attempt %d/%d)", try, attempts)
	}

	return nil, fmt.Errorf("%w: password rejected after %d attempts", ErrInvalidCredential, attempts)
}

// TerminalPassword reads a password from the controlling terminal without
// echo. WALLET_VAULT_PASSWORD, when set, is used instead so the engine can
// run unattended. With confirm the password must be typed twice.
func TerminalPassword(confirm bool) PasswordFunc {
	return func() (string, error) {
		if pw := os.Getenv("WALLET_VAULT_PASSWORD"); pw != "" {
			return pw, nil
		}

		first, err := readHidden("[VAULT] Enter password (input hidden): ")
		if err != nil {
			return "", err
		}
		if !confirm {
			return first, nil
		}
		second, err := readHidden("[VAULT] Repeat password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Fprintln(os.Stderr, "Passwords do not match")
			return "", nil
		}
		return first, nil
	}
}

func readHidden(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// AddressFromKey derives the checksummed address for a hex private key
func AddressFromKey(hexKey string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
