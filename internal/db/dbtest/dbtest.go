// Package dbtest opens migrated sqlite stores for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"wallet-engine/internal/config"
	"wallet-engine/internal/db"
	"wallet-engine/internal/logging"

	"gorm.io/gorm"
)

// New returns a migrated wallet store in a temp directory, closed on cleanup
func New(t testing.TB) *gorm.DB {
	t.Helper()

	log := logging.Discard()
	gdb, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "wallets.db"),
	}, log)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })

	if err := db.Migrate(gdb, log); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return gdb
}
