package db

import (
	"errors"
	"path/filepath"
	"testing"

	"wallet-engine/internal/config"
	"wallet-engine/internal/logging"
	"wallet-engine/internal/models"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "nested", "wallets.db"),
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func TestMigrate_CreatesSchemaAndRecordsVersions(t *testing.T) {
	gdb := openTestDB(t)
	log := logging.Discard()

	if err := Migrate(gdb, log); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	for _, field := range []string{"NextActionTime", "NextSecondaryActionTime", "LastResourceClaimTime", "SocialStatus"} {
		if !gdb.Migrator().HasColumn(&models.Wallet{}, field) {
			t.Errorf("Expected column for %s", field)
		}
	}

	version, err := SchemaVersion(gdb)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	last := Migrations()[len(Migrations())-1].Version
	if version != last {
		t.Errorf("Expected schema version %s, got %s", last, version)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	gdb := openTestDB(t)
	log := logging.Discard()

	for i := 0; i < 3; i++ {
		if err := Migrate(gdb, log); err != nil {
			t.Fatalf("Migrate run %d failed: %v", i+1, err)
		}
	}

	var count int64
	gdb.Model(&models.SchemaMigration{}).Count(&count)
	if int(count) != len(Migrations()) {
		t.Errorf("Expected %d migration records, got %d", len(Migrations()), count)
	}
}

func TestMigrate_UpgradesV1StoreAndKeepsRows(t *testing.T) {
	gdb := openTestDB(t)
	log := logging.Discard()

	// A store created by the first release, before the version log existed.
	if err := gdb.Migrator().CreateTable(&walletV1{}); err != nil {
		t.Fatalf("create v1 table: %v", err)
	}
	if err := gdb.Exec("INSERT INTO wallets (private_key, address, proxy_status, social_status, completed_count, created_at, updated_at) VALUES ('k1', '0xabc', '', 'OK', 4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)").Error; err != nil {
		t.Fatalf("seed v1 row: %v", err)
	}

	if err := Migrate(gdb, log); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	var w models.Wallet
	if err := gdb.Where("address = ?", "0xabc").First(&w).Error; err != nil {
		t.Fatalf("load migrated row: %v", err)
	}
	if w.CompletedCount != 4 {
		t.Errorf("Expected completed_count preserved, got %d", w.CompletedCount)
	}
	if w.ProxyStatus != models.ResourceStatusOK {
		t.Errorf("Expected backfilled proxy status OK, got %q", w.ProxyStatus)
	}
	if w.NextSecondaryActionTime != nil || w.LastResourceClaimTime != nil {
		t.Error("Expected new timestamp columns to default to NULL")
	}
}

func TestRunMigrations_FailedStepIsNotRecorded(t *testing.T) {
	gdb := openTestDB(t)
	log := logging.Discard()

	boom := errors.New("boom")
	err := RunMigrations(gdb, []Migration{
		{Version: "x1", Description: "ok", Up: func(*gorm.DB) error { return nil }},
		{Version: "x2", Description: "fails", Up: func(*gorm.DB) error { return boom }},
	}, log)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom error, got %v", err)
	}

	var versions []string
	gdb.Model(&models.SchemaMigration{}).Order("version").Pluck("version", &versions)
	if len(versions) != 1 || versions[0] != "x1" {
		t.Errorf("Expected only x1 recorded, got %v", versions)
	}
}
