package db

import (
	"fmt"
	"time"

	"wallet-engine/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migration represents one schema step. Up must be idempotent: it checks the
// live schema before acting, so it is harmless on a store that already has it.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// walletV1 is the wallets table as first shipped; later columns are added by
// their own migrations.
type walletV1 struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	PrivateKey     string `gorm:"not null;uniqueIndex"`
	Address        string `gorm:"not null;uniqueIndex;size:42"`
	Proxy          *string
	ProxyStatus    string `gorm:"size:16;not null;default:OK;index"`
	SocialToken    *string
	SocialStatus   string `gorm:"size:16;not null;default:OK;index"`
	CompletedCount int    `gorm:"not null;default:0"`
	NextActionTime *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (walletV1) TableName() string { return "wallets" }

// Migrations return all schema migrations in apply order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Create wallets table",
			Up: func(tx *gorm.DB) error {
				if tx.Migrator().HasTable("wallets") {
					return nil
				}
				return tx.Migrator().CreateTable(&walletV1{})
			},
		},
		{
			Version:     "002",
			Description: "Add wallets.next_secondary_action_time",
			Up:          addWalletColumn("NextSecondaryActionTime"),
		},
		{
			Version:     "003",
			Description: "Add wallets.last_resource_claim_time",
			Up:          addWalletColumn("LastResourceClaimTime"),
		},
		{
			Version:     "004",
			Description: "Backfill empty resource statuses to OK",
			Up: func(tx *gorm.DB) error {
				for _, col := range []string{"proxy_status", "social_status"} {
					if err := tx.Exec(
						"UPDATE wallets SET "+col+" = ? WHERE "+col+" IS NULL OR "+col+" = ''",
						models.ResourceStatusOK,
					).Error; err != nil {
						return fmt.Errorf("backfill %s: %w", col, err)
					}
				}
				return nil
			},
		},
		{
			Version:     "005",
			Description: "Index wallets.next_action_time",
			Up: func(tx *gorm.DB) error {
				if tx.Migrator().HasIndex(&models.Wallet{}, "idx_wallets_next_action_time") {
					return nil
				}
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_wallets_next_action_time ON wallets (next_action_time)").Error
			},
		},
	}
}

func addWalletColumn(field string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		if tx.Migrator().HasColumn(&models.Wallet{}, field) {
			return nil
		}
		return tx.Migrator().AddColumn(&models.Wallet{}, field)
	}
}

// Migrate applies every migration not yet recorded in schema_migrations
func Migrate(gdb *gorm.DB, log *logrus.Logger) error {
	return RunMigrations(gdb, Migrations(), log)
}

// RunMigrations applies the given migrations in order, once each
func RunMigrations(gdb *gorm.DB, migrations []Migration, log *logrus.Logger) error {
	if err := gdb.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var applied []string
	if err := gdb.Model(&models.SchemaMigration{}).Pluck("version", &applied).Error; err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			log.WithField("version", m.Version).Debug("📋 Migration already applied")
			continue
		}

		log.WithFields(logrus.Fields{
			"version":     m.Version,
			"description": m.Description,
		}).Info("🚀 Running migration")

		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SchemaMigration{
				Version:     m.Version,
				Description: m.Description,
				ExecutedAt:  time.Now(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Description, err)
		}

		log.WithField("version", m.Version).Info("✅ Migration completed")
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, or "" for none
func SchemaVersion(gdb *gorm.DB) (string, error) {
	var rec models.SchemaMigration
	err := gdb.Order("version DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return "", err
	}
	return rec.Version, nil
}
