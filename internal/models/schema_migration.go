package models

import "time"

// SchemaMigration applied migration record
type SchemaMigration struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Version     string    `gorm:"size:50;not null;uniqueIndex"`
	Description string    `gorm:"type:text"`
	ExecutedAt  time.Time `gorm:"not null"`
}

// TableName schema_migrations
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}
