package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reelgen/reelgen/internal/models"
	"gorm.io/gorm"
)

// Migration represents a single database migration.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// MigrationRecord tracks applied migrations in the database.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// migrations is the ordered registry of schema changes. New migrations are
// appended with the next version number and never edited once released.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "create videos table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Video{})
		},
	},
}

// Migrate applies all pending migrations in version order. Each migration
// runs in its own transaction together with its tracking record.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.DB.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}

	applied := make(map[string]bool)
	var records []MigrationRecord
	if err := db.DB.WithContext(ctx).Find(&records).Error; err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	for _, r := range records {
		applied[r.Version] = true
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		db.logger.InfoContext(ctx, "applying migration",
			slog.String("version", m.Version),
			slog.String("description", m.Description),
		)

		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     m.Version,
				Description: m.Description,
				AppliedAt:   time.Now(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Version, err)
		}
	}

	return nil
}
