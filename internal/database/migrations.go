package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropOrphanedChangelogRows = "2026-08-10_drop_orphaned_changelog_rows"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropOrphanedChangelogRows, apply: dropOrphanedChangelogRows},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropOrphanedChangelogRows removes changelog entries whose version row no
// longer exists. Listings already skip such rows; this keeps old databases
// from accumulating them.
func dropOrphanedChangelogRows(db *gorm.DB) error {
	return db.Exec(`DELETE FROM event_changelog WHERE NOT EXISTS (
		SELECT 1 FROM event_versions v
		WHERE v.event_id = event_changelog.event_id AND v.version = event_changelog.version
	)`).Error
}
