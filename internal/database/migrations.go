package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/FlashLinkLabs/flashlink/internal/linkage"
)

const migrationRepairOrphanedAttributions = "2026-06-18_repair_orphaned_attributions"

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
		{name: migrationRepairOrphanedAttributions, apply: repairOrphanedAttributions},
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

// repairOrphanedAttributions hides attributions whose owner was removed
// before removal cascaded to attribution rows.
func repairOrphanedAttributions(db *gorm.DB) error {
	return db.Model(&linkage.FlashAttribution{}).
		Where("deleted = ? AND fid IN (?)",
			false,
			db.Model(&linkage.LinkedUser{}).Select("fid").Where("deleted = ?", true),
		).
		Update("deleted", true).Error
}
