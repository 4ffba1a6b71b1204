package database

import (
	"errors"
	"time"

	"github.com/steelhaus/shopsync/internal/outbox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOutboxRetrySchedule = "2026-03-01_backfill_outbox_retry_schedule"

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
		{name: migrationBackfillOutboxRetrySchedule, apply: backfillOutboxRetrySchedule},
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

// backfillOutboxRetrySchedule repairs rows written before next_retry_at_s
// existed, so the sweeper's due query picks them up.
func backfillOutboxRetrySchedule(db *gorm.DB) error {
	return db.Model(&outbox.OutboxItem{}).
		Where("status = ? AND next_retry_at_s = 0", outbox.StatusPending).
		Update("next_retry_at_s", gorm.Expr("created_at_s")).Error
}
