package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLowercaseLobbyCodes      = "2026-09-14_lowercase_lobby_codes"
	migrationBackfillLevelInstruction = "2026-09-21_backfill_level_instructions"
)

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
		{name: migrationLowercaseLobbyCodes, apply: lowercaseLobbyCodes},
		{name: migrationBackfillLevelInstruction, apply: backfillLevelInstructions},
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

// Codes are compared case-insensitively; rows written before normalization keep their casing.
func lowercaseLobbyCodes(db *gorm.DB) error {
	return db.Model(&lobbies.Lobby{}).
		Where("code <> LOWER(code)").
		Update("code", gorm.Expr("LOWER(code)")).Error
}

func backfillLevelInstructions(db *gorm.DB) error {
	return db.Model(&lobbies.Level{}).
		Where("instructions IS NULL").
		Update("instructions", "{}").Error
}
