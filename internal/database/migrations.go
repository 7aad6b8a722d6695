package database

import (
	"errors"
	"time"

	"github.com/ooblik/drive-backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClearPlaintextMagicTokens = "2026-05-12_clear_plaintext_magic_tokens"

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
		{name: migrationClearPlaintextMagicTokens, apply: clearPlaintextMagicTokens},
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

// clearPlaintextMagicTokens invalidates rows written before token hashing was
// introduced. Pre-hashing rows stored the raw token, which never matches a
// 64-character hex digest, so those tokens can only be cleared, not converted.
func clearPlaintextMagicTokens(db *gorm.DB) error {
	return db.Model(&auth.Space{}).
		Where("magic_token_hash IS NOT NULL AND (LENGTH(magic_token_hash) <> 64 OR magic_token_hash GLOB '*[^0-9a-f]*')").
		Updates(map[string]interface{}{"magic_token_hash": nil, "token_expires_at": nil}).Error
}
