package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ooblik/drive-backend/internal/admin"
	"github.com/ooblik/drive-backend/internal/audit"
	"github.com/ooblik/drive-backend/internal/auth"
	"github.com/ooblik/drive-backend/internal/settings"
	"github.com/ooblik/drive-backend/internal/upload"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&auth.Space{},
		&auth.SpacePrivate{},
		&auth.UserSession{},
		&admin.User{},
		&admin.Session{},
		&upload.File{},
		&settings.Record{},
		&audit.Entry{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	return db, nil
}
