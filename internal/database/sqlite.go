package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ubco-db/helpme-sub002/internal/courses"
	"github.com/ubco-db/helpme-sub002/internal/notify"
	"github.com/ubco-db/helpme-sub002/internal/questions"
	"github.com/ubco-db/helpme-sub002/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// Foreign keys are switched on so question deletion cascades to votes,
// comments, and unread markers.
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

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&users.User{},
		&courses.Course{},
		&courses.Membership{},
		&questions.Question{},
		&questions.Vote{},
		&questions.Comment{},
		&questions.UnreadMarker{},
		&notify.Subscription{},
		&notify.Record{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
