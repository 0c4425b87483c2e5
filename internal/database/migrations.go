package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillUnreadMarkers = "2026-07-14_backfill_unread_markers"

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
		{name: migrationBackfillUnreadMarkers, apply: backfillUnreadMarkers},
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

// backfillUnreadMarkers creates the marker rows that predate marker seeding:
// one per (member, question) pair that has none, initialized read so old
// questions do not flood anyone's feed.
func backfillUnreadMarkers(db *gorm.DB) error {
	return db.Exec(
		`INSERT INTO unread_async_questions (course_id, user_id, question_id, read_latest)
		 SELECT m.course_id, m.user_id, q.id, 1
		 FROM course_memberships m
		 JOIN async_questions q ON q.course_id = m.course_id
		 WHERE NOT EXISTS (
		   SELECT 1 FROM unread_async_questions u
		   WHERE u.question_id = q.id AND u.user_id = m.user_id)`,
	).Error
}
