package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/storage/migrations"
)

// StoredCredential is the sqlite row behind the remembered login. There is at most one.
type StoredCredential struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"type:varchar(255);not null"`
	Secret    string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (StoredCredential) TableName() string {
	return "stored_credentials"
}

// VerificationRecord is one finished verification session in the local journal.
type VerificationRecord struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Channel    string         `gorm:"type:varchar(16);not null;index" json:"channel"`
	TargetID   string         `gorm:"type:varchar(64);not null" json:"target_id"`
	Contact    string         `gorm:"type:varchar(255)" json:"contact"`
	ServerID   string         `gorm:"type:varchar(255)" json:"server_id"`
	Outcome    string         `gorm:"type:varchar(32);not null;index" json:"outcome"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	OperatorID string         `gorm:"type:varchar(64)" json:"operator_id"`
	Detail     datatypes.JSON `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `gorm:"not null;index" json:"finished_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (VerificationRecord) TableName() string {
	return "verification_records"
}

// Open opens (creating if needed) the sqlite database at dsn and applies migrations.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "empty dsn")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "storage.open", "create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "open database", err)
	}
	if _, err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate registers and runs every schema migration.
func Migrate(db *gorm.DB) ([]string, error) {
	mm := NewMigrationManager(db)
	registerAll(mm)
	return mm.RunMigrations()
}

func registerAll(mm *MigrationManager) {
	mm.AddMigration(&migrations.Migration001Credentials{})
	mm.AddMigration(&migrations.Migration002VerificationJournal{})
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "get sql db", err)
	}
	return sqlDB.Close()
}
