package migrations

import (
	"gorm.io/gorm"
)

// Migration002VerificationJournal creates the local record of finished verification sessions.
type Migration002VerificationJournal struct{}

func (m *Migration002VerificationJournal) Version() string {
	return "002_verification_journal"
}

func (m *Migration002VerificationJournal) Description() string {
	return "Create verification_records table and indexes"
}

func (m *Migration002VerificationJournal) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verification_records (
			id VARCHAR(36) PRIMARY KEY,
			channel VARCHAR(16) NOT NULL,
			target_id VARCHAR(64) NOT NULL,
			contact VARCHAR(255),
			server_id VARCHAR(255),
			outcome VARCHAR(32) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			operator_id VARCHAR(64),
			detail JSON,
			started_at DATETIME,
			finished_at DATETIME NOT NULL,
			created_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_verification_records_channel ON verification_records(channel)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_records_outcome ON verification_records(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_records_finished_at ON verification_records(finished_at)`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration002VerificationJournal) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS verification_records`).Error
}
