package migrations

import (
	"gorm.io/gorm"
)

// Migration001Credentials creates the remembered-credential table.
type Migration001Credentials struct{}

func (m *Migration001Credentials) Version() string {
	return "001_credentials"
}

func (m *Migration001Credentials) Description() string {
	return "Create stored_credentials table"
}

func (m *Migration001Credentials) Up(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS stored_credentials (
			id INTEGER PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			secret TEXT NOT NULL,
			updated_at DATETIME
		)
	`).Error
}

func (m *Migration001Credentials) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS stored_credentials`).Error
}
