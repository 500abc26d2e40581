package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"merchant-verify-client/internal/domain/auth/model"
	"merchant-verify-client/internal/platform/storage"
)

// credentialRowID pins the single remembered credential.
const credentialRowID = 1

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed store. The schema comes from storage migrations.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Store(ctx context.Context, username, secret string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&storage.StoredCredential{}).Error; err != nil {
			return err
		}
		return tx.Create(&storage.StoredCredential{
			ID:        credentialRowID,
			Username:  username,
			Secret:    secret,
			UpdatedAt: time.Now(),
		}).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context) (model.Credentials, bool, error) {
	var row storage.StoredCredential
	err := s.db.WithContext(ctx).First(&row, credentialRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Credentials{}, false, nil
	}
	if err != nil {
		return model.Credentials{}, false, err
	}
	return model.Credentials{Username: row.Username, Secret: row.Secret, SavedAt: row.UpdatedAt}, true, nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&storage.StoredCredential{}).Error
}

func (s *sqliteStore) Has(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.StoredCredential{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close leaves the shared database open; bootstrap owns it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
