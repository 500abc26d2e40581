package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)

	ran, err := Migrate(db)
	require.NoError(t, err)
	assert.Empty(t, ran, "second run should apply nothing")

	history, err := NewMigrationManager(db).GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assert.True(t, db.Migrator().HasTable("stored_credentials"))
	assert.True(t, db.Migrator().HasTable("verification_records"))
}

func TestRollbackMigration(t *testing.T) {
	db := openTestDB(t)

	err := NewMigrationManager(db).RollbackMigration("002_verification_journal")
	require.Error(t, err, "unregistered migrations cannot be rolled back")

	_, err = Migrate(db)
	require.NoError(t, err)

	full := NewMigrationManager(db)
	full.AddMigration(migrationByVersion(t, "002_verification_journal"))
	require.NoError(t, full.RollbackMigration("002_verification_journal"))
	assert.False(t, db.Migrator().HasTable("verification_records"))

	err = full.RollbackMigration("002_verification_journal")
	assert.Error(t, err)
}

func migrationByVersion(t *testing.T, version string) Migration {
	t.Helper()
	mm := NewMigrationManager(nil)
	registerAll(mm)
	for _, m := range mm.migrations {
		if m.Version() == version {
			return m
		}
	}
	t.Fatalf("migration %s not registered", version)
	return nil
}

func TestVerificationRecordRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewVerificationRecordRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	records := []VerificationRecord{
		{Channel: "email", TargetID: "m-1", Outcome: "completed", Attempts: 1, FinishedAt: base},
		{Channel: "sms", TargetID: "m-2", Outcome: "failed", Attempts: 5, FinishedAt: base.Add(10 * time.Minute)},
		{Channel: "email", TargetID: "m-3", Outcome: "cancelled", FinishedAt: base.Add(20 * time.Minute),
			Detail: datatypes.JSON(`{"reason":"operator"}`)},
	}
	for i := range records {
		require.NoError(t, repo.Save(ctx, &records[i]))
		assert.NotEmpty(t, records[i].ID)
	}

	all, err := repo.List(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m-3", all[0].TargetID, "newest first")

	emails, err := repo.List(ctx, JournalFilter{Channel: "email", Limit: 1})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "m-3", emails[0].TargetID)

	counts, err := repo.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"completed": 1, "failed": 1, "cancelled": 1}, counts)

	pruned, err := repo.Prune(ctx, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}
