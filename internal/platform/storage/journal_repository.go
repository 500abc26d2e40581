package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"merchant-verify-client/internal/platform/errors"
)

// JournalFilter narrows a journal listing. Zero values match everything.
type JournalFilter struct {
	Channel string
	Outcome string
	Since   time.Time
	Limit   int
}

// MaxJournalPage caps a single listing.
const MaxJournalPage = 100

// VerificationRecordRepository persists finished verification sessions.
type VerificationRecordRepository struct {
	db *gorm.DB
}

func NewVerificationRecordRepository(db *gorm.DB) *VerificationRecordRepository {
	return &VerificationRecordRepository{db: db}
}

// Save inserts a record, assigning an id and finish time when missing.
func (r *VerificationRecordRepository) Save(ctx context.Context, rec *VerificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "journal.save", "failed to save verification record", err)
	}
	return nil
}

// List returns records newest first.
func (r *VerificationRecordRepository) List(ctx context.Context, filter JournalFilter) ([]VerificationRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > MaxJournalPage {
		limit = MaxJournalPage
	}

	q := r.db.WithContext(ctx).Model(&VerificationRecord{})
	if filter.Channel != "" {
		q = q.Where("channel = ?", filter.Channel)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		q = q.Where("finished_at >= ?", filter.Since)
	}

	var records []VerificationRecord
	if err := q.Order("finished_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "journal.list", "failed to list verification records", err)
	}
	return records, nil
}

// CountByOutcome aggregates the journal for the metrics endpoint.
func (r *VerificationRecordRepository) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Outcome string
		Total   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&VerificationRecord{}).
		Select("outcome, COUNT(*) AS total").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "journal.count", "failed to count verification records", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.Total
	}
	return out, nil
}

// Prune deletes records finished before the cutoff.
func (r *VerificationRecordRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("finished_at < ?", before).Delete(&VerificationRecord{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "journal.prune", "failed to prune verification records", res.Error)
	}
	return res.RowsAffected, nil
}
