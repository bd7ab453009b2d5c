package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/repository"
)

const (
	defaultListLimit = 50
	maximumListLimit = 500
)

type ledgerStore struct {
	db *gorm.DB
}

func (s *ledgerStore) CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	record := BatchRecord{
		ID:             batch.ID.String(),
		SourceFileName: batch.SourceFileName,
		SourceChecksum: batch.SourceChecksum,
		Status:         string(batch.Status),
		StartedAt:      batch.StartedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return domain.Batch{}, fmt.Errorf("create batch: %w", err)
	}
	return batch, nil
}

func (s *ledgerStore) GetBatch(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	record, err := s.getBatchRecord(ctx, id)
	if err != nil {
		return domain.Batch{}, err
	}
	return fromBatchRecord(record)
}

func (s *ledgerStore) getBatchRecord(ctx context.Context, id uuid.UUID) (BatchRecord, error) {
	var record BatchRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BatchRecord{}, fmt.Errorf("batch %s: %w", id, repository.ErrNotFound)
		}
		return BatchRecord{}, fmt.Errorf("get batch: %w", err)
	}
	return record, nil
}

func (s *ledgerStore) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maximumListLimit {
		limit = maximumListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Offset(offset)
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}

	var records []BatchRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return fromBatchRecords(records)
}

func (s *ledgerStore) ListStaleBatches(ctx context.Context, startedBefore time.Time) ([]domain.Batch, error) {
	var records []BatchRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", string(domain.BatchStatusProcessing), startedBefore.UTC()).
		Order("started_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list stale batches: %w", err)
	}
	return fromBatchRecords(records)
}

func (s *ledgerStore) LookupKey(ctx context.Context, key string) (*domain.RowOutcome, error) {
	var record RowRecord
	err := s.db.WithContext(ctx).Where("identity_key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("look up identity key: %w", err)
	}
	outcome, err := fromRowRecord(record)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (s *ledgerStore) InsertRow(ctx context.Context, row domain.RowOutcome) error {
	record := RowRecord{
		BatchID:       row.BatchID.String(),
		RowIndex:      row.RowIndex,
		AttemptedKey:  row.IdentityKey,
		IdentityBasis: string(row.Basis),
		Status:        string(row.Status),
		Errors:        RowErrors(row.Errors),
		CreatedAt:     row.CreatedAt.UTC(),
	}
	if row.Status == domain.RowStatusCreated {
		key := row.IdentityKey
		record.IdentityKey = &key
	}
	if row.OrderID != nil {
		id := row.OrderID.String()
		record.OrderID = &id
	}

	err := s.db.WithContext(ctx).Create(&record).Error
	if isDuplicate(err, "identity_key") {
		return fmt.Errorf("identity key %q: %w", row.IdentityKey, repository.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert row outcome: %w", err)
	}
	return nil
}

func (s *ledgerStore) ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.RowOutcome, error) {
	var records []RowRecord
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID.String()).
		Order("row_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list row outcomes: %w", err)
	}

	outcomes := make([]domain.RowOutcome, 0, len(records))
	for _, record := range records {
		outcome, err := fromRowRecord(record)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *ledgerStore) CountRows(ctx context.Context, batchID uuid.UUID) (domain.BatchCounts, error) {
	type statusCount struct {
		Status string
		N      int
	}
	var rows []statusCount
	err := s.db.WithContext(ctx).
		Model(&RowRecord{}).
		Select("status, COUNT(*) AS n").
		Where("batch_id = ?", batchID.String()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.BatchCounts{}, fmt.Errorf("count row outcomes: %w", err)
	}

	var counts domain.BatchCounts
	for _, row := range rows {
		switch domain.RowStatus(row.Status) {
		case domain.RowStatusCreated:
			counts.Created = row.N
		case domain.RowStatusFailedValidation:
			counts.Failed = row.N
		}
	}
	counts.Total = counts.Created + counts.Failed
	return counts, nil
}

func (s *ledgerStore) FinalizeBatch(ctx context.Context, id uuid.UUID, counts domain.BatchCounts, status domain.BatchStatus, errorMessage *string, completedAt time.Time) (domain.Batch, error) {
	if !status.IsTerminal() {
		return domain.Batch{}, fmt.Errorf("cannot finalize batch with status %s", status)
	}

	record, err := s.getBatchRecord(ctx, id)
	if err != nil {
		return domain.Batch{}, err
	}
	if record.Status != string(domain.BatchStatusProcessing) {
		return domain.Batch{}, fmt.Errorf("batch %s already finalized: %w", id, repository.ErrConflict)
	}

	completed := completedAt.UTC()
	duration := completed.Sub(record.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	result := s.db.WithContext(ctx).
		Model(&BatchRecord{}).
		Where("id = ? AND status = ?", id.String(), string(domain.BatchStatusProcessing)).
		Updates(map[string]any{
			"status":        string(status),
			"total_rows":    counts.Total,
			"created_count": counts.Created,
			"failed_count":  counts.Failed,
			"skipped_count": counts.Skipped,
			"error_message": errorMessage,
			"completed_at":  completed,
			"duration_ms":   duration,
		})
	if result.Error != nil {
		return domain.Batch{}, fmt.Errorf("finalize batch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.Batch{}, fmt.Errorf("batch %s already finalized: %w", id, repository.ErrConflict)
	}
	return s.GetBatch(ctx, id)
}

func (s *ledgerStore) PurgeEmptyBatches(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("total_rows = 0 AND status <> ? AND started_at < ?", string(domain.BatchStatusProcessing), olderThan.UTC()).
		Delete(&BatchRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge empty batches: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *ledgerStore) PurgeRows(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", olderThan.UTC()).
		Delete(&RowRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge row outcomes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func fromBatchRecords(records []BatchRecord) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, len(records))
	for _, record := range records {
		batch, err := fromBatchRecord(record)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func fromBatchRecord(record BatchRecord) (domain.Batch, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("batch id: %w", err)
	}
	return domain.Batch{
		ID:             id,
		SourceFileName: record.SourceFileName,
		SourceChecksum: record.SourceChecksum,
		Status:         domain.BatchStatus(record.Status),
		TotalRows:      record.TotalRows,
		CreatedCount:   record.CreatedCount,
		FailedCount:    record.FailedCount,
		SkippedCount:   record.SkippedCount,
		ErrorMessage:   record.ErrorMessage,
		StartedAt:      record.StartedAt,
		CompletedAt:    record.CompletedAt,
		DurationMs:     record.DurationMs,
	}, nil
}

func fromRowRecord(record RowRecord) (domain.RowOutcome, error) {
	batchID, err := uuid.Parse(record.BatchID)
	if err != nil {
		return domain.RowOutcome{}, fmt.Errorf("row batch id: %w", err)
	}
	outcome := domain.RowOutcome{
		BatchID:     batchID,
		RowIndex:    record.RowIndex,
		IdentityKey: record.AttemptedKey,
		Basis:       domain.IdentityBasis(record.IdentityBasis),
		Status:      domain.RowStatus(record.Status),
		Errors:      []domain.RowError(record.Errors),
		CreatedAt:   record.CreatedAt,
	}
	if record.OrderID != nil {
		orderID, err := uuid.Parse(*record.OrderID)
		if err != nil {
			return domain.RowOutcome{}, fmt.Errorf("row order id: %w", err)
		}
		outcome.OrderID = &orderID
	}
	return outcome, nil
}
