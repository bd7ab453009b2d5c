package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/lifecycle"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/notify"
	"github.com/rpattn/bulkorders/internal/repository"
)

// DefaultActor is recorded on the creation event of imported orders.
const DefaultActor = "system:bulk-import"

const (
	defaultMaxConcurrent = 4
	abandonedMessage     = "batch abandoned while processing"
)

var errRowRejected = errors.New("row rejected")

// Config tunes the coordinator.
type Config struct {
	MaxRows       int
	MaxConcurrent int
	Actor         string
}

// Upload is one spreadsheet handed to the coordinator.
type Upload struct {
	FileName string
	Data     []byte
	// Checksum is computed from Data when empty.
	Checksum string
}

// RowSummary reports what happened to one data row.
type RowSummary struct {
	RowIndex int                  `json:"rowIndex"`
	Status   domain.RowStatus     `json:"status"`
	Basis    domain.IdentityBasis `json:"idempotencyBasis"`
	OrderID  *uuid.UUID           `json:"orderId"`
	Errors   []domain.RowError    `json:"errorMessages"`
}

// BatchSummary is the result of processing one upload.
type BatchSummary struct {
	BatchID      uuid.UUID          `json:"batchId"`
	Status       domain.BatchStatus `json:"status"`
	TotalRows    int                `json:"totalRows"`
	CreatedCount int                `json:"createdCount"`
	FailedCount  int                `json:"failedCount"`
	SkippedCount int                `json:"skippedDuplicateCount"`
	DurationMs   int64              `json:"processingDurationMs"`
	Truncated    bool               `json:"truncated"`
	Rows         []RowSummary       `json:"rows"`
}

func (s *BatchSummary) add(row RowSummary) {
	s.TotalRows++
	switch row.Status {
	case domain.RowStatusCreated:
		s.CreatedCount++
	case domain.RowStatusFailedValidation:
		s.FailedCount++
	case domain.RowStatusSkippedDuplicate:
		s.SkippedCount++
	}
	s.Rows = append(s.Rows, row)
}

func (s BatchSummary) counts() domain.BatchCounts {
	return domain.BatchCounts{
		Total:   s.TotalRows,
		Created: s.CreatedCount,
		Failed:  s.FailedCount,
		Skipped: s.SkippedCount,
	}
}

// Service turns uploaded spreadsheets into orders, one independent unit of work
// per row.
type Service struct {
	store     repository.Store
	lifecycle *lifecycle.Service
	parser    *Parser
	mapper    *rowMapper
	clock     clock.Clock
	notifier  notify.Notifier
	sem       *semaphore.Weighted
	actor     string
}

// NewService wires the coordinator.
func NewService(store repository.Store, orders *lifecycle.Service, clk clock.Clock, notifier notify.Notifier, cfg Config) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Actor == "" {
		cfg.Actor = DefaultActor
	}
	return &Service{
		store:     store,
		lifecycle: orders,
		parser:    NewParser(cfg.MaxRows),
		mapper:    newRowMapper(),
		clock:     clk,
		notifier:  notifier,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		actor:     cfg.Actor,
	}
}

// Process records a batch, parses the upload and attempts every row. A
// structural problem with the file finalizes the batch FAILED and is returned
// together with the batch id. A batch interrupted after a row outcome
// stays PROCESSING until ReconcileStale finalizes it.
func (s *Service) Process(ctx context.Context, upload Upload) (BatchSummary, error) {
	if !s.sem.TryAcquire(1) {
		return BatchSummary{}, ErrBusy
	}
	defer s.sem.Release(1)

	checksum := upload.Checksum
	if checksum == "" {
		sum := sha256.Sum256(upload.Data)
		checksum = hex.EncodeToString(sum[:])
	}

	batch, err := s.store.Ledger().CreateBatch(ctx, domain.NewBatch(upload.FileName, checksum, s.clock.Now()))
	if err != nil {
		return BatchSummary{}, fmt.Errorf("create batch: %w", err)
	}
	logger := logging.WithFields(ctx, "batch_id", batch.ID, "file", upload.FileName)
	logger.Info("batch started", "bytes", len(upload.Data))

	summary := BatchSummary{BatchID: batch.ID, Status: domain.BatchStatusProcessing, Rows: []RowSummary{}}

	rows, err := s.parser.Parse(upload.FileName, upload.Data)
	if err != nil {
		logger.Warn("batch rejected", "error", err)
		return s.fail(ctx, summary, err), err
	}
	summary.Truncated = rows.Truncated()

	for {
		if err := ctx.Err(); err != nil {
			return s.abort(ctx, summary, err), err
		}
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.abort(ctx, summary, err), err
		}

		result, err := s.processRow(ctx, batch.ID, row)
		if err != nil {
			logger.Error("row aborted batch", "row", row.Index, "error", err)
			return s.abort(ctx, summary, err), err
		}
		summary.add(result)
	}

	finalized, err := s.store.Ledger().FinalizeBatch(ctx, batch.ID, summary.counts(), domain.BatchStatusCompleted, nil, s.clock.Now())
	if err != nil {
		return summary, fmt.Errorf("finalize batch: %w", err)
	}
	summary.Status = finalized.Status
	summary.DurationMs = finalized.DurationMs

	logger.Info("batch completed",
		"total", summary.TotalRows,
		"created", summary.CreatedCount,
		"failed", summary.FailedCount,
		"skipped", summary.SkippedCount,
		"truncated", summary.Truncated,
		"duration_ms", summary.DurationMs,
	)
	s.notifier.Publish(ctx, notify.EventBatchCompleted, finalized)
	return summary, nil
}

// processRow resolves the identity of a row and either skips it, creates its
// order, or records why it failed. The returned error is reserved for storage
// failures that make further progress pointless.
func (s *Service) processRow(ctx context.Context, batchID uuid.UUID, row RawRow) (RowSummary, error) {
	key := ResolveIdentity(row)

	existing, err := s.store.Ledger().LookupKey(ctx, key.Value)
	if err != nil {
		return RowSummary{}, fmt.Errorf("lookup identity key: %w", err)
	}
	if existing != nil {
		return skipped(row, key, existing.OrderID), nil
	}

	var (
		order     domain.Order
		rowErrors []domain.RowError
	)
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		draft, invalid := s.mapper.toOrder(row, key)
		if len(invalid) > 0 {
			rowErrors = invalid
			return errRowRejected
		}
		draft.BatchID = &batchID

		created, err := s.lifecycle.WithStore(tx).Create(ctx, draft, s.actor)
		if err != nil {
			return err
		}
		if err := tx.Ledger().InsertRow(ctx, domain.RowOutcome{
			BatchID:     batchID,
			RowIndex:    row.Index,
			IdentityKey: key.Value,
			Basis:       key.Basis,
			Status:      domain.RowStatusCreated,
			OrderID:     &created.ID,
			Errors:      []domain.RowError{},
			CreatedAt:   s.clock.Now(),
		}); err != nil {
			return err
		}
		order = created
		return nil
	})

	switch {
	case err == nil:
		s.notifier.Publish(ctx, notify.EventOrderCreated, order)
		return RowSummary{
			RowIndex: row.Index,
			Status:   domain.RowStatusCreated,
			Basis:    key.Basis,
			OrderID:  &order.ID,
			Errors:   []domain.RowError{},
		}, nil
	case errors.Is(err, errRowRejected):
		return s.recordFailure(ctx, batchID, row, key, rowErrors)
	case errors.Is(err, repository.ErrConflict):
		winner, lookupErr := s.store.Ledger().LookupKey(ctx, key.Value)
		if lookupErr != nil {
			return RowSummary{}, fmt.Errorf("lookup identity key after conflict: %w", lookupErr)
		}
		if winner != nil {
			logging.FromContext(ctx).Debug("row lost identity race", "batch_id", batchID, "row", row.Index)
			return skipped(row, key, winner.OrderID), nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return RowSummary{}, ctxErr
	}

	logging.FromContext(ctx).Debug("row creation failed", "batch_id", batchID, "row", row.Index, "error", err)
	return s.recordFailure(ctx, batchID, row, key, []domain.RowError{{
		Code:    CodeCreateFailed,
		Message: err.Error(),
	}})
}

func (s *Service) recordFailure(ctx context.Context, batchID uuid.UUID, row RawRow, key domain.IdentityKey, rowErrors []domain.RowError) (RowSummary, error) {
	err := s.store.Ledger().InsertRow(ctx, domain.RowOutcome{
		BatchID:     batchID,
		RowIndex:    row.Index,
		IdentityKey: key.Value,
		Basis:       key.Basis,
		Status:      domain.RowStatusFailedValidation,
		Errors:      rowErrors,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return RowSummary{}, fmt.Errorf("record failed row %d: %w", row.Index, err)
	}
	logging.FromContext(ctx).Debug("row failed validation", "batch_id", batchID, "row", row.Index, "errors", len(rowErrors))
	return RowSummary{
		RowIndex: row.Index,
		Status:   domain.RowStatusFailedValidation,
		Basis:    key.Basis,
		Errors:   rowErrors,
	}, nil
}

func skipped(row RawRow, key domain.IdentityKey, orderID *uuid.UUID) RowSummary {
	return RowSummary{
		RowIndex: row.Index,
		Status:   domain.RowStatusSkippedDuplicate,
		Basis:    key.Basis,
		OrderID:  orderID,
		Errors:   []domain.RowError{},
	}
}

// abort stops a batch whose row loop cannot continue. Before any row has an
// outcome the batch is failed outright; afterwards it is left PROCESSING with
// its persisted rows for reconciliation.
func (s *Service) abort(ctx context.Context, summary BatchSummary, cause error) BatchSummary {
	if summary.TotalRows == 0 {
		return s.fail(ctx, summary, cause)
	}
	logging.WithFields(ctx, "batch_id", summary.BatchID).Warn("batch interrupted, left for reconciliation",
		"rows_done", summary.TotalRows,
		"error", cause,
	)
	return summary
}

// fail finalizes the batch FAILED before any row was attempted. It runs on a
// context detached from cancellation so an aborted request still closes the batch.
func (s *Service) fail(ctx context.Context, summary BatchSummary, cause error) BatchSummary {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()

	finalized, err := s.store.Ledger().FinalizeBatch(ctx, summary.BatchID, summary.counts(), domain.BatchStatusFailed, &message, s.clock.Now())
	if err != nil {
		logging.FromContext(ctx).Error("failed to finalize batch", "batch_id", summary.BatchID, "error", err)
		return summary
	}
	summary.Status = finalized.Status
	summary.DurationMs = finalized.DurationMs
	s.notifier.Publish(ctx, notify.EventBatchFailed, finalized)
	return summary
}

// Batch returns a batch with its persisted row outcomes.
func (s *Service) Batch(ctx context.Context, id uuid.UUID) (domain.Batch, []domain.RowOutcome, error) {
	batch, err := s.store.Ledger().GetBatch(ctx, id)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	rows, err := s.store.Ledger().ListRows(ctx, id)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	return batch, rows, nil
}

// Batches lists batches, newest first.
func (s *Service) Batches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	return s.store.Ledger().ListBatches(ctx, filter)
}

// StaleBatches lists batches still PROCESSING that started more than olderThan ago.
func (s *Service) StaleBatches(ctx context.Context, olderThan time.Duration) ([]domain.Batch, error) {
	return s.store.Ledger().ListStaleBatches(ctx, s.clock.Now().Add(-olderThan))
}

// ReconcileStale finalizes abandoned PROCESSING batches as FAILED, with counts
// recomputed from their persisted rows. Duplicate skips are never persisted and
// so are not counted.
func (s *Service) ReconcileStale(ctx context.Context, olderThan time.Duration) ([]domain.Batch, error) {
	stale, err := s.StaleBatches(ctx, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale batches: %w", err)
	}

	reconciled := make([]domain.Batch, 0, len(stale))
	for _, batch := range stale {
		counts, err := s.store.Ledger().CountRows(ctx, batch.ID)
		if err != nil {
			return reconciled, fmt.Errorf("count rows of batch %s: %w", batch.ID, err)
		}
		message := abandonedMessage
		finalized, err := s.store.Ledger().FinalizeBatch(ctx, batch.ID, counts, domain.BatchStatusFailed, &message, s.clock.Now())
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			// finished or reconciled concurrently
			continue
		}
		if err != nil {
			return reconciled, fmt.Errorf("finalize batch %s: %w", batch.ID, err)
		}
		logging.FromContext(ctx).Warn("reconciled abandoned batch", "batch_id", batch.ID, "rows", counts.Total)
		reconciled = append(reconciled, finalized)
	}
	return reconciled, nil
}
