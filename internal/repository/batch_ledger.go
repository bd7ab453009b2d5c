package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/bulkorders/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const batchColumns = `id, source_file_name, source_checksum, status, total_rows, created_count,
	failed_count, skipped_count, error_message, started_at, completed_at, duration_ms`

const rowColumns = `batch_id, row_index, attempted_key, identity_basis, status, order_id, errors, created_at`

type batchLedger struct {
	db DBTX
}

// NewBatchLedger wires a ledger on a pool or transaction.
func NewBatchLedger(db DBTX) BatchLedger {
	return &batchLedger{db: db}
}

func (l *batchLedger) CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if l.db == nil {
		return domain.Batch{}, fmt.Errorf("batch ledger not initialized")
	}

	_, err := l.db.Exec(
		ctx,
		`INSERT INTO ingestion_batches (id, source_file_name, source_checksum, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		batch.ID,
		batch.SourceFileName,
		batch.SourceChecksum,
		string(batch.Status),
		batch.StartedAt,
	)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return batch, nil
}

func (l *batchLedger) GetBatch(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	row := l.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM ingestion_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (l *batchLedger) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultBatchListLimit
	}
	if limit > maximumBatchListLimit {
		limit = maximumBatchListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + batchColumns + ` FROM ingestion_batches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return l.queryBatches(ctx, query, args...)
}

func (l *batchLedger) ListStaleBatches(ctx context.Context, startedBefore time.Time) ([]domain.Batch, error) {
	return l.queryBatches(
		ctx,
		`SELECT `+batchColumns+` FROM ingestion_batches
		 WHERE status = $1 AND started_at < $2
		 ORDER BY started_at`,
		string(domain.BatchStatusProcessing),
		startedBefore,
	)
}

func (l *batchLedger) queryBatches(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.Batch{}
	for rows.Next() {
		batch, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", scanErr)
		}
		batches = append(batches, batch)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", rowsErr)
	}
	return batches, nil
}

func (l *batchLedger) LookupKey(ctx context.Context, key string) (*domain.RowOutcome, error) {
	row := l.db.QueryRow(ctx, `SELECT `+rowColumns+` FROM ingestion_rows WHERE identity_key = $1`, key)
	outcome, err := scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity key: %w", err)
	}
	return &outcome, nil
}

func (l *batchLedger) InsertRow(ctx context.Context, row domain.RowOutcome) error {
	var claimed *string
	if row.Status == domain.RowStatusCreated {
		claimed = &row.IdentityKey
	}
	rowErrors := row.Errors
	if rowErrors == nil {
		rowErrors = []domain.RowError{}
	}

	_, err := l.db.Exec(
		ctx,
		`INSERT INTO ingestion_rows (batch_id, row_index, identity_key, attempted_key, identity_basis, status, order_id, errors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.BatchID,
		row.RowIndex,
		claimed,
		row.IdentityKey,
		string(row.Basis),
		string(row.Status),
		row.OrderID,
		rowErrors,
		row.CreatedAt,
	)
	if isUniqueViolation(err, identityKeyConstraint) {
		return fmt.Errorf("identity key %q: %w", row.IdentityKey, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert row outcome: %w", err)
	}
	return nil
}

func (l *batchLedger) ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.RowOutcome, error) {
	rows, err := l.db.Query(
		ctx,
		`SELECT `+rowColumns+` FROM ingestion_rows WHERE batch_id = $1 ORDER BY row_index`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list row outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []domain.RowOutcome{}
	for rows.Next() {
		outcome, scanErr := scanRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan row outcome: %w", scanErr)
		}
		outcomes = append(outcomes, outcome)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate row outcomes: %w", rowsErr)
	}
	return outcomes, nil
}

func (l *batchLedger) CountRows(ctx context.Context, batchID uuid.UUID) (domain.BatchCounts, error) {
	var counts domain.BatchCounts
	err := l.db.QueryRow(
		ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'CREATED'),
		   COUNT(*) FILTER (WHERE status = 'FAILED_VALIDATION')
		 FROM ingestion_rows WHERE batch_id = $1`,
		batchID,
	).Scan(&counts.Created, &counts.Failed)
	if err != nil {
		return domain.BatchCounts{}, fmt.Errorf("failed to count row outcomes: %w", err)
	}
	counts.Total = counts.Created + counts.Failed
	return counts, nil
}

func (l *batchLedger) FinalizeBatch(ctx context.Context, id uuid.UUID, counts domain.BatchCounts, status domain.BatchStatus, errorMessage *string, completedAt time.Time) (domain.Batch, error) {
	if !status.IsTerminal() {
		return domain.Batch{}, fmt.Errorf("cannot finalize batch with status %s", status)
	}

	row := l.db.QueryRow(
		ctx,
		`UPDATE ingestion_batches
		 SET status = $1, total_rows = $2, created_count = $3, failed_count = $4, skipped_count = $5,
		     error_message = $6, completed_at = $7,
		     duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($7 - started_at)) * 1000)::BIGINT)
		 WHERE id = $8 AND status = $9
		 RETURNING `+batchColumns,
		string(status),
		counts.Total,
		counts.Created,
		counts.Failed,
		counts.Skipped,
		errorMessage,
		completedAt,
		id,
		string(domain.BatchStatusProcessing),
	)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := l.GetBatch(ctx, id); getErr != nil {
			return domain.Batch{}, getErr
		}
		return domain.Batch{}, fmt.Errorf("batch %s already finalized: %w", id, ErrConflict)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("failed to finalize batch: %w", err)
	}
	return batch, nil
}

func (l *batchLedger) PurgeEmptyBatches(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := l.db.Exec(
		ctx,
		`DELETE FROM ingestion_batches
		 WHERE total_rows = 0 AND status <> $1 AND started_at < $2`,
		string(domain.BatchStatusProcessing),
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge empty batches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (l *batchLedger) PurgeRows(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM ingestion_rows WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge row outcomes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var (
		batch       domain.Batch
		status      string
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&batch.ID,
		&batch.SourceFileName,
		&batch.SourceChecksum,
		&status,
		&batch.TotalRows,
		&batch.CreatedCount,
		&batch.FailedCount,
		&batch.SkippedCount,
		&batch.ErrorMessage,
		&startedAt,
		&completedAt,
		&batch.DurationMs,
	); err != nil {
		return domain.Batch{}, err
	}

	batch.Status = domain.BatchStatus(status)
	if startedAt.Valid {
		batch.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	return batch, nil
}

func scanRow(row pgx.Row) (domain.RowOutcome, error) {
	var (
		outcome   domain.RowOutcome
		basis     string
		status    string
		orderID   pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&outcome.BatchID,
		&outcome.RowIndex,
		&outcome.IdentityKey,
		&basis,
		&status,
		&orderID,
		&outcome.Errors,
		&createdAt,
	); err != nil {
		return domain.RowOutcome{}, err
	}

	outcome.Basis = domain.IdentityBasis(basis)
	outcome.Status = domain.RowStatus(status)
	if orderID.Valid {
		id := uuid.UUID(orderID.Bytes)
		outcome.OrderID = &id
	}
	if createdAt.Valid {
		outcome.CreatedAt = createdAt.Time
	}
	return outcome, nil
}
