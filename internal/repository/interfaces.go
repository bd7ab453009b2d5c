package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/bulkorders/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write loses to a concurrent writer: an identity
	// key already claimed by another row, or a stale order version.
	ErrConflict = errors.New("conflicting write")
)

// OrderRepository persists orders and their append-only status history.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Order, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Order, error)
	// Update writes the order if its stored version still equals expectedVersion
	// and returns it with the version incremented.
	Update(ctx context.Context, order domain.Order, expectedVersion int) (domain.Order, error)
	AppendEvent(ctx context.Context, event domain.StatusEvent) error
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error)
}

// DuplicateIndex answers whether an identity key already produced an order.
type DuplicateIndex interface {
	// LookupKey returns the CREATED outcome owning key, or nil when none exists.
	LookupKey(ctx context.Context, key string) (*domain.RowOutcome, error)
}

// BatchLedger records batches and per-row outcomes.
type BatchLedger interface {
	DuplicateIndex

	CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.Batch, error)
	// InsertRow persists an outcome. A CREATED outcome whose key is already
	// claimed fails with ErrConflict.
	InsertRow(ctx context.Context, row domain.RowOutcome) error
	ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.RowOutcome, error)
	CountRows(ctx context.Context, batchID uuid.UUID) (domain.BatchCounts, error)
	// FinalizeBatch moves a PROCESSING batch to a terminal status.
	FinalizeBatch(ctx context.Context, id uuid.UUID, counts domain.BatchCounts, status domain.BatchStatus, errorMessage *string, completedAt time.Time) (domain.Batch, error)
	ListStaleBatches(ctx context.Context, startedBefore time.Time) ([]domain.Batch, error)
	PurgeEmptyBatches(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeRows(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store groups the repositories that take part in one unit of work.
type Store interface {
	Orders() OrderRepository
	Ledger() BatchLedger
	// WithTx runs fn against a transactional view of the store. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
}
