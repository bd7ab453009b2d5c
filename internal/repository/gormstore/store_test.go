package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/repository"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	store := New(db)
	require.NoError(t, store.AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store
}

func createBatch(t *testing.T, store *Store, startedAt time.Time) domain.Batch {
	t.Helper()
	batch, err := store.Ledger().CreateBatch(context.Background(), domain.NewBatch("orders.csv", "abc", startedAt))
	require.NoError(t, err)
	return batch
}

func createdRow(batchID uuid.UUID, index int, key string, at time.Time) domain.RowOutcome {
	orderID := uuid.New()
	return domain.RowOutcome{
		BatchID:     batchID,
		RowIndex:    index,
		IdentityKey: key,
		Basis:       domain.BasisClientReference,
		Status:      domain.RowStatusCreated,
		OrderID:     &orderID,
		CreatedAt:   at,
	}
}

func TestInsertRowRejectsClaimedKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	first := createBatch(t, store, now)
	second := createBatch(t, store, now)

	require.NoError(t, store.Ledger().InsertRow(ctx, createdRow(first.ID, 1, "REF-1", now)))

	err := store.Ledger().InsertRow(ctx, createdRow(second.ID, 1, "REF-1", now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	found, err := store.Ledger().LookupKey(ctx, "REF-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.BatchID)
}

func TestFailedRowsDoNotClaimKeys(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	batch := createBatch(t, store, now)

	for i := 1; i <= 2; i++ {
		err := store.Ledger().InsertRow(ctx, domain.RowOutcome{
			BatchID:     batch.ID,
			RowIndex:    i,
			IdentityKey: "hash-1",
			Basis:       domain.BasisContentHash,
			Status:      domain.RowStatusFailedValidation,
			Errors:      []domain.RowError{{Code: "REQUIRED_FIELD", Field: "senderName", Message: "missing"}},
			CreatedAt:   now,
		})
		require.NoError(t, err)
	}

	found, err := store.Ledger().LookupKey(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	rows, err := store.Ledger().ListRows(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hash-1", rows[0].IdentityKey)
	require.Len(t, rows[0].Errors, 1)
	assert.Equal(t, "senderName", rows[0].Errors[0].Field)
}

func TestFinalizeBatchOnlyOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := createBatch(t, store, started)

	counts := domain.BatchCounts{Total: 4, Created: 2, Failed: 1, Skipped: 1}
	done, err := store.Ledger().FinalizeBatch(ctx, batch.ID, counts, domain.BatchStatusCompleted, nil, started.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, done.Status)
	assert.Equal(t, int64(1500), done.DurationMs)
	assert.Equal(t, 1, done.SkippedCount)
	require.NotNil(t, done.CompletedAt)

	_, err = store.Ledger().FinalizeBatch(ctx, batch.ID, counts, domain.BatchStatusFailed, nil, started)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	_, err = store.Ledger().FinalizeBatch(ctx, uuid.New(), counts, domain.BatchStatusCompleted, nil, started)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestPurgeRetention(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	emptyOld := createBatch(t, store, old)
	_, err := store.Ledger().FinalizeBatch(ctx, emptyOld.ID, domain.BatchCounts{}, domain.BatchStatusFailed, nil, old)
	require.NoError(t, err)

	processingOld := createBatch(t, store, old)

	fullOld := createBatch(t, store, old)
	require.NoError(t, store.Ledger().InsertRow(ctx, createdRow(fullOld.ID, 1, "OLD", old)))
	_, err = store.Ledger().FinalizeBatch(ctx, fullOld.ID, domain.BatchCounts{Total: 1, Created: 1}, domain.BatchStatusCompleted, nil, old)
	require.NoError(t, err)

	fresh := createBatch(t, store, recent)
	require.NoError(t, store.Ledger().InsertRow(ctx, createdRow(fresh.ID, 1, "NEW", recent)))

	purgedRows, err := store.Ledger().PurgeRows(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purgedRows)

	purgedBatches, err := store.Ledger().PurgeEmptyBatches(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purgedBatches)

	_, err = store.Ledger().GetBatch(ctx, emptyOld.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	kept, err := store.Ledger().GetBatch(ctx, fullOld.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.CreatedCount, "counts survive row purges")

	_, err = store.Ledger().GetBatch(ctx, processingOld.ID)
	require.NoError(t, err)

	found, err := store.Ledger().LookupKey(ctx, "NEW")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestStaleBatchesAndCounts(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := createBatch(t, store, old)
	createBatch(t, store, old.Add(48*time.Hour))

	require.NoError(t, store.Ledger().InsertRow(ctx, createdRow(stale.ID, 1, "A", old)))
	require.NoError(t, store.Ledger().InsertRow(ctx, domain.RowOutcome{
		BatchID: stale.ID, RowIndex: 2, IdentityKey: "B", Basis: domain.BasisClientReference,
		Status: domain.RowStatusFailedValidation, CreatedAt: old,
	}))

	batches, err := store.Ledger().ListStaleBatches(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, stale.ID, batches[0].ID)

	counts, err := store.Ledger().CountRows(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCounts{Total: 2, Created: 1, Failed: 1}, counts)
}

func TestOrderVersioningAndHistory(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	order := domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: "REF-9",
		IdentityBasis:  domain.BasisClientReference,
		Sender:         domain.Party{Name: "Acme", Phone: "+15550100"},
		Receiver:       domain.Party{Name: "Bo", Phone: "5550200", Address: "1 Main St", City: "Springfield"},
		PackageCount:   2,
		PackageWeight:  domain.NewFixed2(3, 25),
		ServiceType:    domain.ServiceTierExpress,
		Status:         domain.OrderStatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := store.Orders().Create(ctx, order)
	require.NoError(t, err)

	loaded, err := store.Orders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Fixed2(325), loaded.PackageWeight)
	assert.Equal(t, domain.ServiceTierExpress, loaded.ServiceType)

	loaded.Status = domain.OrderStatusConfirmed
	updated, err := store.Orders().Update(ctx, loaded, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = store.Orders().Update(ctx, loaded, 1)
	assert.True(t, errors.Is(err, repository.ErrConflict))

	_, err = store.Orders().Update(ctx, domain.Order{ID: uuid.New()}, 1)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	require.NoError(t, store.Orders().AppendEvent(ctx, domain.NewStatusEvent(order.ID, nil, domain.OrderStatusPending, "system", now)))
	require.NoError(t, store.Orders().AppendEvent(ctx, domain.NewStatusEvent(order.ID, domain.StatusPtr(domain.OrderStatusPending), domain.OrderStatusConfirmed, "ops", now)))

	events, err := store.Orders().ListEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].FromStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, events[1].ToStatus)

	orders, err := store.Orders().GetByIDs(ctx, []uuid.UUID{order.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestWithTxRollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	batch := createBatch(t, store, now)

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Ledger().InsertRow(ctx, createdRow(batch.ID, 1, "TX", now)); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	found, err := store.Ledger().LookupKey(ctx, "TX")
	require.NoError(t, err)
	assert.Nil(t, found)
}
