// Package gormstore implements the repository interfaces on GORM. It backs the
// embedded SQLite mode and the store-level tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rpattn/bulkorders/internal/repository"
)

// Store implements repository.Store on a *gorm.DB.
type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenSQLite opens a SQLite database at path (":memory:" for a private in-memory
// database) with foreign keys on and a single connection, since SQLite serialises
// writers anyway.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate creates or updates the ingestion and order tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&BatchRecord{}); err != nil {
		return fmt.Errorf("auto-migrate ingestion_batches: %w", err)
	}
	if err := s.db.AutoMigrate(&RowRecord{}); err != nil {
		return fmt.Errorf("auto-migrate ingestion_rows: %w", err)
	}
	if err := s.db.AutoMigrate(&OrderRecord{}); err != nil {
		return fmt.Errorf("auto-migrate orders: %w", err)
	}
	if err := s.db.AutoMigrate(&StatusEventRecord{}); err != nil {
		return fmt.Errorf("auto-migrate order_status_events: %w", err)
	}
	return nil
}

// Orders returns the order repository bound to this store's handle.
func (s *Store) Orders() repository.OrderRepository {
	return &orderStore{db: s.db}
}

// Ledger returns the batch ledger bound to this store's handle.
func (s *Store) Ledger() repository.BatchLedger {
	return &ledgerStore{db: s.db}
}

// WithTx runs fn in a transaction; nested calls use savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// isDuplicate reports a unique index violation on the named index or column.
func isDuplicate(err error, column string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
