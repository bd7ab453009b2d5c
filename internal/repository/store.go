package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/bulkorders/internal/db"
	"github.com/rpattn/bulkorders/internal/domain"
)

const (
	uniqueViolation       = "23505"
	identityKeyConstraint = "ingestion_rows_identity_key_uq"
	defaultBatchListLimit = 50
	maximumBatchListLimit = 500
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore is the PostgreSQL-backed Store.
type PgStore struct {
	db DBTX
}

// NewPgStore wires a store backed by pgxpool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool}
}

// Orders returns the order repository bound to this store's connection.
func (s *PgStore) Orders() OrderRepository {
	return &orderRepository{db: s.db}
}

// Ledger returns the batch ledger bound to this store's connection.
func (s *PgStore) Ledger() BatchLedger {
	return &batchLedger{db: s.db}
}

// WithTx runs fn in a transaction. Nested calls use savepoints.
func (s *PgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&PgStore{db: tx})
	})
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func numericFromFixed(v domain.Fixed2) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(v.Hundredths()), Exp: -2, Valid: true}
}

func nullableNumeric(v *domain.Fixed2) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return numericFromFixed(*v)
}

func fixedFromNumeric(n pgtype.Numeric) (domain.Fixed2, error) {
	if !n.Valid || n.Int == nil {
		return 0, fmt.Errorf("numeric is null")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric is not finite")
	}

	value := new(big.Int).Set(n.Int)
	shift := int64(n.Exp) + 2
	ten := big.NewInt(10)
	if shift > 0 {
		value.Mul(value, new(big.Int).Exp(ten, big.NewInt(shift), nil))
	} else if shift < 0 {
		value.Quo(value, new(big.Int).Exp(ten, big.NewInt(-shift), nil))
	}
	if !value.IsInt64() {
		return 0, fmt.Errorf("numeric out of range")
	}
	return domain.Fixed2(value.Int64()), nil
}

func optionalFixed(n pgtype.Numeric) (*domain.Fixed2, error) {
	if !n.Valid {
		return nil, nil
	}
	v, err := fixedFromNumeric(n)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
