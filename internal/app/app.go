// Package app wires storage and services from configuration for the server
// and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/config"
	"github.com/rpattn/bulkorders/internal/db"
	"github.com/rpattn/bulkorders/internal/ingestion"
	"github.com/rpattn/bulkorders/internal/lifecycle"
	"github.com/rpattn/bulkorders/internal/notify"
	"github.com/rpattn/bulkorders/internal/repository"
	"github.com/rpattn/bulkorders/internal/repository/gormstore"
	"github.com/rpattn/bulkorders/internal/retention"
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Store     repository.Store
	Hub       *notify.Hub
	Orders    *lifecycle.Service
	Ingestion *ingestion.Service
	Purger    *retention.Purger

	pool    *pgxpool.Pool
	closers []func()
}

// Options adjust wiring.
type Options struct {
	// SkipMigrations leaves the schema alone even when database.migrate is set.
	SkipMigrations bool
}

// New opens the configured store and builds the services on top of it.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Hub: notify.NewHub(0)}

	store, err := a.openStore(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	clk := clock.System{}
	a.Orders = lifecycle.NewService(store, clk, a.Hub)
	a.Ingestion = ingestion.NewService(store, a.Orders, clk, a.Hub, ingestion.Config{
		MaxRows:       cfg.Ingestion.MaxRows,
		MaxConcurrent: cfg.Ingestion.MaxConcurrent,
		Actor:         cfg.Ingestion.Actor,
	})
	a.Purger = retention.NewPurger(store.Ledger(), clk, retention.Config{
		RowTTL:        cfg.Retention.RowTTL,
		EmptyBatchTTL: cfg.Retention.EmptyBatchTTL,
		Interval:      cfg.Retention.Interval,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, opts Options) (repository.Store, error) {
	migrate := a.Config.Database.Migrate && !opts.SkipMigrations

	switch a.Config.Database.Driver {
	case config.DriverSQLite:
		gdb, err := gormstore.OpenSQLite(a.Config.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		store := gormstore.New(gdb)
		if migrate {
			if err := store.AutoMigrate(); err != nil {
				return nil, err
			}
		}
		slog.Info("using sqlite store", "path", a.Config.Database.SQLitePath)
		return store, nil

	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, a.Config.Database.Postgres())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		a.pool = conn.Pool
		if migrate {
			if err := db.RunMigrations(conn.Pool); err != nil {
				return nil, err
			}
		}
		slog.Info("using postgres store")
		return repository.NewPgStore(conn.Pool), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", a.Config.Database.Driver)
	}
}

// Migrate applies the schema for the configured driver.
func (a *App) Migrate() error {
	switch store := a.Store.(type) {
	case *gormstore.Store:
		return store.AutoMigrate()
	case *repository.PgStore:
		if a.pool == nil {
			return fmt.Errorf("postgres pool not open")
		}
		return db.RunMigrations(a.pool)
	default:
		return fmt.Errorf("no migrations for %T", a.Store)
	}
}

// Close releases database handles.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
