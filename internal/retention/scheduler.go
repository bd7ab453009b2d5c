// Package retention purges old row outcomes and empty batches.
//
// Row outcomes are purged after RowTTL; batch counts survive the purge. Purging
// a CREATED row releases its identity key, so a re-upload after RowTTL creates
// a new order. Empty batches (no data rows, not PROCESSING) go after
// EmptyBatchTTL.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/repository"
)

const (
	DefaultRowTTL        = 720 * time.Hour
	DefaultEmptyBatchTTL = 4320 * time.Hour
	DefaultInterval      = 24 * time.Hour
)

// Config controls what is purged and how often.
type Config struct {
	RowTTL        time.Duration
	EmptyBatchTTL time.Duration
	Interval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RowTTL <= 0 {
		c.RowTTL = DefaultRowTTL
	}
	if c.EmptyBatchTTL <= 0 {
		c.EmptyBatchTTL = DefaultEmptyBatchTTL
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Result counts what one pass removed.
type Result struct {
	RowsPurged    int64 `json:"rowsPurged"`
	BatchesPurged int64 `json:"batchesPurged"`
}

// Purger runs retention passes against the batch ledger.
type Purger struct {
	ledger repository.BatchLedger
	clock  clock.Clock
	cfg    Config
}

func NewPurger(ledger repository.BatchLedger, clk clock.Clock, cfg Config) *Purger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Purger{ledger: ledger, clock: clk, cfg: cfg.withDefaults()}
}

// RunOnce performs one purge pass.
func (p *Purger) RunOnce(ctx context.Context) (Result, error) {
	now := p.clock.Now()

	rows, err := p.ledger.PurgeRows(ctx, now.Add(-p.cfg.RowTTL))
	if err != nil {
		return Result{}, fmt.Errorf("purge rows: %w", err)
	}
	batches, err := p.ledger.PurgeEmptyBatches(ctx, now.Add(-p.cfg.EmptyBatchTTL))
	if err != nil {
		return Result{RowsPurged: rows}, fmt.Errorf("purge empty batches: %w", err)
	}
	return Result{RowsPurged: rows, BatchesPurged: batches}, nil
}

// Start runs a pass immediately and then every Interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (p *Purger) Start(ctx context.Context) {
	logger := logging.FromContext(ctx)
	logger.Info("retention scheduler started",
		"row_ttl", p.cfg.RowTTL,
		"empty_batch_ttl", p.cfg.EmptyBatchTTL,
		"interval", p.cfg.Interval,
	)

	p.run(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Purger) run(ctx context.Context) {
	start := time.Now()
	result, err := p.RunOnce(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("retention pass failed", "error", err)
		return
	}
	logging.FromContext(ctx).Info("retention pass completed",
		"rows_purged", result.RowsPurged,
		"batches_purged", result.BatchesPurged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
