package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/bulkorders/internal/app"
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/export"
	"github.com/rpattn/bulkorders/internal/ingestion"
	"github.com/rpattn/bulkorders/internal/lifecycle"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Import a CSV or XLSX order sheet and print the batch summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Ingestion.Process(cmd.Context(), ingestion.Upload{
			FileName: filepath.Base(args[0]),
			Data:     data,
		})
		if err != nil {
			if summary.BatchID != uuid.Nil {
				_ = printJSON(cmd.OutOrStdout(), summary)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run one retention pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Purger.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var staleAge time.Duration

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect and repair ingestion batches",
}

var batchesStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List batches still PROCESSING after --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		batches, err := a.Ingestion.StaleBatches(cmd.Context(), staleAge)
		if err != nil {
			return err
		}
		if batches == nil {
			batches = []domain.Batch{}
		}
		return printJSON(cmd.OutOrStdout(), batches)
	},
}

var batchesReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark batches still PROCESSING after --older-than as FAILED",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		batches, err := a.Ingestion.ReconcileStale(cmd.Context(), staleAge)
		if err != nil {
			return err
		}
		if batches == nil {
			batches = []domain.Batch{}
		}
		return printJSON(cmd.OutOrStdout(), batches)
	},
}

var (
	reportFormat string
	reportOutput string
)

var batchesReportCmd = &cobra.Command{
	Use:   "report <batch-id>",
	Short: "Write the per-row outcome report of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid batch id: %w", err)
		}
		format, err := export.ParseFormat(reportFormat)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		batch, rows, err := a.Ingestion.Batch(cmd.Context(), batchID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if reportOutput != "" {
			path := reportOutput
			if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
				path = filepath.Join(path, export.FileName(batch, format))
			}
			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			defer file.Close()
			out = file
		}
		_, err = export.WriteBatchReport(out, format, rows)
		return err
	},
}

var (
	transitionReason string
	transitionNotes  string
	transitionBy     string
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Inspect and update orders",
}

var ordersTransitionCmd = &cobra.Command{
	Use:   "transition <order-id> <status>",
	Short: "Move an order to a new status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orderID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid order id: %w", err)
		}

		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		req := lifecycle.TransitionRequest{Status: args[1]}
		if transitionReason != "" {
			req.Reason = &transitionReason
		}
		if transitionNotes != "" {
			req.Notes = &transitionNotes
		}
		if transitionBy != "" {
			req.UpdatedBy = &transitionBy
		}

		order, event, err := a.Orders.Transition(cmd.Context(), orderID, req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), lifecycle.StatusChange{Order: order, Event: event})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{SkipMigrations: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{batchesStaleCmd, batchesReconcileCmd} {
		c.Flags().DurationVar(&staleAge, "older-than", time.Hour, "Minimum time since the batch started")
	}
	batchesReportCmd.Flags().StringVar(&reportFormat, "format", "csv", "Report format: csv or xlsx")
	batchesReportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file or directory (default stdout)")
	batchesCmd.AddCommand(batchesStaleCmd, batchesReconcileCmd, batchesReportCmd)

	ordersTransitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded on the history event")
	ordersTransitionCmd.Flags().StringVar(&transitionNotes, "notes", "", "Notes recorded on the history event")
	ordersTransitionCmd.Flags().StringVar(&transitionBy, "by", "operator", "Actor recorded on the history event")
	ordersCmd.AddCommand(ordersTransitionCmd)
}
