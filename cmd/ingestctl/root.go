package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rpattn/bulkorders/internal/app"
	"github.com/rpattn/bulkorders/internal/config"
	"github.com/rpattn/bulkorders/internal/logging"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Operator CLI for bulk order ingestion",
	Long: `ingestctl runs ingestion and maintenance tasks directly against the
configured store: importing a spreadsheet, purging expired row outcomes,
reconciling abandoned batches and moving orders through their lifecycle.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openApp loads configuration and wires the services. Logs go to stderr so
// stdout stays machine readable.
func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	return app.New(ctx, cfg, opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
