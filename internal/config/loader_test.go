package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 500, cfg.Ingestion.MaxRows)
	assert.Equal(t, "system:bulk-import", cfg.Ingestion.Actor)
	assert.Equal(t, 720*time.Hour, cfg.Retention.RowTTL)
	assert.Equal(t, 4320*time.Hour, cfg.Retention.EmptyBatchTTL)
	assert.Equal(t, "bulk_orders", cfg.Database.Postgres().DBName)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
database:
  driver: sqlite
  sqlite_path: /tmp/orders.db
ingestion:
  max_rows: 50
retention:
  interval: 1h
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("ORDERS_INGESTION_MAX_ROWS", "25")
	t.Setenv("ORDERS_LOGGING_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/orders.db", cfg.Database.SQLitePath)
	assert.Equal(t, 25, cfg.Ingestion.MaxRows)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0},
		Database:  DatabaseConfig{Driver: "mysql"},
		Retention: RetentionConfig{Enabled: true},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"server.port",
		"server.shutdown_timeout",
		"database.driver",
		"ingestion.max_rows",
		"ingestion.max_concurrent",
		"retention.interval",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
