package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yaml := "database:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "orders.db") + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	return dir
}

func TestIngestAndTransition(t *testing.T) {
	dir := writeConfig(t)
	sheet := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(sheet, []byte(
		"senderName,senderPhone,receiverName,receiverPhone,receiverAddress,receiverCity,packageCount,packageWeight,serviceType\n"+
			"Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.5,STANDARD\n"), 0o600))

	out, err := execute(t, "--config", dir, "--env-file", "", "ingest", sheet)
	require.NoError(t, err, out)

	var summary struct {
		BatchID      string `json:"batchId"`
		CreatedCount int    `json:"createdCount"`
		Rows         []struct {
			OrderID string `json:"orderId"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.CreatedCount)
	require.Len(t, summary.Rows, 1)

	out, err = execute(t, "--config", dir, "--env-file", "", "orders", "transition", summary.Rows[0].OrderID, "confirmed", "--by", "ops@example.com")
	require.NoError(t, err, out)

	var change struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
		Event struct {
			ChangedBy string `json:"changedBy"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &change))
	assert.Equal(t, "CONFIRMED", change.Order.Status)
	assert.Equal(t, "ops@example.com", change.Event.ChangedBy)

	out, err = execute(t, "--config", dir, "--env-file", "", "orders", "transition", summary.Rows[0].OrderID, "delivered")
	assert.Error(t, err, out)

	out, err = execute(t, "--config", dir, "--env-file", "", "batches", "report", summary.BatchID)
	require.NoError(t, err, out)
	assert.True(t, strings.HasPrefix(out, "rowIndex,status,"))
	assert.Contains(t, out, "1,CREATED,CONTENT_HASH,")
}

func TestMaintenanceCommands(t *testing.T) {
	dir := writeConfig(t)

	out, err := execute(t, "--config", dir, "--env-file", "", "migrate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "migrations applied")

	out, err = execute(t, "--config", dir, "--env-file", "", "purge")
	require.NoError(t, err, out)
	assert.JSONEq(t, `{"rowsPurged":0,"batchesPurged":0}`, out)

	out, err = execute(t, "--config", dir, "--env-file", "", "batches", "stale", "--older-than", "1h")
	require.NoError(t, err, out)
	assert.JSONEq(t, `[]`, out)
}

func TestIngestRequiresFile(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "ingest", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
