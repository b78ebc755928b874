package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("rebuild started", "jobId", "j-1")
	logger.Debug("suppressed below level")

	// Text goes to the stderr writer, JSON to the file writer.
	assert.Contains(t, stderr.String(), "rebuild started")
	assert.Contains(t, stderr.String(), "jobId=j-1")
	assert.NotContains(t, stderr.String(), "suppressed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &record))
	assert.Equal(t, "rebuild started", record["msg"])
	assert.Equal(t, "j-1", record["jobId"])
}

func TestSetupLoggerFallsBackWithoutFile(t *testing.T) {
	// An unwritable path degrades to stderr-only instead of failing.
	logger, cleanup := SetupLogger(filepath.Join(t.TempDir(), "missing", "app.log"), slog.LevelInfo)
	require.NotNil(t, logger)
	require.NoError(t, cleanup())
}
