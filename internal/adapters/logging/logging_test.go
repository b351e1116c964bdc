package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	assert.Same(t, logger, logger.With(ports.F("key", "value")))
	assert.Equal(t, ports.LevelInfo, logger.Level())

	logger.SetLevel(ports.LevelDebug)
	assert.Equal(t, ports.LevelDebug, logger.Level())
}

func TestZerologLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf), WithJSONFormat(true), WithTimestamp(false))

	logger.With(ports.F("run_id", "r-1")).Info(context.Background(), "step finished",
		ports.F("step", "create-venv"),
		ports.F("attempts", 1),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "step finished", entry["message"])
	assert.Equal(t, "create-venv", entry["step"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.InDelta(t, 1, entry["attempts"], 0)
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf), WithJSONFormat(true), WithLevel(ports.LevelWarn))
	ctx := context.Background()

	logger.Debug(ctx, "hidden debug")
	logger.Info(ctx, "hidden info")
	logger.Warn(ctx, "visible warn")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible warn")

	logger.SetLevel(ports.LevelDebug)
	logger.Debug(ctx, "now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Equal(t, ports.LevelDebug, logger.Level())
}

func TestZerologLogger_ConsoleAndFile(t *testing.T) {
	var console, file bytes.Buffer
	logger := New(WithOutput(&console), WithNoColor(true), WithFile(&file))

	logger.Error(context.Background(), "fatal step failed", ports.F("step", "run-migrations"))

	assert.Contains(t, console.String(), "fatal step failed")
	assert.Contains(t, console.String(), "step=run-migrations")
	assert.True(t, strings.HasPrefix(file.String(), "{"), "file output is JSON")
	assert.Contains(t, file.String(), `"step":"run-migrations"`)
}
