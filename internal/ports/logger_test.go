package ports_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ports.Level
	}{
		{in: "debug", want: ports.LevelDebug},
		{in: "INFO", want: ports.LevelInfo},
		{in: "", want: ports.LevelInfo},
		{in: "warning", want: ports.LevelWarn},
		{in: "error", want: ports.LevelError},
	}

	for _, tt := range tests {
		got, err := ports.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.NotEqual(t, "UNKNOWN", got.String())
	}

	_, err := ports.ParseLevel("loud")
	assert.Error(t, err)
}

func TestErrField(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ports.Field{Key: "error", Value: "boom"}, ports.Err(errors.New("boom")))
	assert.Equal(t, ports.Field{Key: "error", Value: ""}, ports.Err(nil))
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ports.LoggerFromContext(context.Background()))

	var logger ports.Logger = stubLogger{}
	ctx := ports.ContextWithLogger(context.Background(), logger)
	assert.Equal(t, logger, ports.LoggerFromContext(ctx))
}

type stubLogger struct{}

func (stubLogger) Debug(context.Context, string, ...ports.Field) {}
func (stubLogger) Info(context.Context, string, ...ports.Field)  {}
func (stubLogger) Warn(context.Context, string, ...ports.Field)  {}
func (stubLogger) Error(context.Context, string, ...ports.Field) {}
func (s stubLogger) With(...ports.Field) ports.Logger            { return s }
func (stubLogger) Level() ports.Level                            { return ports.LevelInfo }
func (stubLogger) SetLevel(ports.Level)                          {}
