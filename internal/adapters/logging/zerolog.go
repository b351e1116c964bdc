package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

// ZerologLogger implements ports.Logger on top of zerolog.
type ZerologLogger struct {
	mu     sync.RWMutex
	base   zerolog.Logger
	level  ports.Level
	fields []ports.Field
}

// Option configures a ZerologLogger.
type Option func(*options)

type options struct {
	out        io.Writer
	level      ports.Level
	jsonFormat bool
	timestamps bool
	noColor    bool
	extra      []io.Writer
}

// WithOutput sets the primary output writer (default: os.Stderr).
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithLevel sets the minimum log level (default: Info).
func WithLevel(level ports.Level) Option {
	return func(o *options) { o.level = level }
}

// WithJSONFormat writes raw JSON lines instead of the console format.
func WithJSONFormat(enabled bool) Option {
	return func(o *options) { o.jsonFormat = enabled }
}

// WithTimestamp includes timestamps in log entries.
func WithTimestamp(enabled bool) Option {
	return func(o *options) { o.timestamps = enabled }
}

// WithNoColor disables ANSI colors in console output.
func WithNoColor(enabled bool) Option {
	return func(o *options) { o.noColor = enabled }
}

// WithFile tees JSON log lines into w in addition to the primary output.
func WithFile(w io.Writer) Option {
	return func(o *options) { o.extra = append(o.extra, w) }
}

// New creates a zerolog-backed logger.
func New(opts ...Option) *ZerologLogger {
	o := options{
		out:        os.Stderr,
		level:      ports.LevelInfo,
		timestamps: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	primary := o.out
	if !o.jsonFormat {
		primary = zerolog.ConsoleWriter{
			Out:        o.out,
			TimeFormat: time.Kitchen,
			NoColor:    o.noColor,
		}
	}

	writers := append([]io.Writer{primary}, o.extra...)
	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With()
	if o.timestamps {
		ctx = ctx.Timestamp()
	}

	return &ZerologLogger{
		base:  ctx.Logger().Level(toZerolog(o.level)),
		level: o.level,
	}
}

// OpenLogFile opens (appending) the log file under the XDG state directory,
// creating parent directories as needed.
func OpenLogFile(app string) (*os.File, string, error) {
	path, err := xdg.StateFile(filepath.Join(app, app+".log"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve log file path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, path, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, path, nil
}

// Debug logs a debug message.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *ZerologLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a new logger with additional fields.
func (l *ZerologLogger) With(fields ...ports.Field) ports.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make([]ports.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)

	return &ZerologLogger{
		base:   l.base,
		level:  l.level,
		fields: merged,
	}
}

// Level returns the minimum log level.
func (l *ZerologLogger) Level() ports.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetLevel sets the minimum log level.
func (l *ZerologLogger) SetLevel(level ports.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.base = l.base.Level(toZerolog(level))
}

func (l *ZerologLogger) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	l.mu.RLock()
	base := l.base
	own := l.fields
	l.mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case ports.LevelDebug:
		ev = base.Debug()
	case ports.LevelInfo:
		ev = base.Info()
	case ports.LevelWarn:
		ev = base.Warn()
	default:
		ev = base.Error()
	}
	if ev == nil {
		return
	}

	for _, f := range own {
		ev = ev.Interface(f.Key, f.Value)
	}
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func toZerolog(level ports.Level) zerolog.Level {
	switch level {
	case ports.LevelDebug:
		return zerolog.DebugLevel
	case ports.LevelInfo:
		return zerolog.InfoLevel
	case ports.LevelWarn:
		return zerolog.WarnLevel
	case ports.LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

var _ ports.Logger = (*ZerologLogger)(nil)
