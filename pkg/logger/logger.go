// Package logger provides logging implementations for the accounts service
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pnocera/accounts/pkg/interfaces"
)

// ZapLogger adapts a zap logger to interfaces.Logger
type ZapLogger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// Options configures a new logger
type Options struct {
	Level  string
	Format string // json or console
}

// New builds a zap-backed logger writing to stderr
func New(opts Options) (*ZapLogger, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, opts.Level); err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(opts.Format) {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &ZapLogger{base: base, level: level}, nil
}

// NewFromZap wraps an existing zap logger
func NewFromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base, level: zap.NewAtomicLevelAt(zap.DebugLevel)}
}

// SetLevel parses a level name into an atomic level
func SetLevel(level zap.AtomicLevel, name string) error {
	if name == "" {
		name = "info"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

// SetLevel changes the level of this logger and all loggers derived from it
func (l *ZapLogger) SetLevel(name string) error {
	return SetLevel(l.level, name)
}

// Level returns the current level name
func (l *ZapLogger) Level() string {
	return l.level.Level().String()
}

// Zap exposes the underlying zap logger
func (l *ZapLogger) Zap() *zap.Logger {
	return l.base
}

// Sync flushes buffered entries
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// Debug logs debug level messages
func (l *ZapLogger) Debug(msg string, fields ...map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}

// Info logs info level messages
func (l *ZapLogger) Info(msg string, fields ...map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}

// Warn logs warning level messages
func (l *ZapLogger) Warn(msg string, fields ...map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}

// Error logs error level messages
func (l *ZapLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.base.Error(msg, zf...)
}

// WithFields returns a logger with additional fields
func (l *ZapLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	return &ZapLogger{
		base:  l.base.With(toZapFields([]map[string]interface{}{fields})...),
		level: l.level,
	}
}

func toZapFields(fields []map[string]interface{}) []zap.Field {
	var out []zap.Field
	for _, fieldMap := range fields {
		for key, value := range fieldMap {
			out = append(out, zap.Any(key, value))
		}
	}
	return out
}

var _ interfaces.Logger = (*ZapLogger)(nil)

// NewConsoleLogger creates a human readable logger
func NewConsoleLogger(level string) interfaces.Logger {
	l, err := New(Options{Level: level, Format: "console"})
	if err != nil {
		return NewFromZap(zap.NewExample())
	}
	return l
}

// NewTestLogger creates a logger for testing
func NewTestLogger() interfaces.Logger {
	return NewFromZap(zap.NewNop())
}
