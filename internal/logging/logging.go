// Package logging builds the zap loggers used across ratewatch.
//
// Output is JSON with capitalized levels and ISO8601 timestamps. Records go to
// stderr and, when a file path is configured, also to a lumberjack-rotated file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and optional file sink.
type Config struct {
	Level string
	File  string
}

// New returns a logger plus a closer for the rotated file (a no-op closer when
// no file is configured). The closer must run before exit so the file is flushed.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	cores := []zapcore.Core{NewCore(zapcore.Lock(zapcore.AddSync(os.Stderr)), level)}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		core, c := NewFileCore(cfg.File, level)
		cores = append(cores, core)
		closer = c
	}
	return NewLogger(zapcore.NewTee(cores...)), closer, nil
}

// NewLogger wraps a core with the default options (caller info, stack traces at DPanic).
func NewLogger(core zapcore.Core, opts ...zap.Option) *zap.Logger {
	return zap.New(core, append(DefaultOptions(), opts...)...)
}

// NewCore binds the default encoder to a writer.
func NewCore(w zapcore.WriteSyncer, enabler zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(DefaultEncoder(), w, enabler)
}

// NewFileCore returns a core writing to a rotated file. lumberjack has no Sync,
// so the returned closer is the only way to flush it.
func NewFileCore(path string, enabler zapcore.LevelEnabler) (zapcore.Core, io.Closer) {
	w := DefaultRotation()
	w.Filename = path
	return NewCore(zapcore.AddSync(w), enabler), w
}

func DefaultEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

func DefaultEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(DefaultEncoderConfig())
}

func DefaultOptions() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(l zapcore.Level) bool {
		return l >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

// DefaultRotation is 200MB files, local timestamps, gzip on rotate.
func DefaultRotation() *lumberjack.Logger {
	return &lumberjack.Logger{
		MaxSize:   200,
		LocalTime: true,
		Compress:  true,
	}
}

// ParseLevel accepts debug, info, warn, error (case-insensitive). Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
