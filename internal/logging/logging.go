// Package logging builds the zap loggers shared by every component.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Format is "json" or "console". Empty means console.
	Format string
	// OutputPaths defaults to stderr. stdout belongs to command output.
	OutputPaths []string
}

// New returns a logger and the atomic level controlling it, so the level
// can be changed while the process runs.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.Encoding = "console"
	if strings.EqualFold(opts.Format, "json") {
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, cfg.Level, nil
}

// ParseLevel maps a level name to a zapcore.Level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
