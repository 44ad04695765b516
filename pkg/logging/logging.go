// Package logging builds the zap.Logger every component threads
// through as an optional dependency (nil falls back to zap.NewNop(),
// the pattern used in internal/sstablestore and internal/version).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the process-wide logger's format and level.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to
	// "info" if empty or unrecognized.
	Level string
	// Development enables zap's development config (stack traces on
	// warn+, console encoding) instead of the production JSON config.
	Development bool
}

// New builds a *zap.Logger from cfg. The returned logger must be
// Sync()'d by the caller before process exit.
func New(cfg Config) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
