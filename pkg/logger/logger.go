package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls how the process-wide logger is built.
type LoggerConfig struct {
	// Debug enables debug-level output.
	Debug bool
}

// NewLogger builds a JSON zap logger. Timestamps are ISO8601 and the level
// defaults to info.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Sampling = nil

	if cfg != nil && cfg.Debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Nop returns a logger that discards everything. Handy for tests and for
// callers that pass a nil logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
