// Package logging builds the process zap logger and adapts it to the
// key/value Logger interface the core service expects.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger at level. Development mode switches to the
// human-readable console encoder.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ZapLogger satisfies core.Logger on top of a sugared zap logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps logger. A nil logger discards everything.
func NewZapLogger(logger *zap.Logger) ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ZapLogger{sugar: logger.Sugar()}
}

func (l ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
