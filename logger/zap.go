package logger

import (
	"go.uber.org/zap"

	"cowtree"
)

// Zap wraps a zap.Logger to implement cowtree.Logger.
type Zap struct {
	logger *zap.SugaredLogger
}

// NewZap creates a cowtree.Logger from a zap.Logger. Store events are
// logged under the "cowtree" logger name.
func NewZap(logger *zap.Logger) cowtree.Logger {
	return &Zap{logger: logger.Named("cowtree").Sugar()}
}

// Error logs an error message with key-value pairs.
func (z *Zap) Error(msg string, args ...any) {
	z.logger.Errorw(msg, args...)
}

// Warn logs a warning message with key-value pairs.
func (z *Zap) Warn(msg string, args ...any) {
	z.logger.Warnw(msg, args...)
}

// Info logs an info message with key-value pairs.
func (z *Zap) Info(msg string, args ...any) {
	z.logger.Infow(msg, args...)
}
