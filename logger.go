package modctx

import (
	"go.uber.org/zap"

	"github.com/GoCodeAlone/modctx/internal/logging"
)

// Logger defines the interface for context logging. Messages carry
// key-value pairs:
//
//	logger.Info("Bootstrapped module", "module", "users", "index", 2)
//
// The sub-packages accept the same interface, so one logger serves the
// whole bootstrap.
type Logger interface {
	// Info logs normal bootstrap progress, such as a module being skipped
	// or bootstrapped.
	Info(msg string, args ...any)

	// Error logs failures that do not abort the bootstrap, such as a lock
	// that could not be released.
	Error(msg string, args ...any)

	// Warn logs unusual conditions, such as a scope failing to close during
	// teardown.
	Warn(msg string, args ...any)

	// Debug logs diagnostics: the resolved order, installer decisions.
	Debug(msg string, args ...any)
}

var _ logging.Logger = Logger(nil)

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return logging.Nop()
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Sugar()}
}

func (z *zapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *zapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *zapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }
