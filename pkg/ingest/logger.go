package ingest

import "go.uber.org/zap"

// Logger is the structured logging capability the engine requires. It
// mirrors the shape of zap.Logger's sugar-free API so a caller can either
// hand the engine its own zap.Logger (wrapped, see internal/logging) or a
// no-op implementation in tests.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

// nopLogger discards everything. Used when a caller constructs an Engine
// without supplying a Logger.
type nopLogger struct{}

func (nopLogger) Debug(string, ...zap.Field)        {}
func (nopLogger) Info(string, ...zap.Field)         {}
func (nopLogger) Warn(string, ...zap.Field)         {}
func (nopLogger) Error(string, error, ...zap.Field) {}
func (nopLogger) With(...zap.Field) Logger          { return nopLogger{} }
