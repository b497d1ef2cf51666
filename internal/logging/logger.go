// Package logging provides the structured logger used across the ingest
// engine and its supporting CLI.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/elchinoo/pgstream/pkg/ingest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger extends ingest.Logger with the two capabilities the engine itself
// never needs but the CLI does: Fatal (log then exit) and Sync (flush
// buffered entries before process exit).
type Logger interface {
	ingest.Logger
	Fatal(msg string, err error, fields ...zap.Field)
	Sync() error
}

// zapLogger implements Logger using zap.
type zapLogger struct {
	logger *zap.Logger
}

// Config defines logger configuration loaded from YAML/env.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// New creates a new structured logger based on configuration.
func New(cfg Config) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	var options []zap.Option
	if cfg.Development {
		options = append(options, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		options = append(options, zap.AddCaller())
	}

	return &zapLogger{logger: zap.New(core, options...)}, nil
}

// NewDefault creates a logger with sensible defaults for interactive use.
func NewDefault() Logger {
	logger, err := New(Config{Level: "info", Format: "console", Output: "stdout", Development: true})
	if err != nil {
		z, _ := zap.NewDevelopment()
		return &zapLogger{logger: z}
	}
	return logger
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) {
	l.logger.Debug(msg, fields...)
}

func (l *zapLogger) Info(msg string, fields ...zap.Field) {
	l.logger.Info(msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...zap.Field) {
	l.logger.Warn(msg, fields...)
}

func (l *zapLogger) Error(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

func (l *zapLogger) Fatal(msg string, err error, fields ...zap.Field) {
	allFields := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	allFields = append(allFields, fields...)
	l.logger.Fatal(msg, allFields...)
}

// With returns an ingest.Logger so the same value can be handed directly to
// ingest.New without an adapter.
func (l *zapLogger) With(fields ...zap.Field) ingest.Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

func parseLogLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// fields provides constructors for the structured keys common to this
// domain: table, tier, worker_id, rows and duration.
type fields struct{}

// F is the package-level field helper, e.g. logging.F.Table("orders").
var F fields

func (fields) Table(name string) zap.Field { return zap.String("table", name) }
func (fields) Tier(arity int) zap.Field    { return zap.Int("tier", arity) }
func (fields) Worker(id int64) zap.Field   { return zap.Int64("worker_id", id) }
func (fields) Rows(n int) zap.Field        { return zap.Int("rows", n) }
func (fields) Duration(d time.Duration) zap.Field {
	return zap.Duration("duration", d)
}
