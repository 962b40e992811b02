// Package logger holds the process-wide zap logger.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// L is the global logger. It discards everything until Init.
	L = zap.NewNop()

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func parseLevel(name string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Init builds the production JSON logger at the named level.
func Init(name string) error {
	level.SetLevel(parseLevel(name))

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	L = l
	return nil
}

// SetLevel changes the level at runtime. Unknown names mean info.
func SetLevel(name string) {
	level.SetLevel(parseLevel(name))
}

// Level returns the current level.
func Level() zapcore.Level {
	return level.Level()
}

// Use swaps the global logger and returns a function restoring the old one.
func Use(l *zap.Logger) (restore func()) {
	prev := L
	L = l
	return func() { L = prev }
}

// Sync flushes buffered entries.
func Sync() {
	_ = L.Sync()
}

func Debug(msg string, fields ...zap.Field) { L.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L.Warn(msg, fields...) }

// WithTrace appends trace_id and span_id when ctx carries a valid span.
func WithTrace(ctx context.Context, fields ...zap.Field) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func DebugWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Debug(msg, WithTrace(ctx, fields...)...)
}

func WarnWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Warn(msg, WithTrace(ctx, fields...)...)
}
