package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, Level())
	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, Level())
	SetLevel("nonsense")
	assert.Equal(t, zapcore.InfoLevel, Level())
}

func TestWithTrace(t *testing.T) {
	assert.Empty(t, WithTrace(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	core, logs := observer.New(zapcore.DebugLevel)
	defer Use(zap.New(core))()

	WarnWithTrace(ctx, "slow peer", zap.Int("uid", 1000))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.EqualValues(t, 1000, fields["uid"])
}
