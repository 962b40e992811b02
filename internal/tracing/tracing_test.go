package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan_Disabled(t *testing.T) {
	require.NoError(t, Init("ipcd", "test", "", 1))

	ctx, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	assert.Equal(t, trace.SpanFromContext(ctx), span)
	span.End()
	assert.NoError(t, Shutdown(context.Background()))
}

func TestStartSpan_Exports(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	InitWithExporter("ipcd", "test", exp, 1)

	_, span := StartSpan(context.Background(), "ipcd.handle_connection", attribute.Int64("peer.uid", 1000))
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tracerProvider.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ipcd.handle_connection", spans[0].Name)

	require.NoError(t, Shutdown(context.Background()))
	assert.Nil(t, Tracer)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOn")
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0.25).Description(), "ParentBased")
}
