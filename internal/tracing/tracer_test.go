package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoneIsNoop(t *testing.T) {
	for _, exporter := range []string{"", "none", " NONE "} {
		p, err := NewProvider(context.Background(), Config{Exporter: exporter})
		require.NoError(t, err)
		require.False(t, p.Enabled())

		_, span := p.Tracer().Start(context.Background(), "noop")
		require.False(t, span.SpanContext().IsValid())
		span.End()
		require.NoError(t, p.Shutdown(context.Background()))
	}
}

func TestStdoutProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Exporter: ExporterStdout, ServiceName: "test"})
	require.NoError(t, err)
	require.True(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Exporter: "jaeger"})
	require.ErrorContains(t, err, "jaeger")
}

func TestSpansReachExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p := newSDKProvider("test", 0, sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer().Start(context.Background(), "game.apply_move")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "game.apply_move", spans[0].Name)
}
