package otelcol

import (
	"context"
	"testing"

	"smallbiznis-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
)

func TestProvidersFallBackToGlobal(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := &config.Config{}

	tp, err := NewTracerProvider(lc, cfg)
	require.NoError(t, err)
	require.Equal(t, otel.GetTracerProvider(), tp)

	mp, err := NewMeterProvider(lc, cfg)
	require.NoError(t, err)
	require.Equal(t, otel.GetMeterProvider(), mp)
}

func TestProvideTraceExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exporter)

	_, span := tp.Tracer("test").Start(context.Background(), "loyalty.ProcessEvent")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))
	require.NoError(t, tp.Shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "loyalty.ProcessEvent", spans[0].Name)
}
