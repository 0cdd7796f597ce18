package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func observed(level logger.LogLevel, showSQL bool) (*ZapGormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapGormLogger(zap.New(core), level, showSQL), logs
}

func TestTraceAttachesSpanContext(t *testing.T) {
	l, logs := observed(logger.Warn, false)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT INTO points_transactions", 0 }, errors.New("UNIQUE constraint failed"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, sc.TraceID().String(), fields["trace_id"])
	require.Equal(t, sc.SpanID().String(), fields["span_id"])
}

func TestTraceLevels(t *testing.T) {
	l, logs := observed(logger.Warn, false)
	l.SlowThreshold = time.Millisecond

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 1", 1 }, nil)
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, logger.ErrRecordNotFound)
	require.Equal(t, 1, logs.Len())

	silent := l.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	require.Equal(t, 1, logs.Len())
}

func TestParamsFilter(t *testing.T) {
	l, _ := observed(logger.Info, false)
	_, params := l.ParamsFilter(context.Background(), "SELECT ?", "mem-1")
	require.Nil(t, params)

	l, _ = observed(logger.Info, true)
	_, params = l.ParamsFilter(context.Background(), "SELECT ?", "mem-1")
	require.Equal(t, []interface{}{"mem-1"}, params)
}
