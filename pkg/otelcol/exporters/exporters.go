package exporters

import (
	"context"
	"strings"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const dialTimeout = 10 * time.Second

// Endpoint splits OTEL.ADDR into the host:port the OTLP clients expect. A
// plain host:port or http:// address is dialled without TLS.
func Endpoint(addr string) (hostPort string, insecure bool) {
	switch {
	case strings.HasPrefix(addr, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "https://"), "/"), false
	case strings.HasPrefix(addr, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(addr, "http://"), "/"), true
	default:
		return addr, true
	}
}

// UsesHTTP reports whether OTEL.PROTOCOL selects OTLP/HTTP. gRPC is the default.
func UsesHTTP(cfg *config.Config) bool {
	p := strings.ToLower(cfg.Otel.Protocol)
	return p == "http" || p == "http/protobuf"
}

// NewSpanExporter dials the collector over the configured protocol.
func NewSpanExporter(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	host, insecure := Endpoint(cfg.Otel.Addr)
	if UsesHTTP(cfg) {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(host),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(host),
		otlptracegrpc.WithCompressor("gzip"),
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

// NewMetricExporter always pushes over OTLP/HTTP; collectors accept both.
func NewMetricExporter(cfg *config.Config) (*otlpmetrichttp.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	host, insecure := Endpoint(cfg.Otel.Addr)
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(host),
		otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}
