// Package tracing exports OTel spans for the ACP runtime over OTLP/HTTP.
//
// Spans are dropped until Init is given a collector endpoint, either from
// configuration or from OTEL_EXPORTER_OTLP_ENDPOINT.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "acpbridge"

var (
	mu        sync.RWMutex
	provider  trace.TracerProvider = noop.NewTracerProvider()
	exporting *sdktrace.TracerProvider
)

// Init starts exporting spans to endpoint. An empty endpoint falls back to
// OTEL_EXPORTER_OTLP_ENDPOINT; with neither set tracing stays disabled.
// Plain http:// endpoints are dialed without TLS.
func Init(ctx context.Context, endpoint, version string) error {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpointHost(endpoint))}
	if !strings.HasPrefix(endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		res = resource.Default()
	}

	p := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	mu.Lock()
	provider = p
	exporting = p
	mu.Unlock()
	otel.SetTracerProvider(p)
	return nil
}

// endpointHost strips the scheme; otlptracehttp wants host:port.
func endpointHost(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}

// SetProvider swaps the provider spans are created from.
func SetProvider(p trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = p
}

// Tracer returns a named tracer from the current provider.
func Tracer(name string) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return provider.Tracer(name)
}

// Shutdown flushes buffered spans and disables tracing again.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	p := exporting
	exporting = nil
	if p != nil {
		provider = noop.NewTracerProvider()
	}
	mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}
