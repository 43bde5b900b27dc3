// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	logx "expirybot/pkg/logx"
)

type Config struct {
	Enabled     bool
	Endpoint    string // host:port
	Insecure    bool
	ServiceName string
	SampleRatio float64
	Version     string
}

// Provider wraps the installed tracer provider. The zero value is a no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a batching OTLP/HTTP tracer provider when enabled and a
// no-op provider otherwise.
func Setup(ctx context.Context, cfg Config, log logx.Logger) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	opts := []otlptracehttp.Option{}
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(ep))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := newProvider(cfg, sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled", logx.String("endpoint", cfg.Endpoint), logx.Float64("sample_ratio", ratio(cfg)))
	return &Provider{tp: tp}, nil
}

func newProvider(cfg Config, extra ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "expirybot"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.Version != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.Version))
	}
	opts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio(cfg)))),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	}, extra...)
	return sdktrace.NewTracerProvider(opts...)
}

func ratio(cfg Config) float64 {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		return 1
	}
	return cfg.SampleRatio
}

// Tracer returns a named tracer from the installed provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}
