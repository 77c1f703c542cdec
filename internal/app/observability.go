package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
)

const sentryFlushTimeout = 2 * time.Second

// Observability owns the error reporter and tracer provider for the process lifetime.
type Observability struct {
	SentryEnabled  bool
	TracingEnabled bool

	shutdown []func(context.Context) error
}

// InitObservability configures Sentry and OpenTelemetry tracing from cfg. Each backend is
// skipped when its endpoint is empty, so the zero config yields a no-op value.
func InitObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	obs := &Observability{}

	if dsn := strings.TrimSpace(cfg.Sentry.DSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      cfg.Sentry.Environment,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
			AttachStacktrace: true,
		}); err != nil {
			return nil, fmt.Errorf("observability: init sentry: %w", err)
		}
		obs.SentryEnabled = true
		obs.shutdown = append(obs.shutdown, func(context.Context) error {
			sentry.Flush(sentryFlushTimeout)
			return nil
		})
	}

	if endpoint := strings.TrimSpace(cfg.Tracing.Endpoint); endpoint != "" {
		provider, err := newTracerProvider(ctx, endpoint, cfg.Tracing)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		obs.TracingEnabled = true
		obs.shutdown = append(obs.shutdown, provider.Shutdown)
	}

	return obs, nil
}

func newTracerProvider(ctx context.Context, endpoint string, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create otlp exporter: %w", err)
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "feedguard"
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	), nil
}

// Shutdown flushes pending events and spans in reverse order of initialisation.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var err error
	for i := len(o.shutdown) - 1; i >= 0; i-- {
		err = multierr.Append(err, o.shutdown[i](ctx))
	}
	o.shutdown = nil
	return err
}
