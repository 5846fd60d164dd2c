// Package telemetry wires OpenTelemetry metrics and traces for the outpatient
// service and defines the counters the queue and vitals flows record.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ehr/opd"

type Config struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	OTLPEndpoint    string
	MetricsInterval time.Duration
	SampleRate      float64
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "opd-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = 15 * time.Second
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
}

// Setup installs global meter and tracer providers exporting over OTLP gRPC.
// With no endpoint configured it installs nothing and the global no-op
// providers stay in place. The returned function flushes and stops exporters.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	cfg.applyDefaults()
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(cfg.MetricsInterval))),
	)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}

// Metrics holds the outpatient counters.
type Metrics struct {
	QueueEnqueued      metric.Int64Counter
	QueueTransitions   metric.Int64Counter
	VitalsCompleted    metric.Int64Counter
	SideEffectWarnings metric.Int64Counter
	BillsCreated       metric.Int64Counter
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
}

// NewMetrics registers the counters on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.QueueEnqueued, "opd.queue.enqueued", "Queue entries created or returned by an idempotent re-enqueue"},
		{&m.QueueTransitions, "opd.queue.transitions", "Queue status transitions applied"},
		{&m.VitalsCompleted, "opd.vitals.completed", "Vitals completions whose vitals were persisted"},
		{&m.SideEffectWarnings, "opd.vitals.side_effect_warnings", "Best-effort steps of vitals completion that failed"},
		{&m.BillsCreated, "opd.billing.consultation_bills", "Consultation bills created"},
		{&m.CacheHits, "opd.cache.hit.count", "Doctor directory cache hits"},
		{&m.CacheMisses, "opd.cache.miss.count", "Doctor directory cache misses"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// MustNewMetrics is NewMetrics for callers holding a provider that cannot fail,
// such as the global one or a no-op provider in tests.
func MustNewMetrics(mp metric.MeterProvider) *Metrics {
	m, err := NewMetrics(mp)
	if err != nil {
		panic(err)
	}
	return m
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
