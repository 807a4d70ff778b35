// Package observability provides OpenTelemetry tracing and RED metrics for
// attestation, verification and sharing operations.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "verichat"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC, host:port
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "verichat",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the trace and metric pipelines. The zero value and a nil
// *Provider both fall back to the global no-op providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger
	inst           *instruments
}

// instruments are created once per enabled provider.
type instruments struct {
	operations metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
	checks     metric.Int64Counter
}

// Noop returns a provider that records nothing.
func Noop() *Provider {
	return &Provider{config: DefaultConfig(), logger: slog.Default().With("component", "observability")}
}

// New builds the OTLP pipelines described by config. A disabled config
// yields a no-op provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		p := Noop()
		p.config = config
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	var traceOpts []otlptracegrpc.Option
	var metricOpts []otlpmetricgrpc.Option
	traceOpts = append(traceOpts, otlptracegrpc.WithEndpoint(config.OTLPEndpoint))
	metricOpts = append(metricOpts, otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint))
	if config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p, err := newPipeline(config,
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(config.BatchTimeout)),
		sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(interval)),
	)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// newPipeline wires a span processor and a metric reader into providers
// without touching the globals.
func newPipeline(config *Config, spans sdktrace.TracerProviderOption, reader sdkmetric.Reader) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SampleRate)),
		spans,
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))

	if p.inst, err = newInstruments(p.meter); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}
	return p, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.operations, err = m.Int64Counter("verichat.operations.total",
		metric.WithDescription("Operations started"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if in.failures, err = m.Int64Counter("verichat.errors.total",
		metric.WithDescription("Operations that returned an error"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if in.duration, err = m.Float64Histogram("verichat.operation.duration",
		metric.WithDescription("Operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15)); err != nil {
		return nil, err
	}
	if in.inflight, err = m.Int64UpDownCounter("verichat.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if in.checks, err = m.Int64Counter("verichat.verifier.checks",
		metric.WithDescription("Verification check outcomes"),
		metric.WithUnit("{check}")); err != nil {
		return nil, err
	}
	return &in, nil
}

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// TrackOperation opens a span named name and counts the operation. Call the
// returned function exactly once with the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))

	var in *instruments
	if p != nil {
		in = p.inst
	}
	base := append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)
	opAttrs := metric.WithAttributes(base...)
	if in != nil {
		in.inflight.Add(ctx, 1, opAttrs)
		in.operations.Add(ctx, 1, opAttrs)
	}

	return ctx, func(err error) {
		if in != nil {
			in.inflight.Add(ctx, -1, opAttrs)
			in.duration.Record(ctx, time.Since(start).Seconds(), opAttrs)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if in != nil {
				errAttrs := append(base[:len(base):len(base)], attribute.String("error.type", fmt.Sprintf("%T", err)))
				in.failures.Add(ctx, 1, metric.WithAttributes(errAttrs...))
			}
		}
		span.End()
	}
}

// RecordCheck counts one verification check outcome.
func (p *Provider) RecordCheck(ctx context.Context, check string, valid bool) {
	if p == nil || p.inst == nil {
		return
	}
	outcome := "fail"
	if valid {
		outcome = "pass"
	}
	p.inst.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}
