// Package observability provides OpenTelemetry tracing and metrics for the
// kernel. It exports RED metrics per endpoint plus governance-specific
// counters (route distribution, validation verdicts, scope decisions,
// recovery events) and latency histograms for turns and provider adapters.
//
// Initialize at startup and inject the provider; a disabled provider is a
// safe no-op so tests and offline tools never need a collector:
//
//	obs, err := observability.New(ctx, observability.DefaultConfig())
//	defer obs.Shutdown(ctx)
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Beaconwise-Labs/tek/pkg/kernel"
)

const instrumentationName = "tek.kernel"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // plaintext collector connection (dev only)
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tek-kernel",
		ServiceVersion: kernel.KernelVersion,
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics
	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram
	activeTurns    metric.Int64UpDownCounter

	// Governance metrics
	routeCounter      metric.Int64Counter
	validationCounter metric.Int64Counter
	scopeCounter      metric.Int64Counter
	recoveryCounter   metric.Int64Counter
	turnLatency       metric.Float64Histogram
	adapterLatency    metric.Float64Histogram
}

// New creates an observability provider. With Enabled false it returns an
// inert provider whose recorders are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("tek.component", "kernel"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("tek.requests.total",
		metric.WithDescription("Total requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("tek.errors.total",
		metric.WithDescription("Total errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("tek.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}
	p.activeTurns, err = p.meter.Int64UpDownCounter("tek.turns.active",
		metric.WithDescription("Turns currently in flight"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return err
	}

	p.routeCounter, err = p.meter.Int64Counter("tek.turns.route",
		metric.WithDescription("Turn count by governance route"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return err
	}
	p.validationCounter, err = p.meter.Int64Counter("tek.validation.results",
		metric.WithDescription("Validation verdicts by status"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return err
	}
	p.scopeCounter, err = p.meter.Int64Counter("tek.scope.decisions",
		metric.WithDescription("Scope gate decisions by action"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}
	p.recoveryCounter, err = p.meter.Int64Counter("tek.recovery.events",
		metric.WithDescription("Resilience recovery events by plan"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}
	p.turnLatency, err = p.meter.Float64Histogram("tek.turn.duration",
		metric.WithDescription("Full turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	p.adapterLatency, err = p.meter.Float64Histogram("tek.adapter.duration",
		metric.WithDescription("Provider adapter call duration in seconds"),
		metric.WithUnit("s"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
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

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRequest records one handled request.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError records one error.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.errorCounter != nil {
		allAttrs := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// RecordDuration records a request duration.
func (p *Provider) RecordDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.durationHist != nil {
		p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordRoute counts a routed turn.
func (p *Provider) RecordRoute(ctx context.Context, route string) {
	if p.routeCounter != nil {
		p.routeCounter.Add(ctx, 1, metric.WithAttributes(AttrRoute.String(route)))
	}
}

// RecordValidation counts a validation verdict.
func (p *Provider) RecordValidation(ctx context.Context, status string) {
	if p.validationCounter != nil {
		p.validationCounter.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
	}
}

// RecordScopeDecision counts a scope gate action.
func (p *Provider) RecordScopeDecision(ctx context.Context, action string) {
	if p.scopeCounter != nil {
		p.scopeCounter.Add(ctx, 1, metric.WithAttributes(AttrGateAction.String(action)))
	}
}

// RecordRecoveryEvent counts a resilience recovery event.
func (p *Provider) RecordRecoveryEvent(ctx context.Context, planID, eventType string) {
	if p.recoveryCounter != nil {
		p.recoveryCounter.Add(ctx, 1, metric.WithAttributes(
			AttrRecoveryPlan.String(planID),
			attribute.String("tek.recovery.event", eventType),
		))
	}
}

// RecordTurnLatency records the duration of one full turn.
func (p *Provider) RecordTurnLatency(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.turnLatency != nil {
		p.turnLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordAdapterLatency records one provider adapter call.
func (p *Provider) RecordAdapterLatency(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.adapterLatency != nil {
		p.adapterLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackTurn opens the turn span and in-flight gauge; the returned func
// closes both and records latency plus any error.
func (p *Provider) TrackTurn(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, SpanTurn,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.activeTurns != nil {
		p.activeTurns.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordRequest(ctx, attrs...)

	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeTurns != nil {
			p.activeTurns.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordTurnLatency(ctx, duration, attrs...)
		p.RecordDuration(ctx, duration, attrs...)
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, attrs...)
		}
		span.End()
	}
}
