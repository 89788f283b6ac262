package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	TriggersIntercepted metric.Int64Counter
	TriggersBlocked     metric.Int64Counter
	ProposalsCreated    metric.Int64Counter
	SessionsCreated     metric.Int64Counter
	WorkflowsStarted    metric.Int64Counter
	WorkflowsCompleted  metric.Int64Counter
	WorkflowsFailed     metric.Int64Counter
	StepRetries         metric.Int64Counter
	StepDuration        metric.Float64Histogram
	InterceptLatency    metric.Float64Histogram
)

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	// Create OTLP trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Create trace provider
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global trace provider and propagator
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Create global tracer
	Tracer = otel.Tracer(serviceName)

	// Create global meter
	Meter = otel.Meter(serviceName)

	// Initialize custom metrics
	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	// Return shutdown function
	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// Count increments a counter when telemetry has been initialized. Library
// code calls this so it stays inert in tests and embedded use.
func Count(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}

// Observe records a histogram sample when telemetry has been initialized.
func Observe(ctx context.Context, h metric.Float64Histogram, v float64) {
	if h != nil {
		h.Record(ctx, v)
	}
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	TriggersIntercepted, err = Meter.Int64Counter(
		"steward.triggers.intercepted",
		metric.WithDescription("Number of triggers intercepted"),
	)
	if err != nil {
		return err
	}

	TriggersBlocked, err = Meter.Int64Counter(
		"steward.triggers.blocked",
		metric.WithDescription("Number of triggers blocked (routed to training or proposal)"),
	)
	if err != nil {
		return err
	}

	ProposalsCreated, err = Meter.Int64Counter(
		"steward.proposals.created",
		metric.WithDescription("Number of proposals created"),
	)
	if err != nil {
		return err
	}

	SessionsCreated, err = Meter.Int64Counter(
		"steward.supervision.sessions",
		metric.WithDescription("Number of supervision sessions created"),
	)
	if err != nil {
		return err
	}

	WorkflowsStarted, err = Meter.Int64Counter(
		"steward.workflows.started",
		metric.WithDescription("Number of workflow executions started"),
	)
	if err != nil {
		return err
	}

	WorkflowsCompleted, err = Meter.Int64Counter(
		"steward.workflows.completed",
		metric.WithDescription("Number of workflow executions completed"),
	)
	if err != nil {
		return err
	}

	WorkflowsFailed, err = Meter.Int64Counter(
		"steward.workflows.failed",
		metric.WithDescription("Number of workflow executions failed"),
	)
	if err != nil {
		return err
	}

	StepRetries, err = Meter.Int64Counter(
		"steward.steps.retries",
		metric.WithDescription("Number of step retry attempts"),
	)
	if err != nil {
		return err
	}

	StepDuration, err = Meter.Float64Histogram(
		"steward.steps.duration",
		metric.WithDescription("Step execution time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	InterceptLatency, err = Meter.Float64Histogram(
		"steward.intercept.latency",
		metric.WithDescription("Trigger interception latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
