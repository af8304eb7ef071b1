package telemetry

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
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/StuartCAlexander88/World-Queries/internal/config"
)

// InstrumentationName is used for the tracer and meter of this module.
const InstrumentationName = "world-queries"

// Provider holds the OTEL trace and metric providers and their shutdown func.
// A nil *Provider is valid and means telemetry is disabled.
type Provider struct {
	shutdown func(context.Context) error
}

// Init sets up trace and metric export to the collector in cfg. It returns a
// nil Provider when no endpoint is configured. The gRPC dial is non-blocking,
// so an unreachable collector never delays the pipeline.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("building OTEL resource: %w", err)
	}

	var connOpts []grpc.DialOption
	if cfg.OTLPInsecure {
		connOpts = append(connOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(cfg.OTLPEndpoint, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for OTEL: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		tp.Shutdown(ctx) //nolint:errcheck
		conn.Close()     //nolint:errcheck
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	// A one-shot run exits long before a periodic reader would tick; Shutdown
	// performs the final collection.
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(30*time.Second),
		)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Warn("otel export error", "err", err)
	}))

	shutdown := func(ctx context.Context) error {
		mp.Shutdown(ctx) //nolint:errcheck
		tp.Shutdown(ctx) //nolint:errcheck
		return conn.Close()
	}

	return &Provider{shutdown: shutdown}, nil
}

// Shutdown flushes and closes all OTEL exporters. ctx should have a deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// AttemptCounter counts readiness attempts per target and outcome.
type AttemptCounter struct {
	counter metric.Int64Counter
}

// NewAttemptCounter registers the counter on the global meter provider, which
// is a no-op until Init installs a real one.
func NewAttemptCounter() (*AttemptCounter, error) {
	c, err := otel.Meter(InstrumentationName).Int64Counter(
		"readiness.attempts",
		metric.WithDescription("Connection attempts made while waiting for stack dependencies"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempt counter: %w", err)
	}
	return &AttemptCounter{counter: c}, nil
}

// Record adds one attempt for target.
func (a *AttemptCounter) Record(ctx context.Context, target string, ok bool) {
	a.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.Bool("ok", ok),
	))
}
