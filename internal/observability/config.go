package observability

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the tracing/metrics/logging setup for one Symposium
// component (broker, bridge, or tool server).
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
	LogLevel       string
}

// Observability bundles the tracer, meter, and logger a component needs,
// plus a single Shutdown that flushes everything.
type Observability struct {
	Config   Config
	Tracer   trace.Tracer
	Meter    metric.Meter
	Logger   *slog.Logger
	Handler  *BusHandler
	shutdown func(context.Context) error
}

// New wires OpenTelemetry tracing (OTLP gRPC exporter) and metrics
// (Prometheus exporter) plus a structured slog.Logger. The logger always
// writes a BusHandler so any component can later call SetEventPoster to
// ship its own logs onto the bus (§9 DESIGN NOTES: bus-publishing log sink
// wired at component construction, not a process-wide global); at DEBUG
// level it is additionally wrapped to also write text to stderr, matching
// the teacher's dual-sink behavior.
func New(cfg Config) (*Observability, error) {
	ctx := context.Background()

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Printf("[%s] otel error (otlp endpoint %s): %v", cfg.ServiceName, cfg.JaegerEndpoint, err)
	}))

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.JaegerEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(10*time.Second),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: otlp trace exporter for %s: %w", cfg.ServiceName, err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	tracer := otel.Tracer(cfg.ServiceName)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)
	meter := otel.Meter(cfg.ServiceName)

	logLevel := parseLevel(cfg.LogLevel)
	handler, err := NewBusHandler(tracer, meter, cfg.ServiceName, HandlerOptions{Level: logLevel})
	if err != nil {
		return nil, err
	}

	var logger *slog.Logger
	if logLevel == slog.LevelDebug {
		stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger = slog.New(&CombinedHandler{handlers: []slog.Handler{handler, stderrHandler}})
	} else {
		logger = slog.New(handler)
	}

	return &Observability{
		Config:  cfg,
		Tracer:  tracer,
		Meter:   meter,
		Logger:  logger,
		Handler: handler,
		shutdown: func(ctx context.Context) error {
			if err := handler.Shutdown(ctx); err != nil {
				return fmt.Errorf("observability: handler shutdown for %s: %w", cfg.ServiceName, err)
			}
			if err := tracerProvider.Shutdown(ctx); err != nil {
				return fmt.Errorf("observability: trace provider shutdown for %s: %w", cfg.ServiceName, err)
			}
			if err := meterProvider.Shutdown(ctx); err != nil {
				return fmt.Errorf("observability: meter provider shutdown for %s: %w", cfg.ServiceName, err)
			}
			return nil
		},
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	return o.shutdown(ctx)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CombinedHandler implements slog.Handler by fanning a record out to every
// wrapped handler, continuing past a failing handler rather than aborting
// the whole log call.
type CombinedHandler struct {
	handlers []slog.Handler
}

func (h *CombinedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *CombinedHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			_ = handler.Handle(ctx, record)
		}
	}
	return nil
}

func (h *CombinedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &CombinedHandler{handlers: next}
}

func (h *CombinedHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &CombinedHandler{handlers: next}
}
