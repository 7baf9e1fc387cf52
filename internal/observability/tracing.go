package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/otel"
)

// TraceManager provides span-creation helpers scoped to Symposium's
// envelope-based bus rather than gRPC: publish, consume, and route spans
// instead of the teacher's A2A-message spans, carrying envelope id/type/
// correlation/origin instead of protobuf task fields.
type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{tracer: otel.Tracer(serviceName)}
}

func (tm *TraceManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (tm *TraceManager) InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (tm *TraceManager) ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

func (tm *TraceManager) StartPublishSpan(ctx context.Context, destination, tag string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "bus.publish", trace.WithAttributes(
		attribute.String("messaging.system", "symposium-bus"),
		attribute.String("messaging.destination", destination),
		attribute.String("messaging.operation", "publish"),
		attribute.String("envelope.type", tag),
	))
}

func (tm *TraceManager) StartConsumeSpan(ctx context.Context, source, tag string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "bus.consume", trace.WithAttributes(
		attribute.String("messaging.system", "symposium-bus"),
		attribute.String("messaging.source", source),
		attribute.String("messaging.operation", "receive"),
		attribute.String("envelope.type", tag),
	))
}

func (tm *TraceManager) StartRouteSpan(ctx context.Context, envelopeID, tag, class string, subscriberCount int) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "broker.route", trace.WithAttributes(
		attribute.String("envelope.id", envelopeID),
		attribute.String("envelope.type", tag),
		attribute.String("envelope.class", class),
		attribute.Int("subscriber.count", subscriberCount),
	))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(1, err.Error())
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(2, "")
}

// AddEnvelopeAttributes attaches the shared envelope fields to a span.
func (tm *TraceManager) AddEnvelopeAttributes(span trace.Span, id, tag, correlationID, origin string) {
	attrs := []attribute.KeyValue{
		attribute.String("envelope.id", id),
		attribute.String("envelope.type", tag),
		attribute.String("envelope.origin", origin),
	}
	if correlationID != "" {
		attrs = append(attrs, attribute.String("envelope.correlation_id", correlationID))
	}
	span.SetAttributes(attrs...)
}

func (tm *TraceManager) AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("symposium.component", component))
}

// AddFieldAttributes flattens a shallow payload map onto a span, used for
// debug-level tracing of tool-server request parameters.
func (tm *TraceManager) AddFieldAttributes(span trace.Span, prefix string, fields map[string]any) {
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(prefix+key, v))
		case float64:
			span.SetAttributes(attribute.Float64(prefix+key, v))
		case bool:
			span.SetAttributes(attribute.Bool(prefix+key, v))
		default:
			span.SetAttributes(attribute.String(prefix+key, fmt.Sprintf("%v", v)))
		}
	}
}
