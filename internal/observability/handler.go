package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BusHandler implements slog.Handler. Every record updates metrics and, if
// an EventPoster has been wired via SetEventPoster, is additionally
// buffered and shipped onto the bus as a "log" envelope — this is the
// bus-publishing log sink named in §9 DESIGN NOTES. A component with no
// poster wired just gets the metrics side effects for free.
type BusHandler struct {
	opts        HandlerOptions
	tracer      trace.Tracer
	meter       metric.Meter
	serviceName string

	eventCounter  metric.Int64Counter
	eventDuration metric.Float64Histogram
	eventErrors   metric.Int64Counter
	logCounter    metric.Int64Counter

	postEvent func(EventData) error

	buffer   chan logEntry
	mu       sync.RWMutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type HandlerOptions struct {
	Level       slog.Level
	Writer      io.Writer
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
	BufferSize  int
}

type logEntry struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs []slog.Attr
	ctx   context.Context
}

// EventData is the payload shape of the "log" envelope type tag.
type EventData struct {
	ID      string            `json:"id"`
	Level   string            `json:"level"`
	Source  string            `json:"source"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
	Fields  map[string]any    `json:"fields"`
	Headers map[string]string `json:"headers"`
	TraceID string            `json:"trace_id,omitempty"`
	SpanID  string            `json:"span_id,omitempty"`
}

func NewBusHandler(tracer trace.Tracer, meter metric.Meter, serviceName string, opts HandlerOptions) (*BusHandler, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	eventCounter, err := meter.Int64Counter("logs_processed_total", metric.WithDescription("Total number of log records processed"))
	if err != nil {
		return nil, err
	}
	eventDuration, err := meter.Float64Histogram("log_post_duration_seconds", metric.WithDescription("Time spent shipping a log record onto the bus"))
	if err != nil {
		return nil, err
	}
	eventErrors, err := meter.Int64Counter("log_errors_total", metric.WithDescription("Total number of log handling errors"))
	if err != nil {
		return nil, err
	}
	logCounter, err := meter.Int64Counter("logs_total", metric.WithDescription("Total number of log entries by level"))
	if err != nil {
		return nil, err
	}

	h := &BusHandler{
		opts:          opts,
		tracer:        tracer,
		meter:         meter,
		serviceName:   serviceName,
		eventCounter:  eventCounter,
		eventDuration: eventDuration,
		eventErrors:   eventErrors,
		logCounter:    logCounter,
		buffer:        make(chan logEntry, opts.BufferSize),
		shutdown:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.processLogs()

	return h, nil
}

func (h *BusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *BusHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		attrs = append(attrs,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	entry := logEntry{time: r.Time, level: r.Level, msg: r.Message, attrs: attrs, ctx: ctx}

	select {
	case h.buffer <- entry:
	default:
		h.eventErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error", "log_buffer_full"),
			attribute.String("service", h.serviceName),
		))
	}

	return nil
}

func (h *BusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandler, _ := NewBusHandler(h.tracer, h.meter, h.serviceName, h.opts)
	return newHandler
}

func (h *BusHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *BusHandler) processLogs() {
	defer h.wg.Done()

	for {
		select {
		case entry := <-h.buffer:
			h.processLogEntry(entry)
		case <-h.shutdown:
			for {
				select {
				case entry := <-h.buffer:
					h.processLogEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (h *BusHandler) processLogEntry(entry logEntry) {
	h.logCounter.Add(entry.ctx, 1, metric.WithAttributes(
		attribute.String("level", entry.level.String()),
		attribute.String("service", h.serviceName),
	))

	if h.opts.Writer != nil {
		fields := make(map[string]any, len(entry.attrs))
		for _, attr := range entry.attrs {
			fields[attr.Key] = attr.Value.Any()
		}
		line, _ := json.Marshal(map[string]any{
			"time": entry.time.Format(time.RFC3339), "level": entry.level.String(),
			"msg": entry.msg, "service": h.serviceName, "fields": fields,
		})
		fmt.Fprintln(h.opts.Writer, string(line))
	}

	h.mu.RLock()
	poster := h.postEvent
	h.mu.RUnlock()
	if poster == nil {
		return
	}

	fields := make(map[string]any, len(entry.attrs))
	headers := make(map[string]string)
	var traceID, spanID string
	for _, attr := range entry.attrs {
		switch attr.Key {
		case "trace_id":
			traceID = attr.Value.String()
			headers["trace_id"] = traceID
		case "span_id":
			spanID = attr.Value.String()
			headers["span_id"] = spanID
		default:
			fields[attr.Key] = attr.Value.Any()
		}
	}

	event := EventData{
		Level: entry.level.String(), Source: h.serviceName, Message: entry.msg,
		Time: entry.time, Fields: fields, Headers: headers, TraceID: traceID, SpanID: spanID,
	}

	start := time.Now()
	go func() {
		err := poster(event)
		h.eventDuration.Record(context.Background(), time.Since(start).Seconds())
		if err != nil {
			h.eventErrors.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("error", "post_event_failed"),
				attribute.String("service", h.serviceName),
			))
		}
	}()
}

// SetEventPoster wires the function used to ship a log record onto the
// bus. Components without a live broker connection (or before one is
// established) simply never call this and keep local-only logging.
func (h *BusHandler) SetEventPoster(poster func(EventData) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postEvent = poster
}

func (h *BusHandler) Shutdown(ctx context.Context) error {
	close(h.shutdown)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
