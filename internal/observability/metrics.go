package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager exposes the counters, histograms, and gauges every
// Symposium component records. Broker-specific gauges (peers, replay
// buffer occupancy, dropped envelopes) make the §4.2/§7 diagnostic
// requirements ("drop-count... accounted in diagnostics") observable on
// the Prometheus endpoint.
type MetricsManager struct {
	meter metric.Meter

	envelopesProcessedTotal metric.Int64Counter
	envelopeProcessDuration metric.Float64Histogram
	envelopeErrorsTotal     metric.Int64Counter
	envelopesPublishedTotal metric.Int64Counter

	goGoroutines         metric.Int64UpDownCounter
	goMemstatsAllocBytes metric.Int64UpDownCounter

	connectedPeers       metric.Int64UpDownCounter
	envelopesDroppedTotal metric.Int64Counter
	replayBufferSize     metric.Int64UpDownCounter
	peerQueueDepth       metric.Int64Histogram

	// Last values added to the goroutine and alloc-bytes counters, so each
	// UpdateSystemMetrics call adds only the change since the previous one.
	lastGoroutines int64
	lastAllocBytes int64
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}
	var err error

	if mm.envelopesProcessedTotal, err = meter.Int64Counter(
		"symposium_envelopes_processed_total",
		metric.WithDescription("Total number of envelopes processed"),
	); err != nil {
		return nil, err
	}
	if mm.envelopeProcessDuration, err = meter.Float64Histogram(
		"symposium_envelope_processing_duration_seconds",
		metric.WithDescription("Envelope processing duration in seconds"),
	); err != nil {
		return nil, err
	}
	if mm.envelopeErrorsTotal, err = meter.Int64Counter(
		"symposium_envelope_errors_total",
		metric.WithDescription("Total number of envelope processing errors"),
	); err != nil {
		return nil, err
	}
	if mm.envelopesPublishedTotal, err = meter.Int64Counter(
		"symposium_envelopes_published_total",
		metric.WithDescription("Total number of envelopes published"),
	); err != nil {
		return nil, err
	}
	if mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines", metric.WithDescription("Number of goroutines that currently exist"),
	); err != nil {
		return nil, err
	}
	if mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes", metric.WithDescription("Number of bytes allocated and still in use"),
	); err != nil {
		return nil, err
	}
	if mm.connectedPeers, err = meter.Int64UpDownCounter(
		"symposium_connected_peers", metric.WithDescription("Currently connected broker peers"),
	); err != nil {
		return nil, err
	}
	if mm.envelopesDroppedTotal, err = meter.Int64Counter(
		"symposium_envelopes_dropped_total",
		metric.WithDescription("Envelopes dropped to honor a per-peer outbound queue bound"),
	); err != nil {
		return nil, err
	}
	if mm.replayBufferSize, err = meter.Int64UpDownCounter(
		"symposium_replay_buffer_size", metric.WithDescription("Current replay buffer occupancy"),
	); err != nil {
		return nil, err
	}
	if mm.peerQueueDepth, err = meter.Int64Histogram(
		"symposium_peer_queue_depth", metric.WithDescription("Observed per-peer outbound queue depth at send time"),
	); err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MetricsManager) IncrementEnvelopesProcessed(ctx context.Context, tag, source string, success bool) {
	mm.envelopesProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", tag), attribute.String("source", source), attribute.Bool("success", success),
	))
}

func (mm *MetricsManager) RecordEnvelopeProcessingDuration(ctx context.Context, tag string, d time.Duration) {
	mm.envelopeProcessDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("type", tag)))
}

func (mm *MetricsManager) IncrementEnvelopeErrors(ctx context.Context, tag, reason string) {
	mm.envelopeErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", tag), attribute.String("reason", reason)))
}

func (mm *MetricsManager) IncrementEnvelopesPublished(ctx context.Context, tag string) {
	mm.envelopesPublishedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", tag)))
}

func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines, alloc := int64(runtime.NumGoroutine()), int64(m.Alloc)
	mm.goGoroutines.Add(ctx, goroutines-mm.lastGoroutines)
	mm.goMemstatsAllocBytes.Add(ctx, alloc-mm.lastAllocBytes)
	mm.lastGoroutines, mm.lastAllocBytes = goroutines, alloc
}

func (mm *MetricsManager) PeerConnected(ctx context.Context) {
	mm.connectedPeers.Add(ctx, 1)
}

func (mm *MetricsManager) PeerDisconnected(ctx context.Context) {
	mm.connectedPeers.Add(ctx, -1)
}

func (mm *MetricsManager) IncrementEnvelopesDropped(ctx context.Context, peerID, tag string) {
	mm.envelopesDroppedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("peer", peerID), attribute.String("type", tag),
	))
}

func (mm *MetricsManager) RecordReplayBufferDelta(ctx context.Context, delta int64) {
	mm.replayBufferSize.Add(ctx, delta)
}

func (mm *MetricsManager) RecordPeerQueueDepth(ctx context.Context, depth int) {
	mm.peerQueueDepth.Record(ctx, int64(depth))
}

// StartTimer returns a stop function that records elapsed time against
// RecordEnvelopeProcessingDuration when called.
func (mm *MetricsManager) StartTimer() func(ctx context.Context, tag string) {
	start := time.Now()
	return func(ctx context.Context, tag string) {
		mm.RecordEnvelopeProcessingDuration(ctx, tag, time.Since(start))
	}
}
