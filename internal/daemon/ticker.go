package daemon

import (
	"context"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/observability"
)

// metricsTicker periodically refreshes the process-level gauges (goroutine
// count, heap usage) that only make sense as a snapshot rather than an
// event count, adapted from the teacher's MetricsTicker to this package's
// context-and-done-channel shutdown shape.
type metricsTicker struct {
	ctx     context.Context
	metrics *observability.MetricsManager
	ticker  *time.Ticker
	done    chan struct{}
}

func newMetricsTicker(ctx context.Context, metrics *observability.MetricsManager) *metricsTicker {
	return &metricsTicker{
		ctx:     ctx,
		metrics: metrics,
		ticker:  time.NewTicker(30 * time.Second),
		done:    make(chan struct{}),
	}
}

func (t *metricsTicker) start() {
	go func() {
		defer t.ticker.Stop()
		for {
			select {
			case <-t.ticker.C:
				t.metrics.UpdateSystemMetrics(t.ctx)
			case <-t.ctx.Done():
				return
			case <-t.done:
				return
			}
		}
	}()
}

func (t *metricsTicker) stop() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
