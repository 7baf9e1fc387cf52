// Package observability provides the tracing, metrics, structured logging,
// and health-check infrastructure shared by every Symposium component.
//
// Initialize once per component:
//
//	obs, err := observability.New(observability.Config{
//	    ServiceName: "symposium-broker", JaegerEndpoint: "127.0.0.1:4317", LogLevel: "INFO",
//	})
//	defer obs.Shutdown(context.Background())
//
// obs.Logger is a *slog.Logger whose handler also updates Prometheus
// counters for every record; call obs.Handler.SetEventPoster once the
// component has a live bus connection to additionally ship DEBUG-level
// logs as "log" envelopes, per the bus-publishing log sink design note.
//
// MetricsManager and TraceManager are constructed separately from
// obs.Meter/obs.Tracer so a component can hold just the pieces it needs.
// HealthServer exposes /health, /ready, and /metrics; BrokerConnectionHealthChecker
// and BasicHealthChecker are the two stock HealthChecker implementations.
package observability
