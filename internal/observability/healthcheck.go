package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Duration    string       `json:"duration"`
}

type HealthResponse struct {
	Status  HealthStatus  `json:"status"`
	Checks  []HealthCheck `json:"checks"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// HealthServer exposes /health, /ready, and /metrics, matching the
// teacher's surface. /ready additionally requires every registered checker
// to report healthy; /health reports status without gating anything.
type HealthServer struct {
	port        string
	serviceName string
	version     string
	startTime   time.Time
	checkers    map[string]HealthChecker
	server      *http.Server
}

func NewHealthServer(port, serviceName, version string) *HealthServer {
	return &HealthServer{
		port: port, serviceName: serviceName, version: version,
		startTime: time.Now(), checkers: make(map[string]HealthChecker),
	}
}

func (hs *HealthServer) AddChecker(name string, checker HealthChecker) {
	hs.checkers[name] = checker
}

func (hs *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	hs.server = &http.Server{Addr: ":" + hs.port, Handler: mux}
	err := hs.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server != nil {
		return hs.server.Shutdown(ctx)
	}
	return nil
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := HealthResponse{
		Status: HealthStatusHealthy, Version: hs.version,
		Uptime: time.Since(hs.startTime).String(),
		Checks: make([]HealthCheck, 0, len(hs.checkers)),
	}

	for _, checker := range hs.checkers {
		check := checker.Check(ctx)
		response.Checks = append(response.Checks, check)
		if check.Status != HealthStatusHealthy {
			response.Status = HealthStatusUnhealthy
		}
	}

	statusCode := http.StatusOK
	if r.URL.Path == "/ready" && response.Status != HealthStatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// BasicHealthChecker runs an arbitrary function and reports healthy iff it
// returns nil.
type BasicHealthChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

func NewBasicHealthChecker(name string, checkFn func(ctx context.Context) error) *BasicHealthChecker {
	return &BasicHealthChecker{name: name, checkFn: checkFn}
}

func (bhc *BasicHealthChecker) Check(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: bhc.name, LastChecked: start}

	if err := bhc.checkFn(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start).String()
	return check
}

// BrokerConnectionHealthChecker reports healthy iff a unix socket dial to
// the broker's rendezvous endpoint succeeds within a short timeout. This
// replaces the teacher's GRPCHealthChecker now that the transport is a
// unix domain socket rather than a gRPC channel.
type BrokerConnectionHealthChecker struct {
	checkerName  string
	endpointPath string
	dialTimeout  time.Duration
}

func NewBrokerConnectionHealthChecker(name, endpointPath string) *BrokerConnectionHealthChecker {
	return &BrokerConnectionHealthChecker{checkerName: name, endpointPath: endpointPath, dialTimeout: 500 * time.Millisecond}
}

func (c *BrokerConnectionHealthChecker) Check(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: c.checkerName, LastChecked: start}

	conn, err := net.DialTimeout("unix", c.endpointPath, c.dialTimeout)
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		conn.Close()
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start).String()
	return check
}
