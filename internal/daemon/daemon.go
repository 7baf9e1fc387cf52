// Package daemon is the supervisor process started by "symposium daemon"
// (§6): it wins (or loses) the endpoint acquisition race, and on winning
// runs the Broker Core, the observability stack, the health/metrics HTTP
// server, and an embedded Orchestrator peer, all until its context is
// canceled. Losing the race is not an error the daemon subcommand should
// retry: the caller (cmd/symposium) maps a lost race to the distinguishable
// exit status §6 requires.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/socratic-shell/symposium-sub004/internal/acquire"
	"github.com/socratic-shell/symposium-sub004/internal/broker"
	"github.com/socratic-shell/symposium-sub004/internal/busclient"
	"github.com/socratic-shell/symposium-sub004/internal/config"
	"github.com/socratic-shell/symposium-sub004/internal/observability"
	"github.com/socratic-shell/symposium-sub004/internal/orchestrator"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// Options selects the project this daemon's embedded Orchestrator manages.
// ProjectPath may be empty, in which case the daemon runs the Broker Core
// and observability stack only — useful for a bare rendezvous point with no
// taskspace state, which spec.md's CLI surface does not forbid.
type Options struct {
	ProjectPath string
}

// Run attempts to acquire cfg.EndpointPath and, on success, blocks running
// every daemon subsystem until ctx is canceled or a subsystem fails. A lost
// acquisition race returns a *symptom.Error of kind EndpointContention,
// never a generic error, so the CLI layer can map it to its own exit code
// without string-matching.
func Run(ctx context.Context, cfg *config.AppConfig, opts Options) error {
	result, err := acquire.Acquire(cfg.EndpointPath)
	if err != nil {
		return err
	}
	if result.NoLeader {
		return symptom.New(symptom.EndpointContention, "another broker already owns "+cfg.EndpointPath)
	}
	ln := result.Listener
	defer ln.Close()

	obs, err := observability.New(observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		JaegerEndpoint: cfg.JaegerEndpoint,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	if err != nil {
		return symptom.Wrap(symptom.BindFailure, err, "initializing observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return symptom.Wrap(symptom.BindFailure, err, "initializing metrics")
	}

	b := broker.New(ln, broker.Config{
		QueueDepth:         cfg.PeerQueueDepth,
		ReplayMaxPerType:   cfg.ReplayMaxPerType,
		ReplayMaxAge:       cfg.ReplayMaxAge,
		QuietInterval:      cfg.QuietInterval,
		MaxFrameBytes:      cfg.MaxFrameBytes,
		MaxMalformedFrames: 5,
	}, obs.Logger, metrics)

	health := observability.NewHealthServer(cfg.HealthPort, cfg.ServiceName, cfg.ServiceVersion)
	health.AddChecker("broker", observability.NewBrokerConnectionHealthChecker("broker", cfg.EndpointPath))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return b.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		b.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		if err := health.Start(groupCtx); err != nil {
			return symptom.Wrap(symptom.BindFailure, err, "health server")
		}
		return nil
	})

	ticker := newMetricsTicker(groupCtx, metrics)
	ticker.start()
	group.Go(func() error {
		<-groupCtx.Done()
		ticker.stop()
		return nil
	})

	if opts.ProjectPath != "" {
		group.Go(func() error {
			return runOrchestratorPeer(groupCtx, cfg, opts.ProjectPath, obs.Logger)
		})
	}

	err = group.Wait()
	if err != nil && groupCtx.Err() != nil && err == groupCtx.Err() {
		return nil
	}
	return err
}

// runOrchestratorPeer dials the broker this same process just started, as
// an ordinary subscribed peer under the well-known "orchestrator" role, and
// dispatches every inbound envelope to an Orchestrator opened on
// projectPath. Modeling the Orchestrator as a bus peer rather than
// broker-internal code keeps exactly one kind of envelope-delivery path in
// the system (§9 DESIGN NOTES).
func runOrchestratorPeer(ctx context.Context, cfg *config.AppConfig, projectPath string, logger *slog.Logger) error {
	o, err := orchestrator.Open(projectPath)
	if err != nil {
		return err
	}
	defer o.Close()

	var client *busclient.Client
	for attempt := 0; ; attempt++ {
		client, err = busclient.Dial(cfg.EndpointPath, "orchestrator", nil)
		if err == nil {
			break
		}
		if attempt >= 10 {
			return symptom.Wrap(symptom.BindFailure, err, "dialing own broker as orchestrator peer")
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer client.Close()

	rollCall := o.RollCall()
	if err := client.Send(rollCall); err != nil {
		logger.Warn("failed to send startup roll call", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-client.Inbound():
			if !ok {
				if err := client.Err(); err != nil && ctx.Err() == nil {
					return symptom.Wrap(symptom.DeliveryDropped, err, "orchestrator peer connection lost")
				}
				return nil
			}
			outgoing, err := o.Dispatch(env)
			if err != nil {
				logger.Warn("orchestrator dispatch error", "type", env.Type, "err", err)
				continue
			}
			for _, out := range outgoing {
				if err := client.Send(out); err != nil {
					logger.Warn("orchestrator reply send error", "type", out.Type, "err", err)
				}
			}
		}
	}
}
