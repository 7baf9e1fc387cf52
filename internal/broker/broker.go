// Package broker implements the Broker Core (§4.2): the single process per
// user per host that owns the rendezvous endpoint, classifies and routes
// every envelope, and retains a bounded replay buffer for reconnecting
// peers. All mutable broker state is owned by one goroutine — the event
// loop started by Run — so the accept loop and per-peer reader/writer
// goroutines communicate with it exclusively over channels rather than
// sharing memory directly, the same shape the teacher's subscriber
// fan-out uses at smaller scale.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

// Config is the subset of config.AppConfig the broker needs, kept as its
// own type so this package does not import internal/config.
type Config struct {
	QueueDepth         int
	ReplayMaxPerType   int
	ReplayMaxAge       time.Duration
	QuietInterval      time.Duration
	MaxFrameBytes      int
	MaxMalformedFrames int
}

// Metrics is the subset of observability.MetricsManager the broker drives.
// Callers pass the real *observability.MetricsManager; tests pass a no-op
// stub, avoiding a hard dependency from this package on observability.
type Metrics interface {
	PeerConnected(ctx context.Context)
	PeerDisconnected(ctx context.Context)
	IncrementEnvelopesDropped(ctx context.Context, peerID, envType string)
	RecordReplayBufferDelta(ctx context.Context, delta int64)
	RecordPeerQueueDepth(ctx context.Context, depth int)
}

type noopMetrics struct{}

func (noopMetrics) PeerConnected(context.Context)                       {}
func (noopMetrics) PeerDisconnected(context.Context)                    {}
func (noopMetrics) IncrementEnvelopesDropped(context.Context, string, string) {}
func (noopMetrics) RecordReplayBufferDelta(context.Context, int64)      {}
func (noopMetrics) RecordPeerQueueDepth(context.Context, int)           {}

// Broker owns one rendezvous endpoint's worth of connected peers.
type Broker struct {
	listener net.Listener
	cfg      Config
	logger   *slog.Logger
	metrics  Metrics

	accept     chan net.Conn
	inbound    chan inboundMsg
	disconnect chan string
	stopCh     chan struct{}
	doneCh     chan struct{}

	peers     map[string]*peer
	roleIndex map[string]string
	pending   map[string]string // correlation key (request envelope id) -> requester peer id
	replay    *replayBuffer
	seq       uint64

	ctx context.Context
}

// New constructs a Broker that will serve connections accepted from ln.
// logger and metrics may be nil; a discarding logger and no-op metrics are
// substituted.
func New(ln net.Listener, cfg Config, logger *slog.Logger, metrics Metrics) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.MaxMalformedFrames <= 0 {
		cfg.MaxMalformedFrames = 5
	}
	if cfg.ReplayMaxPerType <= 0 {
		cfg.ReplayMaxPerType = 64
	}
	if cfg.ReplayMaxAge <= 0 {
		cfg.ReplayMaxAge = time.Hour
	}
	return &Broker{
		listener:   ln,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		accept:     make(chan net.Conn),
		inbound:    make(chan inboundMsg, 64),
		disconnect: make(chan string, 16),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		peers:      make(map[string]*peer),
		roleIndex:  make(map[string]string),
		pending:    make(map[string]string),
		replay:     newReplayBuffer(cfg.ReplayMaxPerType, cfg.ReplayMaxAge),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Run accepts connections and drives the event loop until ctx is canceled,
// Stop is called, or the broker exits itself after QuietInterval with no
// connected peers. It returns once the event loop has stopped and every
// peer has been disconnected; the accept goroutine exits when the listener
// is closed, which Run does not do itself.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.doneCh)
	b.ctx = ctx
	go b.acceptLoop()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if b.cfg.QuietInterval > 0 {
		idleTimer = time.NewTimer(b.cfg.QuietInterval)
		idleC = idleTimer.C
		defer idleTimer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			b.closeAllPeers()
			return ctx.Err()

		case <-b.stopCh:
			b.closeAllPeers()
			return nil

		case conn := <-b.accept:
			b.handleAccept(conn)
			if idleTimer != nil {
				idleTimer.Stop()
			}

		case msg := <-b.inbound:
			b.handleInbound(msg)

		case id := <-b.disconnect:
			b.handleDisconnect(id)
			if idleTimer != nil && len(b.peers) == 0 {
				idleTimer.Reset(b.cfg.QuietInterval)
			}

		case <-idleC:
			if len(b.peers) == 0 {
				b.logger.Info("broker idle shutdown", "quietInterval", b.cfg.QuietInterval)
				b.closeAllPeers()
				return nil
			}
		}
	}
}

// Stop requests the event loop exit; it returns once Run has finished.
func (b *Broker) Stop() {
	select {
	case <-b.doneCh:
		return
	default:
	}
	select {
	case b.stopCh <- struct{}{}:
	case <-b.doneCh:
	}
	<-b.doneCh
}

func (b *Broker) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		select {
		case b.accept <- conn:
		case <-b.doneCh:
			conn.Close()
			return
		}
	}
}

func (b *Broker) handleAccept(conn net.Conn) {
	id := uuid.NewString()
	p := newPeer(id, conn, b.cfg.QueueDepth)
	b.peers[id] = p

	go readLoop(id, conn, b.cfg.MaxFrameBytes, b.inbound, b.disconnect)
	go func() {
		p.runWriter(p.closed, func(peerID string, err error) {
			b.logger.Warn("peer write error", "peer", peerID, "err", err)
			select {
			case b.disconnect <- peerID:
			case <-b.doneCh:
			}
		})
	}()

	// Replay-on-connect (§4.2): before any live traffic is forwarded to this
	// peer, it receives every still-fresh replayable envelope. Because this
	// runs synchronously on the event-loop goroutine, anything ingressed
	// afterward is necessarily queued behind it, preserving publication
	// order for this peer.
	for _, replayed := range b.replay.Snapshot() {
		if p.wantsType(replayed.Type) {
			b.pushTo(p, replayed)
		}
	}

	b.metrics.PeerConnected(b.ctx)
	b.logger.Info("peer connected", "peer", id)
}

func (b *Broker) handleDisconnect(id string) {
	p, ok := b.peers[id]
	if !ok {
		return
	}
	delete(b.peers, id)
	if p.role != "" && b.roleIndex[p.role] == id {
		delete(b.roleIndex, p.role)
	}
	close(p.closed)
	p.conn.Close()
	b.metrics.PeerDisconnected(b.ctx)
	b.logger.Info("peer disconnected", "peer", id)
}

func (b *Broker) closeAllPeers() {
	for id := range b.peers {
		b.handleDisconnect(id)
	}
}

func (b *Broker) handleInbound(msg inboundMsg) {
	sender, senderConnected := b.peers[msg.peerID]

	if msg.parseErr != nil {
		b.logger.Warn("dropping malformed frame", "peer", msg.peerID, "err", msg.parseErr)
		b.metrics.IncrementEnvelopesDropped(b.ctx, msg.peerID, "malformed")
		if senderConnected {
			sender.malformedStreak++
			if sender.malformedStreak >= b.cfg.MaxMalformedFrames {
				b.logger.Warn("peer exceeded malformed frame threshold, disconnecting", "peer", msg.peerID)
				b.handleDisconnect(msg.peerID)
			}
		}
		return
	}

	env := msg.env
	if err := env.Validate(); err != nil {
		b.logger.Warn("dropping invalid envelope", "peer", msg.peerID, "err", err)
		b.metrics.IncrementEnvelopesDropped(b.ctx, msg.peerID, string(env.Type))
		if senderConnected {
			sender.malformedStreak++
			if sender.malformedStreak >= b.cfg.MaxMalformedFrames {
				b.logger.Warn("peer exceeded malformed frame threshold, disconnecting", "peer", msg.peerID)
				b.handleDisconnect(msg.peerID)
			}
		}
		return
	}

	if !senderConnected {
		return // sender disconnected between read and dispatch
	}
	sender.lastSeen = time.Now()
	sender.malformedStreak = 0

	b.seq++
	if b.seq == 0 {
		panic("broker: sequence counter wrapped, publication order invariant violated")
	}
	env.Seq = b.seq
	env.Origin = msg.peerID

	switch env.Type {
	case envelope.TagSubscribe:
		b.handleSubscribe(sender, env)
		return
	case envelope.TagHeartbeat:
		return
	}

	_, hasPending := b.pending[env.CorrelationID]
	class := envelope.Classify(env, hasPending)

	if envelope.Replayable(env.Type) {
		before := b.replay.Size()
		b.replay.Record(env)
		b.metrics.RecordReplayBufferDelta(b.ctx, int64(b.replay.Size()-before))
	}

	switch class {
	case envelope.ClassReply:
		targetID, ok := b.pending[env.CorrelationID]
		delete(b.pending, env.CorrelationID)
		if !ok {
			b.logger.Info("reply with no outstanding request, discarding", "correlationId", env.CorrelationID)
			return
		}
		b.deliverTo(targetID, env)

	case envelope.ClassDirected:
		b.registerPending(env)
		to := envelope.Addressee(env.Payload)
		targetID := b.resolveAddressee(to)
		if targetID == "" {
			if env.Type == envelope.TagExpandReference {
				b.broadcast(env)
				return
			}
			b.metrics.IncrementEnvelopesDropped(b.ctx, msg.peerID, string(env.Type))
			b.logger.Warn("directed envelope has no resolvable addressee, dropping", "type", env.Type, "to", to)
			return
		}
		b.deliverTo(targetID, env)

	case envelope.ClassBroadcast:
		b.broadcast(env)

	default:
		b.logger.Error("envelope classified as control outside the control switch", "type", env.Type)
	}
}

// registerPending remembers which peer should receive the reply to a
// Directed request, keyed by the request's own envelope id — the wire
// protocol's reply carries that id back as its correlationId.
func (b *Broker) registerPending(env *envelope.Envelope) {
	if env.CorrelationID == "" {
		b.pending[env.ID] = env.Origin
	}
}

func (b *Broker) resolveAddressee(to string) string {
	if to == "" {
		return ""
	}
	if _, ok := b.peers[to]; ok {
		return to
	}
	if peerID, ok := b.roleIndex[to]; ok {
		return peerID
	}
	return ""
}

func (b *Broker) handleSubscribe(sender *peer, env *envelope.Envelope) {
	var sub struct {
		Role  string          `json:"role,omitempty"`
		Types []envelope.Tag  `json:"types,omitempty"`
	}
	if err := json.Unmarshal(env.Payload, &sub); err != nil {
		b.logger.Warn("malformed subscribe payload", "peer", sender.id, "err", err)
		return
	}

	if sub.Role != "" {
		if prev, ok := b.roleIndex[sub.Role]; ok && prev != sender.id {
			b.logger.Info("role reassigned", "role", sub.Role, "from", prev, "to", sender.id)
		}
		sender.role = sub.Role
		b.roleIndex[sub.Role] = sender.id
	}

	if sub.Types != nil {
		sender.subscribedTypes = make(map[envelope.Tag]bool, len(sub.Types))
		for _, t := range sub.Types {
			sender.subscribedTypes[t] = true
		}
	}
}

// broadcast fans env out to every peer whose subscription wants it,
// including the envelope's own origin (§4.2: broadcast delivery includes
// the sender unless a type is self-suppressed — none currently are).
func (b *Broker) broadcast(env *envelope.Envelope) {
	for _, p := range b.peers {
		if !p.wantsType(env.Type) {
			continue
		}
		b.pushTo(p, env)
	}
}

func (b *Broker) deliverTo(peerID string, env *envelope.Envelope) {
	p, ok := b.peers[peerID]
	if !ok {
		b.metrics.IncrementEnvelopesDropped(b.ctx, peerID, string(env.Type))
		b.logger.Warn("delivery target not connected", "peer", peerID, "type", env.Type)
		return
	}
	b.pushTo(p, env)
}

func (b *Broker) pushTo(p *peer, env *envelope.Envelope) {
	if dropped := p.outbound.Push(env); dropped {
		b.metrics.IncrementEnvelopesDropped(b.ctx, p.id, string(env.Type))
		b.logger.Warn("outbound queue full, dropped oldest", "peer", p.id, "type", env.Type)
	}
	b.metrics.RecordPeerQueueDepth(b.ctx, p.outbound.Len())
}

// peerCount reports the number of currently connected peers. Safe to call
// only from tests that synchronize with the event loop via Run's channels;
// it is unexported because it reads event-loop state without locking.
func (b *Broker) peerCount() int {
	return len(b.peers)
}
