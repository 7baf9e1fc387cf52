package broker

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

// peer is the broker's bookkeeping for one connected peer: its socket, its
// outbound queue and writer goroutine, and the subscription state the
// "subscribe" control envelope establishes. All fields except outbound and
// conn are only ever touched from the broker's event-loop goroutine.
type peer struct {
	id      string
	conn    net.Conn
	outbound *outboundQueue

	role string
	// subscribedTypes is nil until a "subscribe" envelope narrows it; nil
	// means "every broadcast and control-eligible type", matching a peer's
	// default subscription before it has expressed a preference.
	subscribedTypes map[envelope.Tag]bool

	lastSeen        time.Time
	malformedStreak int

	closed     chan struct{}
	writerDone chan struct{}
}

func newPeer(id string, conn net.Conn, queueDepth int) *peer {
	return &peer{
		id:         id,
		conn:       conn,
		outbound:   newOutboundQueue(queueDepth),
		lastSeen:   time.Now(),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// wantsType reports whether p should receive envelopes of tag t under its
// current subscription.
func (p *peer) wantsType(t envelope.Tag) bool {
	if p.subscribedTypes == nil {
		return true
	}
	return p.subscribedTypes[t]
}

// runWriter drains p's outbound queue to the socket until closed is
// signaled or the connection breaks. It is the only goroutine that writes
// to p.conn.
func (p *peer) runWriter(closed <-chan struct{}, onWriteError func(peerID string, err error)) {
	defer close(p.writerDone)
	enc := json.NewEncoder(p.conn)
	for {
		select {
		case <-closed:
			return
		case <-p.outbound.notify:
		}
		for _, env := range p.outbound.Drain() {
			if err := enc.Encode(env); err != nil {
				onWriteError(p.id, err)
				return
			}
		}
	}
}

// readLoop decodes newline-delimited JSON envelopes from conn and forwards
// each to inbound, tagged with the peer id they arrived from. It runs on
// its own goroutine per peer, parsing only: classification, routing, and
// all other state mutation happens on the broker's single event-loop
// goroutine that consumes inbound. A line longer than maxFrameBytes makes
// the scanner stop with bufio.ErrTooLong, which ends readLoop and, via the
// deferred disconnect, drops the peer — the frame-size half of §4.2's
// failure semantics.
func readLoop(id string, conn net.Conn, maxFrameBytes int, inbound chan<- inboundMsg, disconnect chan<- string) {
	defer func() { disconnect <- id }()
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxFrameBytes < initial {
		initial = maxFrameBytes
	}
	scanner.Buffer(make([]byte, 0, initial), maxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			inbound <- inboundMsg{peerID: id, parseErr: err}
			continue
		}
		inbound <- inboundMsg{peerID: id, env: &env}
	}
}

// inboundMsg is one unit handed from a peer's reader goroutine to the
// broker's event loop.
type inboundMsg struct {
	peerID   string
	env      *envelope.Envelope
	parseErr error
}
