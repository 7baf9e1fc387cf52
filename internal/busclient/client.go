// Package busclient implements the peer half of the broker's wire protocol
// (§4.2): dialing the rendezvous endpoint, sending a subscribe control
// envelope, and exchanging newline-delimited JSON envelopes over the
// connection. The Bridge Client, the Tool Server, and the daemon's embedded
// Orchestrator peer all dial through this package rather than each
// reimplementing the framing the broker's own peer.go defines.
package busclient

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// Client is one connection to a broker, already past the subscribe
// handshake. It is safe for one goroutine to range over Inbound while others
// call Send; concurrent Send calls are serialized by an internal mutex.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encMu   sync.Mutex
	enc     *json.Encoder

	inbound chan *envelope.Envelope
	errCh   chan error
	closeCh chan struct{}
	once    sync.Once
}

// Dial connects to the unix domain socket at endpointPath and subscribes as
// role, optionally narrowing delivery to types (nil means every broadcast
// and directed-to-self type, the default subscription per §4.2).
func Dial(endpointPath, role string, types []envelope.Tag) (*Client, error) {
	conn, err := net.Dial("unix", endpointPath)
	if err != nil {
		return nil, symptom.Wrap(symptom.DeliveryDropped, err, "dialing broker endpoint")
	}

	c := &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		enc:     json.NewEncoder(conn),
		inbound: make(chan *envelope.Envelope, 64),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	if err := c.subscribe(role, types); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

type subscribePayload struct {
	Role  string         `json:"role,omitempty"`
	Types []envelope.Tag `json:"types,omitempty"`
}

func (c *Client) subscribe(role string, types []envelope.Tag) error {
	payload, err := json.Marshal(subscribePayload{Role: role, Types: types})
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding subscribe payload")
	}
	return c.Send(&envelope.Envelope{
		ID:      uuid.NewString(),
		Type:    envelope.TagSubscribe,
		Payload: payload,
	})
}

// Send writes env to the connection. It is the caller's responsibility to
// populate ID and, for a reply, CorrelationID — this package does not
// inspect or rewrite envelope contents.
func (c *Client) Send(env *envelope.Envelope) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if err := c.enc.Encode(env); err != nil {
		return symptom.Wrap(symptom.DeliveryDropped, err, "writing envelope")
	}
	return nil
}

// Inbound returns the channel of envelopes the broker has delivered to this
// peer. It is closed when the connection ends, after which Err reports why.
func (c *Client) Inbound() <-chan *envelope.Envelope {
	return c.inbound
}

// Err reports the reason Inbound closed, or nil if Close was called
// deliberately.
func (c *Client) Err() error {
	select {
	case err := <-c.errCh:
		return err
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer close(c.inbound)
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		copied := env
		select {
		case c.inbound <- &copied:
		case <-c.closeCh:
			return
		}
	}
	select {
	case <-c.closeCh:
		return
	default:
	}
	err := c.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.errCh <- err:
	default:
	}
}

// Close ends the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
