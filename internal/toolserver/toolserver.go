// Package toolserver implements the Tool Server Layer (§4.4): the fixed
// catalog of operations a conversational AI runtime drives, each backed by
// a request/reply exchange over the bus.
package toolserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socratic-shell/symposium-sub004/internal/busclient"
	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/reference"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// DefaultDeadline bounds how long a tool waits for its correlated reply
// before resolving the caller with a timeout error (§4.4 failure
// semantics, §5 "Tool Server requests carry a deadline").
const DefaultDeadline = 10 * time.Second

// Server dispatches the tool catalog on top of one broker connection. Self
// identity is resolved once at construction; every outbound payload that
// needs "self" reuses it.
type Server struct {
	client   *busclient.Client
	refs     *reference.Table
	identity Identity
	deadline time.Duration

	pendingMu sync.Mutex
	pending   map[string]chan *envelope.Envelope
}

// New constructs a Server. identity may be the zero value when the caller
// knows no self-identity-requiring tool will be invoked (tests, or a
// read-only editor-facing session); tools that need it fail with
// ErrNoSelfIdentity otherwise.
func New(client *busclient.Client, refs *reference.Table, identity Identity, deadline time.Duration) *Server {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Server{
		client:   client,
		refs:     refs,
		identity: identity,
		deadline: deadline,
		pending:  make(map[string]chan *envelope.Envelope),
	}
}

// Run drains the broker connection until ctx is canceled or the connection
// is lost, routing correlated replies to their waiting caller and answering
// expand-reference requests for tokens this Server's table produced.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.client.Inbound():
			if !ok {
				if err := s.client.Err(); err != nil {
					return symptom.Wrap(symptom.DeliveryDropped, err, "tool server lost broker connection")
				}
				return nil
			}
			s.route(env)
		}
	}
}

func (s *Server) route(env *envelope.Envelope) {
	if env.CorrelationID != "" {
		s.pendingMu.Lock()
		ch, found := s.pending[env.CorrelationID]
		if found {
			delete(s.pending, env.CorrelationID)
		}
		s.pendingMu.Unlock()
		if found {
			ch <- env
			return
		}
	}

	if env.Type == envelope.TagExpandReference {
		s.maybeAnswerExpand(env)
	}
}

// maybeAnswerExpand replies to an inbound expand-reference request if it
// names a token this Server's table holds. It skips the request if its ID
// is one of our own still-outstanding requests — broadcasts are delivered
// to their own sender (§4.2), and an unaddressed expand-reference request
// is broadcast precisely so every potential producer, including ourselves,
// sees it.
func (s *Server) maybeAnswerExpand(env *envelope.Envelope) {
	s.pendingMu.Lock()
	_, isOurOwnRequest := s.pending[env.ID]
	s.pendingMu.Unlock()
	if isOurOwnRequest {
		return
	}

	var req expandRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}
	content, ok := s.refs.Lookup(req.Token)
	if !ok {
		return
	}
	payload, err := json.Marshal(expandReply{Found: true, Content: content})
	if err != nil {
		return
	}
	s.client.Send(&envelope.Envelope{
		ID:            uuid.NewString(),
		Type:          envelope.TagExpandReference,
		CorrelationID: env.ID,
		Payload:       payload,
	})
}

// request sends env and waits for a reply correlated to it, or a timeout
// bounded by s.deadline. A late reply that arrives after this call gives up
// finds no pending entry in route and is dropped without logging.
func (s *Server) request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	ch := make(chan *envelope.Envelope, 1)
	s.pendingMu.Lock()
	s.pending[env.ID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, env.ID)
		s.pendingMu.Unlock()
	}()

	if err := s.client.Send(env); err != nil {
		return nil, symptom.Wrap(symptom.DeliveryDropped, err, "sending tool request")
	}

	timer := time.NewTimer(s.deadline)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return nil, symptom.Newf(symptom.Timeout, "no reply to %s within %s", env.Type, s.deadline)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newRequestEnvelope(tag envelope.Tag, payload json.RawMessage) *envelope.Envelope {
	return &envelope.Envelope{ID: uuid.NewString(), Type: tag, Payload: payload}
}

func (s *Server) requireIdentity() error {
	if s.identity.TaskspaceID == "" {
		return ErrNoSelfIdentity
	}
	return nil
}
