package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

func startTestBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	b := New(ln, cfg, nil, nil)
	runErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { runErr <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-runErr
	})

	return b
}

type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTestPeer(t *testing.T, b *Broker) *testPeer {
	t.Helper()
	ln := b.listener.(*net.UnixListener)
	addr := ln.Addr().String()
	conn, err := net.Dial("unix", addr)
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testPeer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (p *testPeer) send(env envelope.Envelope) {
	p.t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		p.t.Fatalf("json.Marshal() error = %v", err)
	}
	data = append(data, '\n')
	if _, err := p.conn.Write(data); err != nil {
		p.t.Fatalf("conn.Write() error = %v", err)
	}
}

func (p *testPeer) subscribe(role string, types []envelope.Tag) {
	payload, _ := json.Marshal(struct {
		Role  string         `json:"role,omitempty"`
		Types []envelope.Tag `json:"types,omitempty"`
	}{Role: role, Types: types})
	p.send(envelope.Envelope{ID: "sub-" + role, Type: envelope.TagSubscribe, Payload: payload})
}

func (p *testPeer) recv(timeout time.Duration) (*envelope.Envelope, error) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	defer p.conn.SetReadDeadline(time.Time{})

	line, err := p.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var env envelope.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		p.t.Fatalf("unmarshal received envelope: %v", err)
	}
	return &env, nil
}

func (p *testPeer) expectNone(timeout time.Duration) {
	p.t.Helper()
	env, err := p.recv(timeout)
	if err == nil {
		p.t.Errorf("expected no delivery, got %+v", env)
	}
}

func testConfig() Config {
	return Config{
		QueueDepth:       16,
		ReplayMaxPerType: 16,
		ReplayMaxAge:     time.Hour,
		QuietInterval:    0,
	}
}

func TestBroadcastIncludesOriginPeer(t *testing.T) {
	b := startTestBroker(t, testConfig())
	sender := dialTestPeer(t, b)
	other := dialTestPeer(t, b)

	payload, _ := json.Marshal(map[string]string{"message": "hi"})
	sender.send(envelope.Envelope{ID: "1", Type: envelope.TagLogProgress, Payload: payload})

	got, err := other.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("other peer did not receive broadcast: %v", err)
	}
	if got.Type != envelope.TagLogProgress {
		t.Errorf("delivered type = %q, want %q", got.Type, envelope.TagLogProgress)
	}
	if got.Seq == 0 {
		t.Error("delivered envelope has no Seq stamped")
	}
	if got.Origin == "" {
		t.Error("delivered envelope has no Origin stamped")
	}

	echoed, err := sender.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("sender did not receive its own broadcast: %v", err)
	}
	if echoed.ID != "1" {
		t.Errorf("echoed envelope ID = %q, want %q", echoed.ID, "1")
	}
}

func TestDirectedRoutingByRoleAndReplyRoundTrip(t *testing.T) {
	b := startTestBroker(t, testConfig())
	requester := dialTestPeer(t, b)
	orchestrator := dialTestPeer(t, b)
	bystander := dialTestPeer(t, b)

	orchestrator.subscribe("orchestrator", nil)
	// give the subscribe control envelope time to land before the request
	time.Sleep(20 * time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"to": "orchestrator", "name": "demo"})
	requester.send(envelope.Envelope{ID: "req-1", Type: envelope.TagSpawnTaskspace, Payload: payload})

	delivered, err := orchestrator.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("orchestrator did not receive directed request: %v", err)
	}
	if delivered.ID != "req-1" {
		t.Fatalf("orchestrator received %+v, want req-1", delivered)
	}
	bystander.expectNone(200 * time.Millisecond)

	replyPayload, _ := json.Marshal(map[string]string{"taskspaceId": "ts-1"})
	orchestrator.send(envelope.Envelope{
		ID: "resp-1", Type: envelope.TagSpawnTaskspace, CorrelationID: delivered.ID, Payload: replyPayload,
	})

	reply, err := requester.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("requester did not receive reply: %v", err)
	}
	if reply.CorrelationID != "req-1" {
		t.Errorf("reply CorrelationID = %q, want %q", reply.CorrelationID, "req-1")
	}
	bystander.expectNone(200 * time.Millisecond)
}

func TestUnresolvedDirectedAddresseeFallsBackToBroadcast(t *testing.T) {
	b := startTestBroker(t, testConfig())
	sender := dialTestPeer(t, b)
	other := dialTestPeer(t, b)

	payload, _ := json.Marshal(map[string]string{"token": "unregistered-token"})
	sender.send(envelope.Envelope{ID: "exp-1", Type: envelope.TagExpandReference, Payload: payload})

	got, err := other.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("unresolved directed envelope was not broadcast: %v", err)
	}
	if got.ID != "exp-1" {
		t.Errorf("got %+v, want exp-1 delivered via broadcast fallback", got)
	}

	echoed, err := sender.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("sender did not receive its own broadcast fallback: %v", err)
	}
	if echoed.ID != "exp-1" {
		t.Errorf("got %+v, want exp-1 echoed back to sender", echoed)
	}
}

func TestUnresolvedDirectedNonReferenceIsDropped(t *testing.T) {
	b := startTestBroker(t, testConfig())
	sender := dialTestPeer(t, b)
	other := dialTestPeer(t, b)

	payload, _ := json.Marshal(map[string]string{"to": "no-such-peer-or-role"})
	sender.send(envelope.Envelope{ID: "spawn-1", Type: envelope.TagSpawnTaskspace, Payload: payload})

	other.expectNone(200 * time.Millisecond)
	sender.expectNone(200 * time.Millisecond)
}

func TestReplayDeliveredImmediatelyOnConnect(t *testing.T) {
	b := startTestBroker(t, testConfig())
	first := dialTestPeer(t, b)

	payload, _ := json.Marshal(map[string]string{"message": "before reconnect"})
	first.send(envelope.Envelope{ID: "p1", Type: envelope.TagLogProgress, Payload: payload})
	// drain first's own echo of its broadcast before the assertion below
	if _, err := first.recv(2 * time.Second); err != nil {
		t.Fatalf("sender did not receive its own broadcast: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	latecomer := dialTestPeer(t, b)

	got, err := latecomer.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("latecomer did not receive replayed envelope on connect: %v", err)
	}
	if got.ID != "p1" {
		t.Errorf("replayed envelope ID = %q, want %q", got.ID, "p1")
	}
}

func TestIdleShutdownAfterQuietInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	cfg := testConfig()
	cfg.QuietInterval = 50 * time.Millisecond
	b := New(ln, cfg, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(context.Background()) }()

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() returned %v, want nil on idle shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not idle-shutdown within 2s of a 50ms quiet interval")
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	b := startTestBroker(t, testConfig())
	bad := dialTestPeer(t, b)
	good := dialTestPeer(t, b)

	if _, err := bad.conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatalf("conn.Write() error = %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"message": "still alive"})
	good.send(envelope.Envelope{ID: "ok-1", Type: envelope.TagLogProgress, Payload: payload})

	other := dialTestPeer(t, b)
	got, err := other.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("broker stopped routing after a malformed frame: %v", err)
	}
	if got.ID != "ok-1" {
		t.Errorf("got %+v, want ok-1", got)
	}
}
