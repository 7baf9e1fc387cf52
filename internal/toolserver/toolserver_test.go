package toolserver

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/broker"
	"github.com/socratic-shell/symposium-sub004/internal/busclient"
	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/reference"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

func startTestBroker(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	b := broker.New(ln, broker.Config{QueueDepth: 16}, nil, nil)
	runErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { runErr <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-runErr
	})
	return path
}

func newTestServer(t *testing.T, path string, identity Identity, refs *reference.Table) (*Server, func()) {
	t.Helper()
	client, err := busclient.Dial(path, "tool-server", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if refs == nil {
		refs = reference.NewTable(nil)
	}
	s := New(client, refs, identity, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	return s, func() {
		cancel()
		<-runErr
		client.Close()
	}
}

func TestSpawnTaskspaceRoundTrip(t *testing.T) {
	path := startTestBroker(t)
	s, stop := newTestServer(t, path, Identity{}, nil)
	defer stop()

	orchestratorPeer, err := busclient.Dial(path, "orchestrator", []envelope.Tag{envelope.TagSpawnTaskspace})
	if err != nil {
		t.Fatalf("Dial(orchestrator) error = %v", err)
	}
	defer orchestratorPeer.Close()

	go func() {
		req := <-orchestratorPeer.Inbound()
		payload, _ := json.Marshal(spawnReply{Status: "ok", TaskspaceID: "new-id"})
		orchestratorPeer.Send(&envelope.Envelope{
			ID:            "reply-1",
			Type:          envelope.TagSpawnTaskspace,
			CorrelationID: req.ID,
			Payload:       payload,
		})
	}()

	id, err := s.SpawnTaskspace(context.Background(), "name", "desc", "prompt", "")
	if err != nil {
		t.Fatalf("SpawnTaskspace() error = %v", err)
	}
	if id != "new-id" {
		t.Errorf("SpawnTaskspace() id = %q, want %q", id, "new-id")
	}
}

func TestGetSelectionRoundTrip(t *testing.T) {
	path := startTestBroker(t)
	s, stop := newTestServer(t, path, Identity{}, nil)
	defer stop()

	editorPeer, err := busclient.Dial(path, "editor", []envelope.Tag{envelope.TagGetSelection})
	if err != nil {
		t.Fatalf("Dial(editor) error = %v", err)
	}
	defer editorPeer.Close()

	go func() {
		req := <-editorPeer.Inbound()
		payload, _ := json.Marshal(selectionReply{Text: "selected text", Found: true})
		editorPeer.Send(&envelope.Envelope{
			ID:            "reply-1",
			Type:          envelope.TagGetSelection,
			CorrelationID: req.ID,
			Payload:       payload,
		})
	}()

	text, found, err := s.GetSelection(context.Background())
	if err != nil {
		t.Fatalf("GetSelection() error = %v", err)
	}
	if !found || text != "selected text" {
		t.Errorf("GetSelection() = %q, %v, want %q, true", text, found, "selected text")
	}
}

func TestRequestTimesOutWhenNoReplyArrives(t *testing.T) {
	path := startTestBroker(t)
	s, stop := newTestServer(t, path, Identity{}, nil)
	defer stop()

	_, _, err := s.GetSelection(context.Background())
	if err == nil {
		t.Fatal("GetSelection() error = nil, want Timeout")
	}
	symErr, ok := err.(*symptom.Error)
	if !ok || symErr.Kind != symptom.Timeout {
		t.Errorf("error = %v, want symptom.Timeout", err)
	}
}

func TestExpandReferencePredefinedSkipsBusRoundTrip(t *testing.T) {
	path := startTestBroker(t)
	predefined := map[string]json.RawMessage{"yiasou": json.RawMessage(`"bundled guidance"`)}
	refs := reference.NewTable(predefined)
	s, stop := newTestServer(t, path, Identity{}, refs)
	defer stop()

	content, err := s.ExpandReference(context.Background(), "yiasou")
	if err != nil {
		t.Fatalf("ExpandReference() error = %v", err)
	}
	if string(content) != `"bundled guidance"` {
		t.Errorf("content = %s, want bundled guidance", content)
	}
}

func TestExpandReferenceResolvedByAnotherToolServersTable(t *testing.T) {
	path := startTestBroker(t)

	producerRefs := reference.NewTable(nil)
	if err := producerRefs.Register("tok-1", json.RawMessage(`{"text":"hello"}`)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, stopProducer := newTestServer(t, path, Identity{}, producerRefs)
	defer stopProducer()

	requester, stopRequester := newTestServer(t, path, Identity{}, nil)
	defer stopRequester()

	content, err := requester.ExpandReference(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("ExpandReference() error = %v", err)
	}
	if string(content) != `{"text":"hello"}` {
		t.Errorf("content = %s, want {\"text\":\"hello\"}", content)
	}
}

func TestExpandReferenceNotFoundReturnsError(t *testing.T) {
	path := startTestBroker(t)
	requester, stop := newTestServer(t, path, Identity{}, nil)
	defer stop()

	_, err := requester.ExpandReference(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("ExpandReference() error = nil, want an error for an unregistered token")
	}
}

func TestToolsRequiringSelfIdentityFailWithoutIt(t *testing.T) {
	path := startTestBroker(t)
	s, stop := newTestServer(t, path, Identity{}, nil)
	defer stop()

	if err := s.UpdateTaskspace(context.Background(), "n", "d"); err != ErrNoSelfIdentity {
		t.Errorf("UpdateTaskspace() error = %v, want ErrNoSelfIdentity", err)
	}
	if err := s.SignalUser("help"); err != ErrNoSelfIdentity {
		t.Errorf("SignalUser() error = %v, want ErrNoSelfIdentity", err)
	}
}
