package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

func newProject(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o, err := Create(dir, "demo", "git@example.com:demo.git", "main", "default", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return o, dir
}

func dispatchOne(t *testing.T, o *Orchestrator, env *envelope.Envelope) []*envelope.Envelope {
	t.Helper()
	out, err := o.Dispatch(env)
	if err != nil {
		t.Fatalf("Dispatch(%s) error = %v", env.Type, err)
	}
	return out
}

func TestSpawnCreatesHatchlingAndPersistsManifest(t *testing.T) {
	o, dir := newProject(t)

	payload, _ := json.Marshal(spawnRequest{To: "orchestrator", Name: "fix-bug", Description: "fix the bug", InitialPrompt: "go fix it"})
	req := &envelope.Envelope{ID: "req-1", Type: envelope.TagSpawnTaskspace, Payload: payload}

	out := dispatchOne(t, o, req)
	if len(out) != 2 {
		t.Fatalf("Dispatch(spawn) returned %d envelopes, want 2 (reply + broadcast)", len(out))
	}

	var reply spawnReply
	if err := json.Unmarshal(out[0].Payload, &reply); err != nil {
		t.Fatalf("decoding spawn reply: %v", err)
	}
	if reply.Status != "ok" || reply.TaskspaceID == "" {
		t.Fatalf("spawn reply = %+v, want ok with a taskspace id", reply)
	}
	if out[0].CorrelationID != "req-1" {
		t.Errorf("reply CorrelationID = %q, want req-1", out[0].CorrelationID)
	}
	if out[1].Type != envelope.TagTaskspaceUpdated {
		t.Errorf("second envelope type = %s, want %s", out[1].Type, envelope.TagTaskspaceUpdated)
	}

	manifestPath := filepath.Join(dir, taskspaceDir(reply.TaskspaceID), taskspaceManifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		t.Errorf("taskspace manifest not written: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ts, ok := reopened.taskspaces[reply.TaskspaceID]
	if !ok {
		t.Fatal("reopened project missing spawned taskspace")
	}
	if ts.State != Hatchling {
		t.Errorf("taskspace state = %s, want %s", ts.State, Hatchling)
	}
}

func TestActivateTransitionsHatchlingToResumeAndReordersProject(t *testing.T) {
	o, _ := newProject(t)

	payload, _ := json.Marshal(spawnRequest{Name: "a"})
	out := dispatchOne(t, o, &envelope.Envelope{ID: "req-a", Type: envelope.TagSpawnTaskspace, Payload: payload})
	var replyA spawnReply
	json.Unmarshal(out[0].Payload, &replyA)

	payload2, _ := json.Marshal(spawnRequest{Name: "b"})
	out2 := dispatchOne(t, o, &envelope.Envelope{ID: "req-b", Type: envelope.TagSpawnTaskspace, Payload: payload2})
	var replyB spawnReply
	json.Unmarshal(out2[0].Payload, &replyB)

	if err := o.Activate(replyA.TaskspaceID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	o.mu.RLock()
	ts := o.taskspaces[replyA.TaskspaceID]
	order := append([]string(nil), o.project.Order...)
	o.mu.RUnlock()

	if ts.State != Resume {
		t.Errorf("state after Activate = %s, want %s", ts.State, Resume)
	}
	if order[0] != replyA.TaskspaceID {
		t.Errorf("project order front = %s, want %s", order[0], replyA.TaskspaceID)
	}
	_ = replyB
}

func TestLogProgressAppendsEntryAndBroadcasts(t *testing.T) {
	o, _ := newProject(t)
	payload, _ := json.Marshal(spawnRequest{Name: "a"})
	out := dispatchOne(t, o, &envelope.Envelope{ID: "req-a", Type: envelope.TagSpawnTaskspace, Payload: payload})
	var reply spawnReply
	json.Unmarshal(out[0].Payload, &reply)

	progress, _ := json.Marshal(logProgressPayload{TaskspaceID: reply.TaskspaceID, Message: "working", Category: CategoryInfo})
	progressOut := dispatchOne(t, o, &envelope.Envelope{ID: "req-log", Type: envelope.TagLogProgress, Payload: progress})
	if len(progressOut) != 1 || progressOut[0].Type != envelope.TagTaskspaceUpdated {
		t.Fatalf("log-progress dispatch = %+v, want single taskspace-updated broadcast", progressOut)
	}

	o.mu.RLock()
	ts := o.taskspaces[reply.TaskspaceID]
	o.mu.RUnlock()
	if len(ts.Log) != 1 || ts.Log[0].Message != "working" {
		t.Errorf("taskspace log = %+v, want one entry 'working'", ts.Log)
	}
}

func TestDeleteFlowCancelledLeavesTaskspaceIntact(t *testing.T) {
	o, _ := newProject(t)
	payload, _ := json.Marshal(spawnRequest{Name: "a"})
	out := dispatchOne(t, o, &envelope.Envelope{ID: "req-a", Type: envelope.TagSpawnTaskspace, Payload: payload})
	var reply spawnReply
	json.Unmarshal(out[0].Payload, &reply)

	deletePayload, _ := json.Marshal(deleteRequest{TaskspaceID: reply.TaskspaceID})
	deleteOut := dispatchOne(t, o, &envelope.Envelope{ID: "req-del", Type: envelope.TagDeleteTaskspace, Payload: deletePayload})
	if len(deleteOut) != 1 {
		t.Fatalf("delete-taskspace dispatch = %d envelopes, want 1 confirm prompt", len(deleteOut))
	}
	prompt := deleteOut[0]

	cancelPayload, _ := json.Marshal(confirmReply{Confirmed: false})
	cancelOut := dispatchOne(t, o, &envelope.Envelope{ID: "resp-1", Type: envelope.TagDeleteResponse, CorrelationID: prompt.ID, Payload: cancelPayload})
	if len(cancelOut) != 1 {
		t.Fatalf("delete-response dispatch = %d envelopes, want 1", len(cancelOut))
	}
	var status statusReply
	json.Unmarshal(cancelOut[0].Payload, &status)
	if status.Status != "cancelled" {
		t.Errorf("status after cancel = %q, want cancelled", status.Status)
	}
	if cancelOut[0].CorrelationID != "req-del" {
		t.Errorf("final reply CorrelationID = %q, want req-del", cancelOut[0].CorrelationID)
	}

	o.mu.RLock()
	_, stillThere := o.taskspaces[reply.TaskspaceID]
	o.mu.RUnlock()
	if !stillThere {
		t.Error("taskspace removed after cancelled delete, want intact")
	}
}

func TestDeleteFlowConfirmedRemovesTaskspace(t *testing.T) {
	o, dir := newProject(t)
	payload, _ := json.Marshal(spawnRequest{Name: "a"})
	out := dispatchOne(t, o, &envelope.Envelope{ID: "req-a", Type: envelope.TagSpawnTaskspace, Payload: payload})
	var reply spawnReply
	json.Unmarshal(out[0].Payload, &reply)

	deletePayload, _ := json.Marshal(deleteRequest{TaskspaceID: reply.TaskspaceID})
	deleteOut := dispatchOne(t, o, &envelope.Envelope{ID: "req-del", Type: envelope.TagDeleteTaskspace, Payload: deletePayload})
	prompt := deleteOut[0]

	confirmPayload, _ := json.Marshal(confirmReply{Confirmed: true})
	confirmOut := dispatchOne(t, o, &envelope.Envelope{ID: "resp-1", Type: envelope.TagDeleteResponse, CorrelationID: prompt.ID, Payload: confirmPayload})
	if len(confirmOut) != 2 {
		t.Fatalf("confirmed delete-response dispatch = %d envelopes, want 2 (status + gone broadcast)", len(confirmOut))
	}

	o.mu.RLock()
	_, stillThere := o.taskspaces[reply.TaskspaceID]
	o.mu.RUnlock()
	if stillThere {
		t.Error("taskspace still present after confirmed delete")
	}

	if _, err := os.Stat(filepath.Join(dir, taskspaceDir(reply.TaskspaceID))); !os.IsNotExist(err) {
		t.Errorf("taskspace directory still exists after confirmed delete, err = %v", err)
	}
}

func TestUpdateUnknownTaskspaceReturnsErrorReply(t *testing.T) {
	o, _ := newProject(t)
	payload, _ := json.Marshal(updateRequest{TaskspaceID: "does-not-exist", Name: "x"})
	out := dispatchOne(t, o, &envelope.Envelope{ID: "req-1", Type: envelope.TagUpdateTaskspace, Payload: payload})
	if len(out) != 1 {
		t.Fatalf("update dispatch on unknown taskspace = %d envelopes, want 1 error reply", len(out))
	}
	var status statusReply
	json.Unmarshal(out[0].Payload, &status)
	if status.Status != "error" {
		t.Errorf("status = %q, want error", status.Status)
	}
}

func TestRollCallIsABroadcast(t *testing.T) {
	o, _ := newProject(t)
	env := o.RollCall()
	if env.Type != envelope.TagTaskspaceRollCall {
		t.Errorf("RollCall type = %s, want %s", env.Type, envelope.TagTaskspaceRollCall)
	}
	if envelope.BaseClass(env.Type) != envelope.ClassBroadcast {
		t.Errorf("RollCall base class = %s, want broadcast", envelope.BaseClass(env.Type))
	}
}
