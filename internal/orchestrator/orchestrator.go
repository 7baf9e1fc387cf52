package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// currentTime is a var, not a direct time.Now call, so tests can pin it.
var currentTime = time.Now

// Orchestrator owns the in-memory Project and Taskspace state for one open
// project directory and the handlers that apply bus envelopes to it. The
// locking strategy is the per-key sync.Map-of-mutexes pattern from
// InMemoryStateManager.WithLock: one mutex per taskspace id, so a long-held
// lock for one taskspace never blocks progress on another.
type Orchestrator struct {
	path string

	mu         sync.RWMutex
	project    *Project
	taskspaces map[string]*Taskspace
	locks      sync.Map // taskspace id -> *sync.Mutex

	pendingMu      sync.Mutex
	pendingDeletes map[string]pendingDelete
}

type pendingDelete struct {
	requestID    string
	requester    string
	taskspaceID  string
	deleteBranch bool
}

// Open loads an existing project directory's manifest and every taskspace
// manifest named by the filesystem, reconciling the two per §8's
// manifest-filesystem agreement invariant: a taskspace directory with no
// entry in project.json's Order is appended to it, and an Order entry with
// no directory is dropped.
func Open(path string) (*Orchestrator, error) {
	project, err := loadProject(path)
	if err != nil {
		return nil, err
	}

	dirIDs, err := listTaskspaceDirs(path)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		path:           path,
		project:        project,
		taskspaces:     make(map[string]*Taskspace),
		pendingDeletes: make(map[string]pendingDelete),
	}

	present := make(map[string]bool, len(dirIDs))
	for _, id := range dirIDs {
		ts, err := loadTaskspace(path, id)
		if err != nil {
			return nil, err
		}
		o.taskspaces[id] = ts
		present[id] = true
	}

	reconciled := o.project.Order[:0]
	for _, id := range o.project.Order {
		if present[id] {
			reconciled = append(reconciled, id)
			delete(present, id)
		}
	}
	for id := range present {
		reconciled = append(reconciled, id)
	}
	o.project.Order = reconciled

	return o, nil
}

// Create initializes a new project manifest at path and returns an
// Orchestrator open on it. The directory must already exist; Create does not
// clone sourceRepo, and nothing in the tool server clones it either.
func Create(path, name, sourceRepo, defaultBranch, agentTag string, stacked bool) (*Orchestrator, error) {
	project := &Project{
		SchemaVersion: CurrentSchemaVersion,
		Name:          name,
		SourceRepo:    sourceRepo,
		DefaultBranch: defaultBranch,
		AgentTag:      agentTag,
		Stacked:       stacked,
	}
	if err := saveProject(path, project); err != nil {
		return nil, err
	}
	return &Orchestrator{
		path:           path,
		project:        project,
		taskspaces:     make(map[string]*Taskspace),
		pendingDeletes: make(map[string]pendingDelete),
	}, nil
}

// Close releases an Orchestrator's in-memory state. It performs no I/O:
// every mutation has already been persisted synchronously by the handler
// that made it.
func (o *Orchestrator) Close() {}

func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// withTaskspace runs fn with exclusive access to the named taskspace, then
// persists whatever fn left in place. fn may leave ts nil to signal the
// taskspace should not be persisted (e.g. it no longer exists).
func (o *Orchestrator) withTaskspace(id string, fn func(ts *Taskspace) (*Taskspace, error)) (*Taskspace, error) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	o.mu.RLock()
	ts := o.taskspaces[id]
	o.mu.RUnlock()

	updated, err := fn(ts)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	if err := saveTaskspace(o.path, updated); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.taskspaces[id] = updated
	o.mu.Unlock()
	return updated, nil
}

// Activate moves id to the front of the project's activation order and
// records LastActivated. It is a direct method call, not driven by any bus
// envelope; the tool server does not call it.
func (o *Orchestrator) Activate(id string) error {
	_, err := o.withTaskspace(id, func(ts *Taskspace) (*Taskspace, error) {
		if ts == nil {
			return nil, symptom.Newf(symptom.NotFound, "taskspace %s not found", id)
		}
		ts.LastActivated = currentTime()
		if ts.State == Hatchling {
			// First activation transitions a Hatchling to Resume (§3): the
			// initial prompt has now been delivered once.
			ts.State = Resume
		}
		return ts, nil
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	reordered := make([]string, 0, len(o.project.Order))
	reordered = append(reordered, id)
	for _, existing := range o.project.Order {
		if existing != id {
			reordered = append(reordered, existing)
		}
	}
	o.project.Order = reordered
	return saveProject(o.path, o.project)
}

// Dispatch applies one inbound bus envelope to the Orchestrator's state and
// returns zero or more envelopes for the caller to publish in response, in
// order. Envelopes this package doesn't handle are returned untouched in an
// empty slice — the bus loop simply has nothing to send back.
func (o *Orchestrator) Dispatch(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	switch env.Type {
	case envelope.TagSpawnTaskspace:
		return o.handleSpawn(env)
	case envelope.TagUpdateTaskspace:
		return o.handleUpdate(env)
	case envelope.TagDeleteTaskspace:
		return o.handleDeleteRequest(env)
	case envelope.TagDeleteResponse:
		return o.handleDeleteResponse(env)
	case envelope.TagLogProgress:
		return o.handleLogProgress(env)
	case envelope.TagSignalUser:
		return o.handleSignalUser(env)
	case envelope.TagRegisterTaskspaceWindow:
		return o.handleRegisterWindow(env)
	default:
		return nil, nil
	}
}

func (o *Orchestrator) handleSpawn(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var req spawnRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding spawn-taskspace payload")
	}

	id := uuid.NewString()
	ts := &Taskspace{
		SchemaVersion: CurrentSchemaVersion,
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		State:         Hatchling,
		InitialPrompt: req.InitialPrompt,
	}
	if err := saveTaskspace(o.path, ts); err != nil {
		reply := o.reply(env, spawnReply{Status: "error", Error: err.Error()})
		return []*envelope.Envelope{reply}, nil
	}

	o.mu.Lock()
	o.taskspaces[id] = ts
	o.project.Order = append([]string{id}, o.project.Order...)
	saveErr := saveProject(o.path, o.project)
	o.mu.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	reply := o.reply(env, spawnReply{Status: "ok", TaskspaceID: id})
	updated := o.broadcastUpdated(ts)
	return []*envelope.Envelope{reply, updated}, nil
}

func (o *Orchestrator) handleUpdate(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var req updateRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding update-taskspace payload")
	}

	updated, err := o.withTaskspace(req.TaskspaceID, func(ts *Taskspace) (*Taskspace, error) {
		if ts == nil {
			return nil, symptom.Newf(symptom.NotFound, "taskspace %s not found", req.TaskspaceID)
		}
		if req.Name != "" {
			ts.Name = req.Name
		}
		if req.Description != "" {
			ts.Description = req.Description
		}
		return ts, nil
	})
	if err != nil {
		reply := o.reply(env, statusReply{Status: "error", Error: err.Error()})
		return []*envelope.Envelope{reply}, nil
	}

	reply := o.reply(env, statusReply{Status: "ok"})
	broadcast := o.broadcastUpdated(updated)
	return []*envelope.Envelope{reply, broadcast}, nil
}

// handleDeleteRequest begins the delete flow (§4.5, §8 "delete-with-cancel"
// scenario): rather than deleting immediately, it asks the editor role to
// confirm and parks the original request until that reply arrives.
func (o *Orchestrator) handleDeleteRequest(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var req deleteRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding delete-taskspace payload")
	}

	o.mu.RLock()
	ts, ok := o.taskspaces[req.TaskspaceID]
	o.mu.RUnlock()
	if !ok {
		reply := o.reply(env, statusReply{Status: "error", Error: fmt.Sprintf("taskspace %s not found", req.TaskspaceID)})
		return []*envelope.Envelope{reply}, nil
	}

	promptID := uuid.NewString()
	o.pendingMu.Lock()
	o.pendingDeletes[promptID] = pendingDelete{
		requestID:    env.ID,
		requester:    env.Origin,
		taskspaceID:  req.TaskspaceID,
		deleteBranch: req.DeleteBranch,
	}
	o.pendingMu.Unlock()

	payload, _ := json.Marshal(confirmPrompt{
		To:          "editor",
		TaskspaceID: req.TaskspaceID,
		Message:     fmt.Sprintf("Delete taskspace %q? This cannot be undone.", ts.Name),
	})
	prompt := &envelope.Envelope{
		ID:      promptID,
		Type:    envelope.TagDeleteTaskspace,
		Payload: payload,
	}
	return []*envelope.Envelope{prompt}, nil
}

// handleDeleteResponse completes the delete flow: a confirm or cancel from
// the editor, correlated back to the confirm prompt by CorrelationID.
func (o *Orchestrator) handleDeleteResponse(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	o.pendingMu.Lock()
	pending, ok := o.pendingDeletes[env.CorrelationID]
	if ok {
		delete(o.pendingDeletes, env.CorrelationID)
	}
	o.pendingMu.Unlock()
	if !ok {
		// Not one of ours to resolve; most likely a reply the tool server
		// itself produced for its original caller, looping back on a bus
		// that delivers broadcasts to every peer including the sender.
		return nil, nil
	}

	var confirm confirmReply
	if err := json.Unmarshal(env.Payload, &confirm); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding delete-response payload")
	}

	finalPayload := statusReply{Status: "cancelled"}
	var extra []*envelope.Envelope
	if confirm.Confirmed {
		if err := removeTaskspace(o.path, pending.taskspaceID); err != nil {
			finalPayload = statusReply{Status: "error", Error: err.Error()}
		} else {
			o.mu.Lock()
			delete(o.taskspaces, pending.taskspaceID)
			filtered := o.project.Order[:0]
			for _, id := range o.project.Order {
				if id != pending.taskspaceID {
					filtered = append(filtered, id)
				}
			}
			o.project.Order = filtered
			saveErr := saveProject(o.path, o.project)
			o.mu.Unlock()
			if saveErr != nil {
				return nil, saveErr
			}
			finalPayload = statusReply{Status: "ok"}
			goneBroadcast := &envelope.Envelope{
				ID:   uuid.NewString(),
				Type: envelope.TagTaskspaceUpdated,
			}
			body, _ := json.Marshal(taskspaceUpdatedPayload{TaskspaceID: pending.taskspaceID})
			goneBroadcast.Payload = body
			extra = append(extra, goneBroadcast)
		}
	}

	encoded, _ := json.Marshal(finalPayload)
	final := &envelope.Envelope{
		ID:            uuid.NewString(),
		Type:          envelope.TagDeleteResponse,
		CorrelationID: pending.requestID,
		Payload:       encoded,
	}
	return append([]*envelope.Envelope{final}, extra...), nil
}

func (o *Orchestrator) handleLogProgress(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var entry logProgressPayload
	if err := json.Unmarshal(env.Payload, &entry); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding log-progress payload")
	}

	updated, err := o.withTaskspace(entry.TaskspaceID, func(ts *Taskspace) (*Taskspace, error) {
		if ts == nil {
			return nil, symptom.Newf(symptom.NotFound, "taskspace %s not found", entry.TaskspaceID)
		}
		ts.Log = append(ts.Log, ProgressEntry{
			Timestamp: currentTime(),
			Message:   entry.Message,
			Category:  entry.Category,
		})
		return ts, nil
	})
	if err != nil {
		return nil, err
	}
	return []*envelope.Envelope{o.broadcastUpdated(updated)}, nil
}

func (o *Orchestrator) handleSignalUser(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var sig signalUserPayload
	if err := json.Unmarshal(env.Payload, &sig); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding signal-user payload")
	}

	updated, err := o.withTaskspace(sig.TaskspaceID, func(ts *Taskspace) (*Taskspace, error) {
		if ts == nil {
			return nil, symptom.Newf(symptom.NotFound, "taskspace %s not found", sig.TaskspaceID)
		}
		ts.Attention = append(ts.Attention, AttentionSignal{
			Timestamp: currentTime(),
			Reason:    sig.Reason,
		})
		return ts, nil
	})
	if err != nil {
		return nil, err
	}
	return []*envelope.Envelope{o.broadcastUpdated(updated)}, nil
}

func (o *Orchestrator) handleRegisterWindow(env *envelope.Envelope) ([]*envelope.Envelope, error) {
	var reg registerWindowPayload
	if err := json.Unmarshal(env.Payload, &reg); err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "decoding register-taskspace-window payload")
	}

	updated, err := o.withTaskspace(reg.TaskspaceID, func(ts *Taskspace) (*Taskspace, error) {
		if ts == nil {
			return nil, symptom.Newf(symptom.NotFound, "taskspace %s not found", reg.TaskspaceID)
		}
		ts.Window = &WindowAssociation{Handle: reg.Handle, Live: true}
		return ts, nil
	})
	if err != nil {
		reply := o.reply(env, statusReply{Status: "error", Error: err.Error()})
		return []*envelope.Envelope{reply}, nil
	}
	reply := o.reply(env, statusReply{Status: "ok"})
	broadcast := o.broadcastUpdated(updated)
	return []*envelope.Envelope{reply, broadcast}, nil
}

// RollCall builds the taskspace-roll-call broadcast this Orchestrator sends
// once at startup (§8 "roll-call-after-restart" scenario), so every
// already-running agent process can re-announce itself and any orphan (a
// window with no surviving agent) can be detected by the editor.
func (o *Orchestrator) RollCall() *envelope.Envelope {
	payload, _ := json.Marshal(rollCallPayload{Reason: "daemon restarted"})
	return &envelope.Envelope{
		ID:      uuid.NewString(),
		Type:    envelope.TagTaskspaceRollCall,
		Payload: payload,
	}
}

func (o *Orchestrator) reply(env *envelope.Envelope, payload any) *envelope.Envelope {
	encoded, _ := json.Marshal(payload)
	return &envelope.Envelope{
		ID:            uuid.NewString(),
		Type:          env.Type,
		CorrelationID: env.ID,
		Payload:       encoded,
	}
}

func (o *Orchestrator) broadcastUpdated(ts *Taskspace) *envelope.Envelope {
	payload, _ := json.Marshal(taskspaceUpdatedPayload{
		TaskspaceID: ts.ID,
		Name:        ts.Name,
		Description: ts.Description,
		State:       ts.State,
	})
	return &envelope.Envelope{
		ID:      uuid.NewString(),
		Type:    envelope.TagTaskspaceUpdated,
		Payload: payload,
	}
}
