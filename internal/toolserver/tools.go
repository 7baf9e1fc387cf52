package toolserver

import (
	"context"
	"encoding/json"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/orchestrator"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// SpawnTaskspace asks the Orchestrator to materialize a new Taskspace in
// Hatchling, returning its freshly-minted identifier on success.
func (s *Server) SpawnTaskspace(ctx context.Context, name, description, initialPrompt, collaboratorTag string) (string, error) {
	payload, err := json.Marshal(spawnRequest{
		To:              "orchestrator",
		Name:            name,
		Description:     description,
		InitialPrompt:   initialPrompt,
		CollaboratorTag: collaboratorTag,
	})
	if err != nil {
		return "", symptom.Wrap(symptom.ValidationError, err, "encoding spawn-taskspace request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagSpawnTaskspace, payload))
	if err != nil {
		return "", err
	}

	var body spawnReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return "", symptom.Wrap(symptom.ProtocolViolation, err, "decoding spawn-taskspace reply")
	}
	if body.Status != "ok" {
		return "", symptom.Newf(symptom.StateConflict, "spawn-taskspace failed: %s", body.Error)
	}
	return body.TaskspaceID, nil
}

// UpdateTaskspace requests the Orchestrator update the calling Taskspace's
// name and description, using implicit self-identity.
func (s *Server) UpdateTaskspace(ctx context.Context, name, description string) error {
	if err := s.requireIdentity(); err != nil {
		return err
	}

	payload, err := json.Marshal(updateRequest{
		To:          "orchestrator",
		TaskspaceID: s.identity.TaskspaceID,
		Name:        name,
		Description: description,
	})
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding update-taskspace request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagUpdateTaskspace, payload))
	if err != nil {
		return err
	}

	var body statusReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return symptom.Wrap(symptom.ProtocolViolation, err, "decoding update-taskspace reply")
	}
	if body.Status != "ok" {
		return symptom.Newf(symptom.StateConflict, "update-taskspace failed: %s", body.Error)
	}
	return nil
}

// DeleteTaskspace asks the Orchestrator to tear down the calling Taskspace,
// returning the terminal status ("ok" or "cancelled") the Orchestrator
// settles on after any user confirmation prompt it raises.
func (s *Server) DeleteTaskspace(ctx context.Context, deleteBranch bool) (string, error) {
	if err := s.requireIdentity(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(deleteRequest{
		To:           "orchestrator",
		TaskspaceID:  s.identity.TaskspaceID,
		DeleteBranch: deleteBranch,
	})
	if err != nil {
		return "", symptom.Wrap(symptom.ValidationError, err, "encoding delete-taskspace request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagDeleteTaskspace, payload))
	if err != nil {
		return "", err
	}

	var body statusReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return "", symptom.Wrap(symptom.ProtocolViolation, err, "decoding delete-taskspace reply")
	}
	if body.Status == "error" {
		return "", symptom.Newf(symptom.StateConflict, "delete-taskspace failed: %s", body.Error)
	}
	return body.Status, nil
}

// LogProgress publishes a fire-and-forget progress broadcast; late joiners
// see it via the replay buffer rather than a direct reply (§4.4).
func (s *Server) LogProgress(message string, category orchestrator.ProgressCategory) error {
	if err := s.requireIdentity(); err != nil {
		return err
	}

	payload, err := json.Marshal(logProgressPayload{
		TaskspaceID: s.identity.TaskspaceID,
		Message:     message,
		Category:    category,
	})
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding log-progress broadcast")
	}
	return s.client.Send(newRequestEnvelope(envelope.TagLogProgress, payload))
}

// SignalUser publishes a fire-and-forget attention broadcast.
func (s *Server) SignalUser(reason string) error {
	if err := s.requireIdentity(); err != nil {
		return err
	}

	payload, err := json.Marshal(signalUserPayload{
		TaskspaceID: s.identity.TaskspaceID,
		Reason:      reason,
	})
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding signal-user broadcast")
	}
	return s.client.Send(newRequestEnvelope(envelope.TagSignalUser, payload))
}

// PresentWalkthrough hands a structured document to the editor peer for
// rendering, returning once the editor acknowledges.
func (s *Server) PresentWalkthrough(ctx context.Context, document json.RawMessage) error {
	payload, err := json.Marshal(walkthroughRequest{To: "editor", Document: document})
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding present-walkthrough request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagPresentWalkthrough, payload))
	if err != nil {
		return err
	}

	var body ackReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return symptom.Wrap(symptom.ProtocolViolation, err, "decoding present-walkthrough reply")
	}
	if body.Status != "ok" {
		return symptom.Newf(symptom.StateConflict, "present-walkthrough failed: %s", body.Error)
	}
	return nil
}

// GetSelection asks the editor peer for the user's current selection.
// found is false when nothing is selected.
func (s *Server) GetSelection(ctx context.Context) (text string, found bool, err error) {
	payload, err := json.Marshal(envelope.Addressed{To: "editor"})
	if err != nil {
		return "", false, symptom.Wrap(symptom.ValidationError, err, "encoding get-selection request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagGetSelection, payload))
	if err != nil {
		return "", false, err
	}

	var body selectionReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return "", false, symptom.Wrap(symptom.ProtocolViolation, err, "decoding get-selection reply")
	}
	return body.Text, body.Found, nil
}

// IDEOperation issues a structured request from the closed IDEOperationKind
// set to the editor peer, returning its result or a diagnostic carrying
// candidate disambiguations.
func (s *Server) IDEOperation(ctx context.Context, kind IDEOperationKind, params json.RawMessage) (json.RawMessage, error) {
	payload, err := json.Marshal(ideOperationRequest{To: "editor", Kind: kind, Params: params})
	if err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "encoding ide-operation request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagIDEOperation, payload))
	if err != nil {
		return nil, err
	}

	var body ideOperationReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return nil, symptom.Wrap(symptom.ProtocolViolation, err, "decoding ide-operation reply")
	}
	if body.Error != "" {
		return nil, &symptom.Error{Kind: symptom.NotFound, Message: body.Error}
	}
	return body.Result, nil
}

// ExpandReference resolves token. Pre-defined tokens resolve from the
// local table without touching the bus (§4.6); everything else goes out as
// an unaddressed directed request, which the broker falls back to
// broadcasting to every potential producer.
func (s *Server) ExpandReference(ctx context.Context, token string) (json.RawMessage, error) {
	if content, ok := s.refs.Lookup(token); ok && s.refs.IsPredefined(token) {
		return content, nil
	}

	payload, err := json.Marshal(expandRequest{Token: token})
	if err != nil {
		return nil, symptom.Wrap(symptom.ValidationError, err, "encoding expand-reference request")
	}

	reply, err := s.request(ctx, newRequestEnvelope(envelope.TagExpandReference, payload))
	if err != nil {
		return nil, err
	}

	var body expandReply
	if err := json.Unmarshal(reply.Payload, &body); err != nil {
		return nil, symptom.Wrap(symptom.ProtocolViolation, err, "decoding expand-reference reply")
	}
	if !body.Found {
		return nil, symptom.Newf(symptom.NotFound, "reference token %q not found", token)
	}
	return body.Content, nil
}
