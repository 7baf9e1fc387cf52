package toolserver

import (
	"encoding/json"

	"github.com/socratic-shell/symposium-sub004/internal/orchestrator"
)

// Payload shapes this package sends to, or receives from, editor and
// reference-producer peers (§4.4's tool catalog). Fields mirror the
// orchestrator package's payload naming so the two sides of a request/reply
// pair agree on the wire without either package importing the other's
// unexported types.

type selectionReply struct {
	Text  string `json:"text,omitempty"`
	Found bool   `json:"found"`
}

type walkthroughRequest struct {
	To       string          `json:"to"`
	Document json.RawMessage `json:"document"`
}

type ackReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IDEOperationKind is the closed set of structured IDE requests §4.4 names.
type IDEOperationKind string

const (
	IDEFindDefinitions IDEOperationKind = "find-definitions"
	IDEFindReferences  IDEOperationKind = "find-references"
	IDEPatternSearch   IDEOperationKind = "pattern-search"
	IDERangeFetch      IDEOperationKind = "range-fetch"
)

type ideOperationRequest struct {
	To     string           `json:"to"`
	Kind   IDEOperationKind `json:"kind"`
	Params json.RawMessage  `json:"params,omitempty"`
}

type ideOperationReply struct {
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Candidates []json.RawMessage `json:"candidates,omitempty"`
}

type expandRequest struct {
	To    string `json:"to,omitempty"`
	Token string `json:"token"`
}

type expandReply struct {
	Found   bool            `json:"found"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Taskspace-lifecycle payloads mirror internal/orchestrator's unexported
// spawnRequest/updateRequest/deleteRequest/confirmReply/logProgressPayload/
// signalUserPayload field-for-field: the wire contract is the JSON tag, not
// the Go type, so both sides agree without either package importing the
// other's internals.

type spawnRequest struct {
	To              string `json:"to"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	InitialPrompt   string `json:"initialPrompt"`
	CollaboratorTag string `json:"collaboratorTag,omitempty"`
}

type spawnReply struct {
	Status      string `json:"status"`
	TaskspaceID string `json:"taskspaceId,omitempty"`
	Error       string `json:"error,omitempty"`
}

type updateRequest struct {
	To          string `json:"to"`
	TaskspaceID string `json:"taskspaceId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type statusReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type deleteRequest struct {
	To           string `json:"to"`
	TaskspaceID  string `json:"taskspaceId"`
	DeleteBranch bool   `json:"deleteBranch"`
}

type logProgressPayload struct {
	TaskspaceID string                       `json:"taskspaceId"`
	Message     string                       `json:"message"`
	Category    orchestrator.ProgressCategory `json:"category"`
}

type signalUserPayload struct {
	TaskspaceID string `json:"taskspaceId"`
	Reason      string `json:"reason"`
}
