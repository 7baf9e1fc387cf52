package orchestrator

// Payload shapes for the envelope types this package sends and receives.
// Each mirrors the tool catalog's inputs (§4.4) plus the "to" field every
// Directed payload carries (see envelope.Addressed).

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
	To            string `json:"to"`
	TaskspaceID   string `json:"taskspaceId"`
	DeleteBranch  bool   `json:"deleteBranch"`
}

type confirmPrompt struct {
	To          string `json:"to"`
	TaskspaceID string `json:"taskspaceId"`
	Message     string `json:"message"`
}

type confirmReply struct {
	Confirmed bool `json:"confirmed"`
}

type logProgressPayload struct {
	TaskspaceID string           `json:"taskspaceId"`
	Message     string           `json:"message"`
	Category    ProgressCategory `json:"category"`
}

type signalUserPayload struct {
	TaskspaceID string `json:"taskspaceId"`
	Reason      string `json:"reason"`
}

type registerWindowPayload struct {
	To          string `json:"to"`
	TaskspaceID string `json:"taskspaceId"`
	Handle      string `json:"handle"`
}

type taskspaceUpdatedPayload struct {
	TaskspaceID string         `json:"taskspaceId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	State       LifecycleState `json:"state"`
}

type rollCallPayload struct {
	Reason string `json:"reason"`
}
