// Package orchestrator implements the Orchestrator State Engine (§4.5): the
// authoritative on-disk model of Projects and Taskspaces, and the handlers
// that apply bus-driven mutation envelopes to it.
package orchestrator

import "time"

// LifecycleState is one of the two live states of a Taskspace (§3). Gone is
// not a stored value — a deleted Taskspace has no manifest at all.
type LifecycleState string

const (
	Hatchling LifecycleState = "hatchling"
	Resume    LifecycleState = "resume"
)

// ProgressCategory is the closed set a Progress Entry's category is drawn
// from (§3).
type ProgressCategory string

const (
	CategoryInfo      ProgressCategory = "informational"
	CategoryWarning   ProgressCategory = "warning"
	CategoryError     ProgressCategory = "error"
	CategoryMilestone ProgressCategory = "milestone"
	CategoryQuestion  ProgressCategory = "question"
)

// ProgressEntry is immutable once appended (§3).
type ProgressEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message"`
	Category  ProgressCategory `json:"category"`
}

// AttentionSignal records one signal-user event pending human response.
type AttentionSignal struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// WindowAssociation is the Taskspace's possibly-empty link to an editor
// window, opaque to the core (§9 DESIGN NOTES: "window handles are opaque
// to the core and carried by value").
type WindowAssociation struct {
	Handle string `json:"handle"`
	Live   bool   `json:"live"`
}

// CurrentSchemaVersion is written into every manifest persisted by this
// package and checked on load (§6: "versioned by a numeric schema-version
// field").
const CurrentSchemaVersion = 1

// Taskspace is the persisted manifest at task-<uuid>/taskspace.json (§6).
type Taskspace struct {
	SchemaVersion int             `json:"schemaVersion"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	State         LifecycleState  `json:"state"`
	Log           []ProgressEntry `json:"log"`
	Attention     []AttentionSignal `json:"attention"`
	Window        *WindowAssociation `json:"window,omitempty"`
	Branch        string          `json:"branch"`
	LastActivated time.Time       `json:"lastActivated"`
	InitialPrompt string          `json:"initialPrompt,omitempty"`
}

// Project is the persisted manifest at <project>/project.json (§6). Order
// is the activation order (§3): most-recently-activated Taskspace id first.
type Project struct {
	SchemaVersion int      `json:"schemaVersion"`
	Name          string   `json:"name"`
	SourceRepo    string   `json:"sourceRepo"`
	DefaultBranch string   `json:"defaultBranch"`
	AgentTag      string   `json:"agentTag"`
	Stacked       bool     `json:"stacked"`
	Order         []string `json:"order"`
}
