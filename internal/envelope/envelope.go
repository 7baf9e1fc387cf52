// Package envelope defines the wire unit carried on the Symposium bus: the
// Envelope itself, the closed type-tag registry, and the routing-class
// classification that the broker applies to every ingress message.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Tag is a message-type tag drawn from the closed registry in RegisteredTags.
type Tag string

const (
	TagSpawnTaskspace         Tag = "spawn-taskspace"
	TagUpdateTaskspace        Tag = "update-taskspace"
	TagDeleteTaskspace        Tag = "delete-taskspace"
	TagTaskspaceUpdated       Tag = "taskspace-updated"
	TagTaskspaceRollCall      Tag = "taskspace-roll-call"
	TagRegisterTaskspaceWindow Tag = "register-taskspace-window"
	TagDeleteResponse         Tag = "delete-response"

	TagLogProgress Tag = "log-progress"
	TagSignalUser  Tag = "signal-user"

	TagGetSelection       Tag = "get-selection"
	TagIDEOperation       Tag = "ide-operation"
	TagPresentWalkthrough Tag = "present-walkthrough"
	TagStoreReference     Tag = "store-reference"
	TagExpandReference    Tag = "expand-reference"

	TagSubscribe Tag = "subscribe"
	TagHeartbeat Tag = "heartbeat"
	TagLog       Tag = "log"
)

// Class is one of the three routing classes a broker applies to every
// envelope, plus Control for envelopes the broker consumes itself rather
// than forwarding.
type Class int

const (
	// ClassBroadcast is delivered to every currently-connected peer.
	ClassBroadcast Class = iota
	// ClassDirected carries an addressee in its payload and is delivered
	// only to the matching peer.
	ClassDirected
	// ClassReply carries a correlation identifier and is delivered to the
	// peer that originated the matching request.
	ClassReply
	// ClassControl is handled by the broker itself and never forwarded.
	ClassControl
)

func (c Class) String() string {
	switch c {
	case ClassBroadcast:
		return "broadcast"
	case ClassDirected:
		return "directed"
	case ClassReply:
		return "reply"
	case ClassControl:
		return "control"
	default:
		return "unknown"
	}
}

// tagMeta records a tag's base routing class and whether its envelopes
// belong to the replayable set (§4.2). A reply overrides the base class at
// classification time whenever the envelope carries a CorrelationID that
// matches an outstanding request tracked by the broker: this is how
// request/reply pairs reuse their request's tag (spawn-taskspace,
// update-taskspace) instead of needing a dedicated reply tag for every
// request type.
type tagMeta struct {
	base       Class
	replayable bool
}

var registry = map[Tag]tagMeta{
	TagSpawnTaskspace:         {base: ClassDirected},
	TagUpdateTaskspace:        {base: ClassDirected},
	TagDeleteTaskspace:        {base: ClassDirected},
	TagTaskspaceUpdated:       {base: ClassBroadcast, replayable: true},
	TagTaskspaceRollCall:      {base: ClassBroadcast, replayable: true},
	TagRegisterTaskspaceWindow: {base: ClassDirected, replayable: true},
	TagDeleteResponse:         {base: ClassReply},

	TagLogProgress: {base: ClassBroadcast, replayable: true},
	TagSignalUser:  {base: ClassBroadcast},

	TagGetSelection:       {base: ClassDirected},
	TagIDEOperation:       {base: ClassDirected},
	TagPresentWalkthrough: {base: ClassDirected},
	TagStoreReference:     {base: ClassBroadcast},
	TagExpandReference:    {base: ClassDirected},

	TagSubscribe: {base: ClassControl},
	TagHeartbeat: {base: ClassControl},
	TagLog:       {base: ClassBroadcast},
}

// Known reports whether tag belongs to the closed registry. The broker
// refuses unknown tags per the DESIGN NOTES' "single canonical type-tag
// registry" requirement.
func Known(t Tag) bool {
	_, ok := registry[t]
	return ok
}

// Replayable reports whether envelopes of this tag belong to the bounded
// replay buffer.
func Replayable(t Tag) bool {
	return registry[t].replayable
}

// BaseClass returns the tag's routing class before any per-envelope
// correlation override is applied.
func BaseClass(t Tag) Class {
	meta, ok := registry[t]
	if !ok {
		return ClassBroadcast
	}
	return meta.base
}

// RegisteredTags returns every tag in the closed registry, for validation
// and for tests that assert the registry's shape.
func RegisteredTags() []Tag {
	tags := make([]Tag, 0, len(registry))
	for t := range registry {
		tags = append(tags, t)
	}
	return tags
}

// Envelope is the unit carried on the bus. Seq is absent (zero) in
// envelopes submitted by peers and always set by the broker on envelopes it
// delivers. Envelopes are immutable once published: nothing in this package
// mutates an Envelope's fields after Classify or after the broker stamps
// Seq.
type Envelope struct {
	ID            string          `json:"id"`
	Type          Tag             `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Origin        string          `json:"origin,omitempty"`
	Seq           uint64          `json:"seq,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Addressed is the shape shared by every Directed payload: an addressee,
// either a literal peer identifier or a well-known role token such as
// "orchestrator" or "editor" that the broker resolves against its
// role-to-peer index. A payload with no "to" at all (valid JSON object
// lacking the field) is treated as unaddressed. The broker broadcasts an
// unaddressed expand-reference request — this is how it reaches an unknown
// token's producer per §4.6 — and drops every other unaddressed Directed
// envelope.
type Addressed struct {
	To string `json:"to,omitempty"`
}

// Addressee extracts the "to" field from a payload without fully
// unmarshaling it into a tag-specific struct.
func Addressee(payload json.RawMessage) string {
	var a Addressed
	if len(payload) == 0 {
		return ""
	}
	_ = json.Unmarshal(payload, &a)
	return a.To
}

// Classify returns env's routing class: its base class, overridden to
// ClassReply whenever hasPendingCorrelation is true and env carries a
// CorrelationID. Callers pass a lookup against the broker's own
// outstanding-request table for hasPendingCorrelation; this package has no
// notion of what requests are outstanding.
func Classify(env *Envelope, hasPendingCorrelation bool) Class {
	if env.CorrelationID != "" && hasPendingCorrelation {
		return ClassReply
	}
	return BaseClass(env.Type)
}

// Validate checks the structural invariants every envelope must satisfy
// before it is accepted for classification: known tag, present id, and a
// non-nil payload (an explicit JSON null is rejected — every tag's payload
// schema is an object).
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope: missing id")
	}
	if !Known(e.Type) {
		return fmt.Errorf("envelope: unknown type tag %q", e.Type)
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("envelope: missing payload")
	}
	return nil
}
