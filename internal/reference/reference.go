// Package reference implements the Reference System (§4.6): short opaque
// tokens standing for larger structured content, registered by a producer
// peer and redeemed by any peer over the bus.
package reference

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// Table is the broker-lifetime store of registered (token, content) pairs.
// Entries are added only by calling Register; no component in this
// repository calls it in response to a store-reference envelope. Any peer
// redeems a token via an expand-reference directed request to the
// producer. Pre-defined tokens resolve out of the predefined map and never
// touch the bus (§8 scenario 6).
type Table struct {
	mu         sync.RWMutex
	entries    map[string]json.RawMessage
	predefined map[string]json.RawMessage
}

// NewTable constructs a Table seeded with predefined, the guidance bundle
// selected by the agent-role tag (§6). predefined tokens are resolved
// locally and are never subject to the re-registration rules below.
func NewTable(predefined map[string]json.RawMessage) *Table {
	return &Table{
		entries:    make(map[string]json.RawMessage),
		predefined: predefined,
	}
}

// NewToken mints a fresh registration token for a producer about to publish
// a store-reference envelope.
func NewToken() string {
	return uuid.NewString()
}

// IsPredefined reports whether token resolves locally without a bus round
// trip.
func (t *Table) IsPredefined(token string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.predefined[token]
	return ok
}

// Register stores content under token. Re-registering an existing token is
// a no-op if content is byte-identical to what is already stored, and a
// symptom.StateConflict otherwise (§4.6: "re-registering a token is a
// no-op if the content matches and an error otherwise").
func (t *Table) Register(token string, content json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[token]; ok {
		if bytes.Equal(existing, content) {
			return nil
		}
		return symptom.Newf(symptom.StateConflict, "reference token %q already registered with different content", token)
	}
	t.entries[token] = content
	return nil
}

// Lookup resolves token, checking predefined tokens first since those are
// never shadowed by a bus registration.
func (t *Table) Lookup(token string) (json.RawMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if content, ok := t.predefined[token]; ok {
		return content, true
	}
	content, ok := t.entries[token]
	return content, ok
}
