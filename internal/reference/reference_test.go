package reference

import (
	"encoding/json"
	"testing"

	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

func TestRegisterIsIdempotentForIdenticalContent(t *testing.T) {
	table := NewTable(nil)
	content := json.RawMessage(`{"text":"hello"}`)

	if err := table.Register("tok-1", content); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := table.Register("tok-1", json.RawMessage(`{"text":"hello"}`)); err != nil {
		t.Errorf("re-registering identical content returned error = %v, want nil", err)
	}
}

func TestRegisterConflictsOnDifferentContent(t *testing.T) {
	table := NewTable(nil)
	if err := table.Register("tok-1", json.RawMessage(`{"text":"hello"}`)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := table.Register("tok-1", json.RawMessage(`{"text":"goodbye"}`))
	var symErr *symptom.Error
	if err == nil {
		t.Fatal("expected StateConflict, got nil")
	}
	if !asSymptom(err, &symErr) || symErr.Kind != symptom.StateConflict {
		t.Errorf("error = %v, want symptom.StateConflict", err)
	}
}

func TestLookupPrefersPredefinedOverRegistered(t *testing.T) {
	predefined := map[string]json.RawMessage{"yiasou": json.RawMessage(`"bundled"`)}
	table := NewTable(predefined)

	content, ok := table.Lookup("yiasou")
	if !ok || string(content) != `"bundled"` {
		t.Errorf("Lookup(yiasou) = %s, %v, want bundled doc", content, ok)
	}
	if !table.IsPredefined("yiasou") {
		t.Error("IsPredefined(yiasou) = false, want true")
	}
}

func TestLookupMissingTokenFails(t *testing.T) {
	table := NewTable(nil)
	if _, ok := table.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) = ok, want not found")
	}
}

func asSymptom(err error, target **symptom.Error) bool {
	se, ok := err.(*symptom.Error)
	if ok {
		*target = se
	}
	return ok
}
