package reference

import "encoding/json"

// bundles maps an agent-role tag (§6 environment variable) to the set of
// pre-defined reference tokens pre-loaded for that role. "default" is used
// when the role tag is empty or unrecognized. "yiasou" is the literal
// example token from §8 scenario 6.
var bundles = map[string]map[string]string{
	"default": {
		"yiasou": "Welcome. This taskspace is managed by Symposium; use log-progress to narrate your work and signal-user when you need human input.",
	},
	"reviewer": {
		"yiasou":       "Welcome. You are reviewing changes in this taskspace; use get-selection and ide-operation to inspect the diff before commenting.",
		"review-rubric": "Check correctness, test coverage, and whether the change matches its stated intent before approving.",
	},
}

// LoadBundle returns the guidance bundle for role as a map of token to
// json.RawMessage content (a JSON string), suitable for NewTable. An
// unrecognized role falls back to "default" rather than failing startup.
func LoadBundle(role string) map[string]json.RawMessage {
	docs, ok := bundles[role]
	if !ok {
		docs = bundles["default"]
	}

	out := make(map[string]json.RawMessage, len(docs))
	for token, text := range docs {
		encoded, _ := json.Marshal(text)
		out[token] = encoded
	}
	return out
}
