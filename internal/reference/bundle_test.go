package reference

import "testing"

func TestLoadBundleFallsBackToDefaultForUnknownRole(t *testing.T) {
	docs := LoadBundle("nonexistent-role")
	if _, ok := docs["yiasou"]; !ok {
		t.Error("LoadBundle(nonexistent-role) missing yiasou fallback entry")
	}
}

func TestLoadBundleSelectsNamedRole(t *testing.T) {
	docs := LoadBundle("reviewer")
	if _, ok := docs["review-rubric"]; !ok {
		t.Error("LoadBundle(reviewer) missing review-rubric entry")
	}
}
