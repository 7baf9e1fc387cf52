package toolserver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveIdentityFindsAncestorTaskspaceDirectory(t *testing.T) {
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, "project.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile(project.json) error = %v", err)
	}
	taskspaceDir := filepath.Join(projectDir, "task-abc123")
	workDir := filepath.Join(taskspaceDir, "src", "nested")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	identity, err := ResolveIdentity(workDir)
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v", err)
	}
	if identity.TaskspaceID != "abc123" {
		t.Errorf("TaskspaceID = %q, want %q", identity.TaskspaceID, "abc123")
	}
	if identity.ProjectPath != projectDir {
		t.Errorf("ProjectPath = %q, want %q", identity.ProjectPath, projectDir)
	}
}

func TestResolveIdentityFailsOutsideAnyTaskspace(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolveIdentity(dir); err == nil {
		t.Error("ResolveIdentity() error = nil, want ErrNoSelfIdentity")
	}
}

func TestResolveIdentityRejectsTaskspaceDirWithoutProjectManifest(t *testing.T) {
	dir := t.TempDir()
	taskspaceDir := filepath.Join(dir, "task-orphan")
	if err := os.MkdirAll(taskspaceDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	if _, err := ResolveIdentity(taskspaceDir); err == nil {
		t.Error("ResolveIdentity() error = nil, want failure without a sibling project manifest")
	}
}
