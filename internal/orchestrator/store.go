package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// ProjectManifestName, TaskspaceManifestName, and TaskspaceDirPrefix are
// exported so other packages (notably the Tool Server's implicit
// self-identity search, §4.4) can locate project and taskspace directories
// using the same on-disk convention this package writes.
const (
	ProjectManifestName   = "project.json"
	TaskspaceManifestName = "taskspace.json"
	TaskspaceDirPrefix    = "task-"

	projectManifestName   = ProjectManifestName
	taskspaceManifestName = TaskspaceManifestName
	taskspaceDirPrefix    = TaskspaceDirPrefix
)

// taskspaceDir returns the Taskspace's subdirectory name, which encodes its
// identifier (§4.5 on-disk layout).
func taskspaceDir(id string) string {
	return taskspaceDirPrefix + id
}

// writeManifest marshals v as indented JSON and writes it to path using
// write-temporary-then-rename (§4.5: "writes are atomic per file"), so a
// crash mid-write never leaves a partially-written manifest in place.
func writeManifest(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return symptom.Wrap(symptom.ValidationError, err, "encoding manifest")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return symptom.Wrap(symptom.PermissionDenied, err, "creating temporary manifest file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return symptom.Wrap(symptom.PermissionDenied, err, "writing temporary manifest file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return symptom.Wrap(symptom.PermissionDenied, err, "closing temporary manifest file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return symptom.Wrap(symptom.PermissionDenied, err, "renaming manifest into place")
	}
	return nil
}

// readManifest unmarshals path into v. Only the fields declared on v's
// type are decoded; JSON keys this package does not know are ignored and
// are not kept anywhere, so a later save of the same manifest omits them.
func readManifest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return symptom.Wrap(symptom.NotFound, err, fmt.Sprintf("manifest %s", path))
		}
		return symptom.Wrap(symptom.PermissionDenied, err, fmt.Sprintf("reading %s", path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return symptom.Wrap(symptom.ValidationError, err, fmt.Sprintf("parsing %s", path))
	}
	return nil
}

func saveProject(projectPath string, p *Project) error {
	return writeManifest(filepath.Join(projectPath, projectManifestName), p)
}

func loadProject(projectPath string) (*Project, error) {
	var p Project
	if err := readManifest(filepath.Join(projectPath, projectManifestName), &p); err != nil {
		return nil, err
	}
	if p.SchemaVersion > CurrentSchemaVersion {
		return nil, symptom.Newf(symptom.ValidationError, "project manifest schema version %d is newer than supported version %d", p.SchemaVersion, CurrentSchemaVersion)
	}
	return &p, nil
}

func saveTaskspace(projectPath string, t *Taskspace) error {
	dir := filepath.Join(projectPath, taskspaceDir(t.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return symptom.Wrap(symptom.PermissionDenied, err, "creating taskspace directory")
	}
	return writeManifest(filepath.Join(dir, taskspaceManifestName), t)
}

func loadTaskspace(projectPath, id string) (*Taskspace, error) {
	var t Taskspace
	path := filepath.Join(projectPath, taskspaceDir(id), taskspaceManifestName)
	if err := readManifest(path, &t); err != nil {
		return nil, err
	}
	if t.SchemaVersion > CurrentSchemaVersion {
		return nil, symptom.Newf(symptom.ValidationError, "taskspace %s manifest schema version %d is newer than supported version %d", id, t.SchemaVersion, CurrentSchemaVersion)
	}
	return &t, nil
}

// removeTaskspace deletes a Taskspace's entire subdirectory, including any
// source tree inside it. It never touches an upstream branch (branch
// deletion is outside this package's scope: it requires the source-control
// operations spec.md §1 excludes).
func removeTaskspace(projectPath, id string) error {
	dir := filepath.Join(projectPath, taskspaceDir(id))
	if err := os.RemoveAll(dir); err != nil {
		return symptom.Wrap(symptom.PermissionDenied, err, "removing taskspace directory")
	}
	return nil
}

// listTaskspaceDirs returns the Taskspace identifiers named by the
// filesystem, for the manifest-filesystem agreement invariant (§8).
func listTaskspaceDirs(projectPath string) ([]string, error) {
	entries, err := os.ReadDir(projectPath)
	if err != nil {
		return nil, symptom.Wrap(symptom.PermissionDenied, err, "listing project directory")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len(taskspaceDirPrefix) && e.Name()[:len(taskspaceDirPrefix)] == taskspaceDirPrefix {
			ids = append(ids, e.Name()[len(taskspaceDirPrefix):])
		}
	}
	return ids, nil
}
