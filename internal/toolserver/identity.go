package toolserver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/socratic-shell/symposium-sub004/internal/orchestrator"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// Identity is the (project path, taskspace identifier) pair attached to
// every outbound envelope whose payload requires "self" (§4.4).
type Identity struct {
	ProjectPath string
	TaskspaceID string
}

// ErrNoSelfIdentity is returned by ResolveIdentity when startDir has no
// ancestor matching the Taskspace identifier convention — the "fixed
// diagnostic" §4.4 requires tools needing self-identity to fail with.
var ErrNoSelfIdentity = symptom.New(symptom.NotFound, "no taskspace ancestor directory found; this tool requires a Symposium-managed working directory")

// ResolveIdentity walks startDir's ancestors looking for a directory named
// "task-<id>" whose parent contains a project manifest, the convention
// the orchestrator's spawn-taskspace handler uses when materializing a
// Taskspace directory.
func ResolveIdentity(startDir string) (Identity, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Identity{}, symptom.Wrap(symptom.NotFound, err, "resolving working directory")
	}

	for {
		name := filepath.Base(dir)
		parent := filepath.Dir(dir)
		if strings.HasPrefix(name, orchestrator.TaskspaceDirPrefix) {
			manifestPath := filepath.Join(parent, orchestrator.ProjectManifestName)
			if _, statErr := os.Stat(manifestPath); statErr == nil {
				return Identity{
					ProjectPath: parent,
					TaskspaceID: strings.TrimPrefix(name, orchestrator.TaskspaceDirPrefix),
				}, nil
			}
		}
		if parent == dir {
			break
		}
		dir = parent
	}

	return Identity{}, ErrNoSelfIdentity
}
