// Package workspace resolves registered workspaces and the on-disk layout of
// their orchestrator state. Storage paths are injected through Paths so
// migration between state directory names stays outside the core.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

// RegistryFileName is the file under the app directory listing workspaces.
const RegistryFileName = "workspaces.json"

// DefaultAppDir is the per-user application directory under $HOME.
const DefaultAppDir = ".taskfactory"

// Registry reads the workspace list from disk.
type Registry struct {
	path string
}

// NewRegistry creates a registry reading from the given app directory.
// An empty appDir resolves to <home>/.taskfactory.
func NewRegistry(appDir string) (*Registry, error) {
	if appDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		appDir = filepath.Join(home, DefaultAppDir)
	}
	return &Registry{path: filepath.Join(appDir, RegistryFileName)}, nil
}

// List returns all registered workspaces. A missing registry file yields an
// empty list, not an error.
func (r *Registry) List() ([]models.Workspace, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workspace registry: %w", err)
	}

	var workspaces []models.Workspace
	if err := json.Unmarshal(data, &workspaces); err != nil {
		return nil, fmt.Errorf("failed to parse workspace registry: %w", err)
	}
	return workspaces, nil
}

// Get returns the workspace with the given id.
func (r *Registry) Get(id string) (models.Workspace, error) {
	workspaces, err := r.List()
	if err != nil {
		return models.Workspace{}, err
	}
	for _, ws := range workspaces {
		if ws.ID == id {
			return ws, nil
		}
	}
	return models.Workspace{}, taskerr.NotFoundf("workspace %q", id)
}
