// Package orchestrator assembles the per-workspace component graph: task
// store, activity journal, attachment store, leases, breakers, supervisor,
// queue manager, and the file watcher that kicks the queue on external task
// edits.
package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/patleeman/taskfactory/internal/activity"
	"github.com/patleeman/taskfactory/internal/attachments"
	"github.com/patleeman/taskfactory/internal/breaker"
	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/callbacks"
	"github.com/patleeman/taskfactory/internal/config"
	"github.com/patleeman/taskfactory/internal/defaults"
	"github.com/patleeman/taskfactory/internal/lease"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/queue"
	"github.com/patleeman/taskfactory/internal/runtime"
	"github.com/patleeman/taskfactory/internal/settings"
	"github.com/patleeman/taskfactory/internal/supervisor"
	"github.com/patleeman/taskfactory/internal/taskstore"
	"github.com/patleeman/taskfactory/internal/workspace"
)

// Options configures workspace assembly.
type Options struct {
	// AppDir is the global application directory (defaults under $HOME).
	AppDir string
	// StateDir is the per-workspace dot-directory name.
	StateDir string

	Config   config.Config
	Runtime  runtime.AgentRuntime
	Bus      *broadcast.Bus
	Registry *callbacks.Registry
	Settings *settings.Store
	Log      logger.Logger
}

// Workspace is one fully wired workspace.
type Workspace struct {
	Meta  models.Workspace
	Paths workspace.Paths

	Tasks       *taskstore.Store
	Journal     *activity.Journal
	Attachments *attachments.Store
	Leases      *lease.Manager
	Breakers    *breaker.Set
	Supervisor  *supervisor.Supervisor
	Queue       *queue.Manager
	Skills      *defaults.Catalog
	Profiles    *defaults.ProfileStore

	registry *callbacks.Registry
	watcher  *queue.Watcher
	log      logger.Logger
}

// OpenWorkspace wires every component for one workspace and registers its
// workspace-scope tool callbacks. The queue starts if the resolved workflow
// settings have readyToExecuting on.
func OpenWorkspace(meta models.Workspace, opts Options) (*Workspace, error) {
	log := logger.OrNop(opts.Log)
	paths := workspace.NewPaths(meta.Path, opts.StateDir)
	cfg := opts.Config

	tasks := taskstore.New(paths, log)
	journal := activity.NewJournal(paths.ActivityFile(), log)
	tasks.SetRecorder(activity.NewPhaseRecorder(journal, log))
	tasks.SetUpdateRecorder(&taskUpdateBroadcaster{bus: opts.Bus, workspaceID: meta.ID})

	attach := attachments.New(paths, tasks, log)
	leases := lease.NewManager(paths.LeaseFile(), cfg.LeaseTTL, cfg.LeasesEnabled, log)
	breakers := breaker.NewSet(cfg.BreakerThreshold, cfg.BreakerBurstWindow, cfg.BreakerCooldown)

	skills, err := defaults.LoadCatalog(paths.SkillsFile())
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", meta.ID, err)
	}
	profiles, err := defaults.NewProfileStore(paths.ProfilesDB())
	if err != nil {
		return nil, fmt.Errorf("workspace %s: open profile store: %w", meta.ID, err)
	}

	sup := supervisor.New(supervisor.Config{
		WorkspaceID:      meta.ID,
		WorkspacePath:    meta.Path,
		Runtime:          opts.Runtime,
		Tasks:            tasks,
		Journal:          journal,
		Attachments:      attach,
		Registry:         opts.Registry,
		Bus:              opts.Bus,
		Leases:           leases,
		Skills:           skills,
		HeartbeatCadence: cfg.LeaseHeartbeat,
		Log:              log,
	})

	q := queue.NewManager(queue.Config{
		WorkspaceID:        meta.ID,
		Tasks:              tasks,
		Journal:            journal,
		Leases:             leases,
		Breakers:           breakers,
		Runner:             sup,
		Bus:                opts.Bus,
		Settings:           opts.Settings,
		SettingsPath:       paths.SettingsFile(),
		SafetyPollInterval: cfg.SafetyPollInterval,
		Log:                log,
	})

	ws := &Workspace{
		Meta:        meta,
		Paths:       paths,
		Tasks:       tasks,
		Journal:     journal,
		Attachments: attach,
		Leases:      leases,
		Breakers:    breakers,
		Supervisor:  sup,
		Queue:       q,
		Skills:      skills,
		Profiles:    profiles,
		registry:    opts.Registry,
		log:         log,
	}
	ws.registerCallbacks(opts.Settings)

	watcher, err := queue.NewWatcher(paths.TasksDir(), q.Kick, log)
	if err != nil {
		log.Warnf("workspace %s: task watcher unavailable: %v", meta.ID, err)
	} else {
		ws.watcher = watcher
	}

	if opts.Settings.Resolve(paths.SettingsFile()).ReadyToExecuting {
		q.Start()
	}
	return ws, nil
}

// registerCallbacks installs the workspace-scope tool callbacks.
func (w *Workspace) registerCallbacks(store *settings.Store) {
	w.registry.RegisterFactoryControl(w.Meta.ID, func(action callbacks.FactoryAction) (string, error) {
		switch action {
		case callbacks.FactoryStart:
			if _, err := store.Patch(w.Paths.SettingsFile(), settings.Overrides{ReadyToExecuting: boolPtr(true)}); err != nil {
				return "", err
			}
			w.Queue.Start()
			return "Factory started.", nil
		case callbacks.FactoryStop:
			if _, err := store.Patch(w.Paths.SettingsFile(), settings.Overrides{ReadyToExecuting: boolPtr(false)}); err != nil {
				return "", err
			}
			w.Queue.Stop()
			return "Factory stopped.", nil
		default:
			snapshot := w.Queue.Snapshot()
			if !snapshot.Enabled {
				return "Factory is stopped.", nil
			}
			if snapshot.CurrentTaskID != "" {
				return fmt.Sprintf("Factory is running; current task %s.", snapshot.CurrentTaskID), nil
			}
			return "Factory is running; no task in flight.", nil
		}
	})

	w.registry.RegisterQA(w.Meta.ID, func(requestID string, questions []string, workspaceID string) error {
		for _, q := range questions {
			if _, err := w.Journal.Append(models.ActivityEntry{
				TaskID:    "system",
				Type:      models.ActivitySystemEvent,
				EventKind: models.EventAwaitingUserInput,
				Message:   fmt.Sprintf("Agent question (%s): %s", requestID, q),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the queue, tears down the watcher, and flushes the serialized
// writers.
func (w *Workspace) Close() {
	w.Queue.Stop()
	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			w.log.Warnf("workspace %s: failed to close watcher: %v", w.Meta.ID, err)
		}
	}
	w.registry.RemoveFactoryControl(w.Meta.ID)
	w.registry.RemoveQA(w.Meta.ID)
	if err := w.Profiles.Close(); err != nil {
		w.log.Warnf("workspace %s: failed to close profile store: %v", w.Meta.ID, err)
	}
	w.Leases.Close()
	w.Journal.Close()
}

// App holds every open workspace of one orchestrator process.
type App struct {
	opts       Options
	workspaces map[string]*Workspace
}

// NewApp creates an empty app.
func NewApp(opts Options) *App {
	return &App{opts: opts, workspaces: make(map[string]*Workspace)}
}

// OpenAll opens every workspace listed in the registry file under AppDir.
func (a *App) OpenAll() error {
	registry, err := workspace.NewRegistry(a.opts.AppDir)
	if err != nil {
		return err
	}
	metas, err := registry.List()
	if err != nil {
		return fmt.Errorf("failed to read workspace registry: %w", err)
	}
	for _, meta := range metas {
		ws, err := OpenWorkspace(meta, a.opts)
		if err != nil {
			return err
		}
		a.workspaces[meta.ID] = ws
	}
	return nil
}

// Workspace returns an open workspace by id.
func (a *App) Workspace(id string) (*Workspace, bool) {
	ws, ok := a.workspaces[id]
	return ws, ok
}

// Workspaces returns every open workspace.
func (a *App) Workspaces() []*Workspace {
	out := make([]*Workspace, 0, len(a.workspaces))
	for _, ws := range a.workspaces {
		out = append(out, ws)
	}
	return out
}

// Close closes every workspace.
func (a *App) Close() {
	for _, ws := range a.workspaces {
		ws.Close()
	}
}

// GlobalSettingsPath is the default location of the global settings file.
func GlobalSettingsPath(appDir string) string {
	return filepath.Join(appDir, "settings.json")
}

// taskUpdateBroadcaster forwards persisted non-phase task mutations to the
// bus as task:updated events. It satisfies taskstore.UpdateRecorder.
type taskUpdateBroadcaster struct {
	bus         *broadcast.Bus
	workspaceID string
}

func (b *taskUpdateBroadcaster) RecordTaskUpdated(task *models.Task, changes []string) {
	b.bus.Emit(broadcast.Event{
		Name:        broadcast.TaskUpdated,
		WorkspaceID: b.workspaceID,
		Payload:     map[string]any{"task": task, "changes": changes},
	})
}

func boolPtr(b bool) *bool { return &b }
