package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/callbacks"
	"github.com/patleeman/taskfactory/internal/config"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/orchestrator"
	"github.com/patleeman/taskfactory/internal/runtime"
	"github.com/patleeman/taskfactory/internal/settings"
	"github.com/patleeman/taskfactory/internal/workspace"
)

// runtimeProvider is installed by the embedding binary. The core consumes
// the agent runtime capability; it never provides one.
var runtimeProvider func() (runtime.AgentRuntime, error)

// SetRuntimeProvider installs the agent runtime factory serve uses. Must be
// called before Execute.
func SetRuntimeProvider(provider func() (runtime.AgentRuntime, error)) {
	runtimeProvider = provider
}

// NewServeCommand creates the long-running orchestrator command.
func NewServeCommand() *cobra.Command {
	var appDir string
	var stateDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator over every registered workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtimeProvider == nil {
				return errors.New("no agent runtime installed; the hosting binary must call cmd.SetRuntimeProvider")
			}
			rt, err := runtimeProvider()
			if err != nil {
				return fmt.Errorf("failed to create agent runtime: %w", err)
			}

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.NewConsole(os.Stderr, cfg.LogLevel)

			if appDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("failed to resolve home directory: %w", err)
				}
				appDir = filepath.Join(home, workspace.DefaultAppDir)
			}

			app := orchestrator.NewApp(orchestrator.Options{
				AppDir:   appDir,
				StateDir: stateDir,
				Config:   *cfg,
				Runtime:  rt,
				Bus:      broadcast.NewBus(),
				Registry: callbacks.NewRegistry(),
				Settings: settings.NewStore(orchestrator.GlobalSettingsPath(appDir), log),
				Log:      log,
			})
			if err := app.OpenAll(); err != nil {
				return err
			}
			defer app.Close()

			for _, ws := range app.Workspaces() {
				log.Infof("workspace %s (%s) open", ws.Meta.ID, ws.Meta.Path)
			}
			log.Infof("taskfactory serving %d workspace(s)", len(app.Workspaces()))

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			log.Infof("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&appDir, "app-dir", "", "application directory holding the workspace registry (default ~/"+workspace.DefaultAppDir+")")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "per-workspace state directory name (default "+workspace.DefaultAppDir+")")
	return cmd
}
