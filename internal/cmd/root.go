// Package cmd holds the taskfactory CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskfactory",
		Short: "Orchestration core for an agentic task factory",
		Long: `Taskfactory coordinates AI coding-agent sessions over a per-workspace
task board: markdown tasks move backlog -> ready -> executing -> complete
while the queue manager enforces WIP limits, recovers orphans, and gates
dispatch behind per-model execution breakers.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewWorkspacesCommand())

	return cmd
}
