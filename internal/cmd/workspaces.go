package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patleeman/taskfactory/internal/workspace"
)

// NewWorkspacesCommand lists the registered workspaces.
func NewWorkspacesCommand() *cobra.Command {
	var appDir string

	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List registered workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := workspace.NewRegistry(appDir)
			if err != nil {
				return err
			}
			workspaces, err := registry.List()
			if err != nil {
				return err
			}
			if len(workspaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workspaces registered.")
				return nil
			}
			bold := color.New(color.Bold)
			for _, ws := range workspaces {
				bold.Fprintf(cmd.OutOrStdout(), "%s", ws.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  (%s)\n", ws.Name, ws.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&appDir, "app-dir", "", "application directory holding the workspace registry")
	return cmd
}
