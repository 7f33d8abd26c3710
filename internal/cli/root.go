// Package cli implements the azflow command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"azflow/internal/plugin"
)

// NewRootCmd builds the azflow command tree around registry.
func NewRootCmd(registry *plugin.Registry) *cobra.Command {
	var verbose bool

	logger := func(cmd *cobra.Command) *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}

	root := &cobra.Command{
		Use:           "azflow",
		Short:         "Drive Azure Batch and Blob connectors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newCmdRun(registry, logger))
	root.AddCommand(newCmdConnectors(registry))
	return root
}

func newCmdConnectors(registry *plugin.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List the registered connector types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kind := range registry.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
			return nil
		},
	}
}
