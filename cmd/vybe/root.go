package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the vybe CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vybe",
		Short: "Vybe - an embeddable plugin runtime",
		Long: `Vybe hosts sandboxed plugins that extend the application with
tools, UI components, and API endpoints, managed through a
manifest-driven lifecycle.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPluginsCmd())

	return cmd
}
