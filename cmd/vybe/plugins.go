// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vybeapp/vybe/internal/config"
	"github.com/vybeapp/vybe/internal/logging"
	"github.com/vybeapp/vybe/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage installed plugins",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsInstallCmd())
	cmd.AddCommand(newPluginsUninstallCmd())
	cmd.AddCommand(newPluginsEnableCmd())
	cmd.AddCommand(newPluginsDisableCmd())
	cmd.AddCommand(newPluginsUpdateCmd())
	cmd.AddCommand(newPluginsValidateCmd())

	return cmd
}

// pluginsManager builds a manager for one-shot CLI operations. Logging is
// kept at warn so command output stays readable.
func pluginsManager(cmd *cobra.Command) (*plugin.Manager, error) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("vybe", version, "text", "warn")

	mgr, err := buildManager(cfg)
	if err != nil {
		return nil, err
	}
	if err := mgr.Start(cmd.Context()); err != nil {
		return nil, fmt.Errorf("failed to start plugin manager: %w", err)
	}
	return mgr, nil
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			infos := mgr.AllStatuses()
			if len(infos) == 0 {
				cmd.Println("No plugins installed")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tTYPE\tSTATUS")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.ID, info.Descriptor.Name, info.Descriptor.Version,
					info.Descriptor.Kind, info.Status)
			}
			return w.Flush()
		},
	}
}

func newPluginsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <package>",
		Short: "Install a plugin from a zip archive or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			id, err := mgr.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Installed %s\n", id)
			return nil
		},
	}
}

func newPluginsUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			if err := mgr.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newPluginsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a plugin and verify it loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			if err := mgr.Enable(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Enabled %s\n", args[0])
			return nil
		},
	}
}

func newPluginsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			if err := mgr.Disable(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Disabled %s\n", args[0])
			return nil
		},
	}
}

func newPluginsUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <package>",
		Short: "Update an installed plugin from a new package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := pluginsManager(cmd)
			if err != nil {
				return err
			}
			defer closeManager(cmd, mgr)

			if err := mgr.Update(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			cmd.Printf("Updated %s\n", args[0])
			return nil
		},
	}
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.json>",
		Short: "Validate a plugin manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // operator-supplied path
			if err != nil {
				return err
			}

			desc, err := plugin.ParseDescriptor(data, "")
			if err != nil {
				return fmt.Errorf("invalid manifest: %s", plugin.FormatSchemaError(err))
			}

			cmd.Printf("Valid manifest: %s %s (%s)\n", desc.Name, desc.Version, desc.Kind)
			if len(desc.Permissions) > 0 {
				perms := make([]string, len(desc.Permissions))
				for i, p := range desc.Permissions {
					perms[i] = string(p)
				}
				sort.Strings(perms)
				cmd.Printf("Permissions: %v\n", perms)
			}
			return nil
		},
	}
}

// closeManager releases the manager at command exit.
func closeManager(cmd *cobra.Command, mgr *plugin.Manager) {
	if err := mgr.Close(cmd.Context()); err != nil {
		cmd.PrintErrf("warning: failed to close plugin manager: %v\n", err)
	}
}
