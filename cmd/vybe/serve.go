// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/vybeapp/vybe/internal/config"
	"github.com/vybeapp/vybe/internal/logging"
	"github.com/vybeapp/vybe/internal/observability"
	"github.com/vybeapp/vybe/internal/plugin"
	luahost "github.com/vybeapp/vybe/internal/plugin/lua"
	"github.com/vybeapp/vybe/internal/settings"
	"github.com/vybeapp/vybe/internal/xdg"
	"github.com/vybeapp/vybe/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin runtime",
		Long: `Start the plugin runtime: discover and load installed plugins,
activate them, and serve metrics and health endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().String("plugins-dir", defaults.PluginsDir, "plugins root directory")
	cmd.Flags().String("settings-path", defaults.SettingsPath, "settings file path")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("vybe", version, cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting plugin runtime",
		"plugins_dir", cfg.PluginsDir,
		"log_format", cfg.LogFormat,
	)

	mgr, err := buildManager(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start plugin manager: %w", err)
	}
	if err := mgr.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	// Activate everything that loaded; a single plugin's failure is logged
	// and does not block startup.
	for _, info := range mgr.AllStatuses() {
		if info.Status != plugin.StatusLoaded {
			continue
		}
		if err := mgr.Activate(ctx, info.ID); err != nil {
			errutil.LogError(slog.Default(), "failed to activate plugin", err)
		}
	}

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownManager(mgr)
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Plugin runtime started")
	slog.Info("plugin runtime ready",
		"plugins", len(mgr.AllStatuses()),
		"tools", len(mgr.AvailableTools()),
	)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		slog.Warn("error closing plugin manager", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// buildManager wires the settings store, sandbox host, and manager.
func buildManager(cfg config.Config) (*plugin.Manager, error) {
	store, err := settings.NewFileStore(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	workspaceDir := filepath.Join(xdg.DataDir(), "workspace")
	if err := xdg.EnsureDir(workspaceDir); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	host := luahost.NewHost(nil, workspaceDir)

	mgr := plugin.NewManager(cfg.PluginsDir,
		plugin.WithHost(host),
		plugin.WithSettingsStore(store),
		plugin.WithHostVersion(hostVersion()),
	)
	return mgr, nil
}

// hostVersion returns the build version if it is semantic, otherwise empty
// so dev builds skip manifest compatibility ranges.
func hostVersion() string {
	if _, err := semver.NewVersion(version); err != nil {
		return ""
	}
	return version
}

// shutdownManager closes the manager with a bounded timeout during cleanup.
func shutdownManager(mgr *plugin.Manager) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		slog.Warn("error closing plugin manager", "error", err)
	}
}

// monitorServerErrors cancels the context when a server reports an error so
// the whole process shuts down gracefully.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
