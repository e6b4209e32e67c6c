package plugin

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Work directories created under the plugins root during install and update.
// Discovery skips them; a crashed install leaves at worst an orphaned work
// directory, never a half-written plugin directory.
const (
	stagingPrefix = ".staging-"
	backupPrefix  = ".backup-"
	trashPrefix   = ".trash-"
)

func isWorkDir(name string) bool {
	return strings.HasPrefix(name, stagingPrefix) ||
		strings.HasPrefix(name, backupPrefix) ||
		strings.HasPrefix(name, trashPrefix)
}

// Install stages a plugin package (a zip archive or a directory) under the
// plugins root, validates its manifest, and atomically swaps it into place.
// A package failing validation is discarded without touching the plugins
// root. Returns the installed plugin id.
func (m *Manager) Install(ctx context.Context, source string) (id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { recordResult(installsTotal, err) }()

	errCtx := oops.In("plugin").Code(CodeInstallFailed).With("source", source).With("operation", "install")

	if err := os.MkdirAll(m.pluginsDir, 0o755); err != nil {
		return "", errCtx.Hint("failed to create plugins directory").Wrap(err)
	}

	stageDir := filepath.Join(m.pluginsDir, stagingPrefix+ulid.Make().String())
	defer os.RemoveAll(stageDir)

	if err := stagePackage(source, stageDir); err != nil {
		return "", errCtx.Wrap(err)
	}

	desc, err := readStagedManifest(stageDir)
	if err != nil {
		return "", errCtx.Wrap(err)
	}

	id, err = packageID(desc)
	if err != nil {
		return "", errCtx.Wrap(err)
	}

	target := filepath.Join(m.pluginsDir, id)
	if err := m.swapIn(ctx, stageDir, target, id); err != nil {
		return "", errCtx.With("plugin", id).Wrap(err)
	}

	if _, err := m.Discover(ctx); err != nil {
		return "", errCtx.With("plugin", id).Wrap(err)
	}

	slog.Info("installed plugin", "plugin", id, "version", desc.Version, "source", source)
	return id, nil
}

// swapIn replaces target with stageDir. An existing target (reinstall) is
// unloaded and moved aside before the rename so readers never see a
// half-written directory.
func (m *Manager) swapIn(ctx context.Context, stageDir, target, id string) error {
	if _, err := os.Stat(target); err == nil {
		if err := m.unloadLocked(ctx, id); err != nil {
			return err
		}
		trash := filepath.Join(m.pluginsDir, trashPrefix+ulid.Make().String())
		if err := os.Rename(target, trash); err != nil {
			return oops.Hint("failed to move previous install aside").Wrap(err)
		}
		defer os.RemoveAll(trash)
	}

	if err := os.Rename(stageDir, target); err != nil {
		return oops.Hint("failed to move staged plugin into place").Wrap(err)
	}
	return nil
}

// Uninstall disables the plugin, then removes its directory and descriptor.
// The id stays in the persisted disabled set, so a later reinstall of the
// same plugin comes back disabled until an operator enables it again.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	errCtx := oops.In("plugin").With("plugin", id).With("operation", "uninstall")

	m.tableMu.RLock()
	_, known := m.descriptors[id]
	m.tableMu.RUnlock()
	if !known {
		return errCtx.Wrap(ErrUnknownPlugin)
	}

	m.disableLocked(ctx, id)

	if err := os.RemoveAll(filepath.Join(m.pluginsDir, id)); err != nil {
		return errCtx.Hint("failed to remove plugin directory").Wrap(err)
	}

	m.tableMu.Lock()
	delete(m.descriptors, id)
	m.tableMu.Unlock()

	slog.Info("uninstalled plugin", "plugin", id)
	return nil
}

// Update replaces an installed plugin with a new package version. The new
// version is staged and validated before the current install is touched, so
// a bad package leaves the current version byte-identical. After the swap
// the previous version is kept as a backup; if reloading the new version
// fails, the backup is restored and the update reported as failed.
func (m *Manager) Update(ctx context.Context, id, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	errCtx := oops.In("plugin").With("plugin", id).With("source", source).With("operation", "update")

	m.tableMu.RLock()
	_, known := m.descriptors[id]
	rec, loaded := m.records[id]
	m.tableMu.RUnlock()
	if !known {
		return errCtx.Wrap(ErrUnknownPlugin)
	}

	wasActive := loaded && rec.Status == StatusActive

	// Stage first: any failure here leaves the current install untouched.
	stageDir := filepath.Join(m.pluginsDir, stagingPrefix+ulid.Make().String())
	defer os.RemoveAll(stageDir)

	if err := stagePackage(source, stageDir); err != nil {
		return errCtx.Wrap(err)
	}
	newDesc, err := readStagedManifest(stageDir)
	if err != nil {
		return errCtx.Wrap(err)
	}
	if err := newDesc.CheckHostCompat(m.hostVersion); err != nil {
		return errCtx.Wrap(err)
	}

	if loaded {
		if err := m.unloadLocked(ctx, id); err != nil {
			return errCtx.Wrap(err)
		}
	}

	current := filepath.Join(m.pluginsDir, id)
	backup := filepath.Join(m.pluginsDir, backupPrefix+ulid.Make().String())

	if err := os.Rename(current, backup); err != nil {
		return errCtx.Hint("failed to move current version aside").Wrap(err)
	}
	if err := os.Rename(stageDir, current); err != nil {
		// Current version moved aside but new one didn't land; put it back.
		if restoreErr := os.Rename(backup, current); restoreErr != nil {
			slog.Error("failed to restore plugin after update failure",
				"plugin", id, "backup", backup, "error", restoreErr)
		}
		updateRollbacksTotal.Inc()
		return errCtx.Hint("failed to move staged plugin into place").Wrap(err)
	}

	if err := m.reloadUpdated(ctx, id, loaded, wasActive); err != nil {
		m.rollbackUpdate(ctx, id, current, backup, loaded, wasActive)
		return errCtx.Hint("new version failed to load").Wrap(err)
	}

	if err := os.RemoveAll(backup); err != nil {
		slog.Warn("failed to remove update backup", "plugin", id, "backup", backup, "error", err)
	}

	slog.Info("updated plugin", "plugin", id, "version", newDesc.Version)
	return nil
}

// reloadUpdated re-discovers the swapped-in version and restores the
// plugin's pre-update runtime state.
func (m *Manager) reloadUpdated(ctx context.Context, id string, wasLoaded, wasActive bool) error {
	if _, err := m.Discover(ctx); err != nil {
		return err
	}

	m.tableMu.RLock()
	_, known := m.descriptors[id]
	m.tableMu.RUnlock()
	if !known {
		return oops.Wrap(ErrInvalidPackage)
	}

	if !wasLoaded {
		return nil
	}
	if err := m.loadLocked(ctx, id); err != nil {
		return err
	}
	if wasActive {
		return m.activateLocked(ctx, id)
	}
	return nil
}

// rollbackUpdate restores the backed-up previous version after a failed
// update and tries to return it to its pre-update runtime state.
func (m *Manager) rollbackUpdate(ctx context.Context, id, current, backup string, wasLoaded, wasActive bool) {
	updateRollbacksTotal.Inc()
	slog.Warn("rolling back plugin update", "plugin", id)

	if err := m.unloadLocked(ctx, id); err != nil {
		slog.Warn("unload during rollback failed", "plugin", id, "error", err)
	}
	if err := os.RemoveAll(current); err != nil {
		slog.Error("failed to remove broken version during rollback", "plugin", id, "error", err)
		return
	}
	if err := os.Rename(backup, current); err != nil {
		slog.Error("failed to restore previous version during rollback", "plugin", id, "error", err)
		return
	}

	if _, err := m.Discover(ctx); err != nil {
		slog.Warn("re-discovery after rollback failed", "plugin", id, "error", err)
	}
	if wasLoaded {
		if err := m.loadLocked(ctx, id); err != nil {
			slog.Warn("failed to reload previous version after rollback", "plugin", id, "error", err)
			return
		}
	}
	if wasActive {
		if err := m.activateLocked(ctx, id); err != nil {
			slog.Warn("failed to reactivate previous version after rollback", "plugin", id, "error", err)
		}
	}
}

// stagePackage materializes a plugin package into stageDir. Zip archives are
// extracted; directories are copied. Anything else is an invalid package.
func stagePackage(source, stageDir string) error {
	info, err := os.Stat(source)
	if err != nil {
		return oops.Hint("package not found").Wrap(err)
	}

	switch {
	case info.IsDir():
		return copyDir(source, stageDir)
	case strings.EqualFold(filepath.Ext(source), ".zip"):
		return extractZip(source, stageDir)
	default:
		return oops.With("source", source).Wrap(ErrInvalidPackage)
	}
}

// readStagedManifest parses and validates the manifest inside a staged
// package. Failures are classified as ErrInvalidPackage.
func readStagedManifest(stageDir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(stageDir, ManifestFilename)) //nolint:gosec // staging dir is manager-owned
	if err != nil {
		return nil, oops.Hint("package has no manifest").Wrap(ErrInvalidPackage)
	}
	desc, err := ParseDescriptor(data, "")
	if err != nil {
		return nil, oops.With("cause", err.Error()).Hint("package manifest failed validation").Wrap(ErrInvalidPackage)
	}
	return desc, nil
}

// packageID derives the install directory name from the manifest name:
// lowercased, spaces collapsed to hyphens, and required to be a plain path
// component.
func packageID(desc *Descriptor) (string, error) {
	id := strings.ToLower(strings.TrimSpace(desc.Name))
	id = strings.Join(strings.Fields(id), "-")

	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return "", oops.With("name", desc.Name).Hint("manifest name is not a usable plugin id").Wrap(ErrInvalidPackage)
	}
	return id, nil
}

// extractZip extracts a plugin archive into destDir, rejecting entries that
// would escape it.
func extractZip(archive, destDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return oops.Hint("failed to open archive").Wrap(ErrInvalidPackage)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return oops.Wrap(err)
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.Clean(f.Name)) //nolint:gosec // escape checked below
		if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
			return oops.With("entry", f.Name).Hint("archive entry escapes package directory").Wrap(ErrInvalidPackage)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return oops.Wrap(err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return oops.Wrap(err)
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return oops.With("entry", f.Name).Wrap(err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()) //nolint:gosec // target validated against destDir
	if err != nil {
		return oops.With("entry", f.Name).Wrap(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil { //nolint:gosec // local archive extraction
		return oops.With("entry", f.Name).Wrap(err)
	}
	return dst.Close()
}

// copyDir copies a plugin directory tree into destDir.
func copyDir(srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return oops.Wrap(err)
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return oops.Wrap(err)
		}
		target := filepath.Join(destDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := os.ReadFile(path) //nolint:gosec // path comes from WalkDir over the source package
		if err != nil {
			return oops.Wrap(err)
		}
		info, err := d.Info()
		if err != nil {
			return oops.Wrap(err)
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
