// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package plugin_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vybeapp/vybe/internal/plugin"
)

// writeZip creates a zip archive holding the given files.
func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path) //nolint:gosec // test fixture in temp dir
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// sourceDir creates a plugin package directory outside the plugins root.
func sourceDir(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, plugin.ManifestFilename), []byte(manifest))
	writeFile(t, filepath.Join(dir, "main.lua"), []byte(""))
	return dir
}

func TestManager_Install_FromDirectory(t *testing.T) {
	mgr, pluginsDir := newTestManager(t, newFakeHost(), nil)
	ctx := context.Background()

	src := sourceDir(t, manifestJSON("My Plugin"))

	id, err := mgr.Install(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "my-plugin", id)

	// Installed on disk and discovered.
	assert.FileExists(t, filepath.Join(pluginsDir, "my-plugin", plugin.ManifestFilename))
	info, ok := mgr.Status("my-plugin")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusDiscovered, info.Status)

	// No work directories left behind.
	entries, err := os.ReadDir(pluginsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestManager_Install_FromZip(t *testing.T) {
	mgr, pluginsDir := newTestManager(t, newFakeHost(), nil)
	ctx := context.Background()

	archive := filepath.Join(t.TempDir(), "pkg.zip")
	writeZip(t, archive, map[string]string{
		plugin.ManifestFilename: manifestJSON("Zipped"),
		"main.lua":              "",
		"lib/util.lua":          "",
	})

	id, err := mgr.Install(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, "zipped", id)
	assert.FileExists(t, filepath.Join(pluginsDir, "zipped", "lib", "util.lua"))
}

func TestManager_Install_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("missing source", func(t *testing.T) {
		mgr, _ := newTestManager(t, newFakeHost(), nil)
		_, err := mgr.Install(ctx, filepath.Join(t.TempDir(), "absent.zip"))
		assert.Error(t, err)
	})

	t.Run("unsupported file type", func(t *testing.T) {
		mgr, _ := newTestManager(t, newFakeHost(), nil)
		src := filepath.Join(t.TempDir(), "pkg.tar")
		writeFile(t, src, []byte("not a zip"))
		_, err := mgr.Install(ctx, src)
		assert.ErrorIs(t, err, plugin.ErrInvalidPackage)
	})

	t.Run("package without manifest", func(t *testing.T) {
		mgr, pluginsDir := newTestManager(t, newFakeHost(), nil)
		src := t.TempDir()
		writeFile(t, filepath.Join(src, "main.lua"), []byte(""))

		_, err := mgr.Install(ctx, src)
		assert.ErrorIs(t, err, plugin.ErrInvalidPackage)

		// Nothing installed, nothing staged.
		entries, err := os.ReadDir(pluginsDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("invalid manifest", func(t *testing.T) {
		mgr, _ := newTestManager(t, newFakeHost(), nil)
		src := sourceDir(t, `{"name": "x"}`)
		_, err := mgr.Install(ctx, src)
		assert.ErrorIs(t, err, plugin.ErrInvalidPackage)
	})

	t.Run("zip slip entry", func(t *testing.T) {
		mgr, _ := newTestManager(t, newFakeHost(), nil)
		archive := filepath.Join(t.TempDir(), "evil.zip")
		writeZip(t, archive, map[string]string{
			plugin.ManifestFilename: manifestJSON("Evil"),
			"../outside.lua":        "",
		})
		_, err := mgr.Install(ctx, archive)
		assert.ErrorIs(t, err, plugin.ErrInvalidPackage)
	})
}

func TestManager_Install_ReplacesExisting(t *testing.T) {
	host := newFakeHost()
	mgr, pluginsDir := newTestManager(t, host, nil)
	ctx := context.Background()

	src1 := t.TempDir()
	writeFile(t, filepath.Join(src1, plugin.ManifestFilename), []byte(manifestJSON("Dup")))
	writeFile(t, filepath.Join(src1, "main.lua"), []byte("-- v1"))

	src2 := t.TempDir()
	writeFile(t, filepath.Join(src2, plugin.ManifestFilename), []byte(manifestJSON("Dup")))
	writeFile(t, filepath.Join(src2, "main.lua"), []byte("-- v2"))

	_, err := mgr.Install(ctx, src1)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(ctx, "dup"))

	_, err = mgr.Install(ctx, src2)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(pluginsDir, "dup", "main.lua"))
	require.NoError(t, err)
	assert.Equal(t, "-- v2", string(data))

	// The previous instance was unloaded during the swap.
	info, _ := mgr.Status("dup")
	assert.Equal(t, plugin.StatusDiscovered, info.Status)
}

func TestManager_Uninstall(t *testing.T) {
	host := newFakeHost()
	mgr, pluginsDir := newTestManager(t, host, &memStore{})
	ctx := context.Background()

	src := sourceDir(t, manifestJSON("Victim"))
	id, err := mgr.Install(ctx, src)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(ctx, id))
	require.NoError(t, mgr.Activate(ctx, id))

	require.NoError(t, mgr.Uninstall(ctx, id))

	assert.NoDirExists(t, filepath.Join(pluginsDir, id))
	_, ok := mgr.Status(id)
	assert.False(t, ok)
	assert.Empty(t, mgr.AvailableTools())
	assert.Equal(t, 1, host.exts[id].cleanups)
	assert.True(t, mgr.IsDisabled(id), "uninstall disables before deleting")
}

func TestManager_Uninstall_ReinstallComesBackDisabled(t *testing.T) {
	host := newFakeHost()
	store := &memStore{}
	mgr, _ := newTestManager(t, host, store)
	ctx := context.Background()

	src := sourceDir(t, manifestJSON("Victim"))
	id, err := mgr.Install(ctx, src)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(ctx, id))

	require.NoError(t, mgr.Uninstall(ctx, id))

	// Uninstall is disable-then-delete: the membership survives in the
	// persisted set.
	assert.Contains(t, store.disabled, id)

	id2, err := mgr.Install(ctx, src)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	info, ok := mgr.Status(id)
	require.True(t, ok)
	assert.Equal(t, plugin.StatusDisabled, info.Status)
	assert.ErrorIs(t, mgr.Load(ctx, id), plugin.ErrPluginDisabled)

	// Only an explicit enable brings it back.
	require.NoError(t, mgr.Enable(ctx, id))
	info, _ = mgr.Status(id)
	assert.Equal(t, plugin.StatusActive, info.Status)
	assert.NotContains(t, store.disabled, id)
}

func TestManager_Uninstall_Unknown(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeHost(), nil)
	err := mgr.Uninstall(context.Background(), "ghost")
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)
}

func TestManager_Update(t *testing.T) {
	host := newFakeHost()
	mgr, pluginsDir := newTestManager(t, host, nil)
	ctx := context.Background()

	src1 := t.TempDir()
	writeFile(t, filepath.Join(src1, plugin.ManifestFilename), []byte(manifestJSON("Up")))
	writeFile(t, filepath.Join(src1, "main.lua"), []byte("-- v1"))

	id, err := mgr.Install(ctx, src1)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(ctx, id))
	require.NoError(t, mgr.Activate(ctx, id))

	src2 := t.TempDir()
	writeFile(t, filepath.Join(src2, plugin.ManifestFilename),
		[]byte(`{"name": "Up", "version": "2.0.0", "author": "Tester", "type": "tool"}`))
	writeFile(t, filepath.Join(src2, "main.lua"), []byte("-- v2"))

	require.NoError(t, mgr.Update(ctx, id, src2))

	// New version on disk, old runtime state restored.
	data, err := os.ReadFile(filepath.Join(pluginsDir, id, "main.lua"))
	require.NoError(t, err)
	assert.Equal(t, "-- v2", string(data))

	info, _ := mgr.Status(id)
	assert.Equal(t, plugin.StatusActive, info.Status)
	assert.Equal(t, "2.0.0", info.Descriptor.Version)

	// Backup removed on success.
	entries, err := os.ReadDir(pluginsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestManager_Update_BadPackageLeavesCurrentUntouched(t *testing.T) {
	mgr, pluginsDir := newTestManager(t, newFakeHost(), nil)
	ctx := context.Background()

	src := sourceDir(t, manifestJSON("Stable"))
	id, err := mgr.Install(ctx, src)
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(pluginsDir, id, plugin.ManifestFilename))
	require.NoError(t, err)

	badSrc := t.TempDir()
	writeFile(t, filepath.Join(badSrc, plugin.ManifestFilename), []byte(`{"name": `))

	require.Error(t, mgr.Update(ctx, id, badSrc))

	after, err := os.ReadFile(filepath.Join(pluginsDir, id, plugin.ManifestFilename))
	require.NoError(t, err)
	assert.Equal(t, before, after, "current install must be byte-identical after a failed update")
}

func TestManager_Update_RollbackOnLoadFailure(t *testing.T) {
	host := newFakeHost()
	mgr, pluginsDir := newTestManager(t, host, nil)
	ctx := context.Background()

	src1 := t.TempDir()
	writeFile(t, filepath.Join(src1, plugin.ManifestFilename), []byte(manifestJSON("Frag")))
	writeFile(t, filepath.Join(src1, "main.lua"), []byte("-- v1"))

	id, err := mgr.Install(ctx, src1)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(ctx, id))

	// Every load from here on fails, so the new version can't come up.
	host.loadErr = errors.New("new version broken")

	src2 := t.TempDir()
	writeFile(t, filepath.Join(src2, plugin.ManifestFilename),
		[]byte(`{"name": "Frag", "version": "2.0.0", "author": "Tester"}`))
	writeFile(t, filepath.Join(src2, "main.lua"), []byte("-- v2"))

	require.Error(t, mgr.Update(ctx, id, src2))

	// Previous version restored on disk.
	data, err := os.ReadFile(filepath.Join(pluginsDir, id, "main.lua"))
	require.NoError(t, err)
	assert.Equal(t, "-- v1", string(data))

	// Old version loads again once the host recovers.
	host.loadErr = nil
	require.NoError(t, mgr.Load(ctx, id))
	info, _ := mgr.Status(id)
	assert.Equal(t, plugin.StatusLoaded, info.Status)
	assert.Equal(t, "1.0.0", info.Descriptor.Version)
}

func TestManager_Update_Unknown(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeHost(), nil)
	err := mgr.Update(context.Background(), "ghost", t.TempDir())
	assert.ErrorIs(t, err, plugin.ErrUnknownPlugin)
}
