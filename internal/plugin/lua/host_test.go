// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package lua_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugins "github.com/vybeapp/vybe/internal/plugin"
	pluginlua "github.com/vybeapp/vybe/internal/plugin/lua"
)

const testManifest = `{
	"name": "Test Plugin",
	"version": "1.0.0",
	"author": "Tester",
	"type": "tool",
	"permissions": ["file-read"]
}`

// writeTestPlugin creates a plugin dir with a manifest and entry point and
// returns its descriptor.
func writeTestPlugin(t *testing.T, manifest, code string) (*plugins.Descriptor, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugins.ManifestFilename), []byte(manifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o600))

	desc, err := plugins.ParseDescriptor([]byte(manifest), "test-plugin")
	require.NoError(t, err)
	return desc, dir
}

func newTestHost(t *testing.T) *pluginlua.Host {
	t.Helper()
	host := pluginlua.NewHost(nil, t.TempDir())
	t.Cleanup(func() {
		require.NoError(t, host.Close(context.Background()))
	})
	return host
}

func TestHost_Load(t *testing.T) {
	code := `
		local greeting = "hello"

		vybe.register{
			name = "test-plugin",
			on_init = function() return true end,
			on_activate = function() return true end,
			tools = {
				greet = {
					description = "Greet someone",
					handler = function(args)
						return greeting .. ", " .. args.who
					end,
				},
			},
			components = {
				panel = { kind = "panel", title = "Test" },
			},
			routes = {
				{ method = "GET", path = "/greet", handler = function(args) return "ok" end },
			},
		}
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)
	ctx := context.Background()

	ext, err := host.Load(ctx, desc, dir)
	require.NoError(t, err)

	// Grants registered from the manifest.
	assert.True(t, host.Enforcer().Check("test-plugin", "file-read"))
	assert.False(t, host.Enforcer().Check("test-plugin", "file-write"))

	tools := ext.Tools()
	require.Contains(t, tools, "greet")
	assert.Equal(t, "Greet someone", tools["greet"].Description)

	// Tool handlers see state captured at load time (persistent scope).
	result, err := tools["greet"].Invoke(ctx, map[string]any{"who": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", result)

	components := ext.Components()
	require.Contains(t, components, "panel")
	assert.Equal(t, "panel", components["panel"].Spec["kind"])

	routes := ext.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "GET", routes[0].Method)
	assert.Equal(t, "/greet", routes[0].Path)

	require.NoError(t, ext.Activate(ctx))
	require.NoError(t, ext.Deactivate(ctx))
	require.NoError(t, ext.Cleanup(ctx))

	// Cleanup removed the grants.
	assert.False(t, host.Enforcer().IsRegistered("test-plugin"))
}

func TestHost_Load_PersistentState(t *testing.T) {
	code := `
		local counter = 0

		vybe.register{
			name = "counter",
			tools = {
				bump = {
					handler = function(args)
						counter = counter + 1
						return counter
					end,
				},
			},
		}
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)
	ctx := context.Background()

	ext, err := host.Load(ctx, desc, dir)
	require.NoError(t, err)

	bump := ext.Tools()["bump"]
	for want := 1; want <= 3; want++ {
		got, err := bump.Invoke(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, float64(want), got)
	}
}

func TestHost_Load_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing entry point", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, plugins.ManifestFilename), []byte(testManifest), 0o600))
		desc, err := plugins.ParseDescriptor([]byte(testManifest), "test-plugin")
		require.NoError(t, err)

		host := newTestHost(t)
		_, err = host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrEntryPointNotFound)
	})

	t.Run("syntax error", func(t *testing.T) {
		desc, dir := writeTestPlugin(t, testManifest, `this is not lua`)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrSandboxExecution)
		assert.False(t, host.Enforcer().IsRegistered("test-plugin"), "failed load retains no grants")
	})

	t.Run("runtime error in entry point", func(t *testing.T) {
		desc, dir := writeTestPlugin(t, testManifest, `error("boom")`)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrSandboxExecution)
	})

	t.Run("no registration", func(t *testing.T) {
		desc, dir := writeTestPlugin(t, testManifest, `local x = 1`)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrNoExtensionRegistered)
	})

	t.Run("double registration", func(t *testing.T) {
		code := `
			vybe.register{ name = "a" }
			vybe.register{ name = "b" }
		`
		desc, dir := writeTestPlugin(t, testManifest, code)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrSandboxExecution)
	})

	t.Run("on_init returns false", func(t *testing.T) {
		code := `
			vybe.register{
				name = "broken",
				on_init = function() return false end,
			}
		`
		desc, dir := writeTestPlugin(t, testManifest, code)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrInitializationFailed)
		assert.False(t, host.Enforcer().IsRegistered("test-plugin"))
	})

	t.Run("on_init raises", func(t *testing.T) {
		code := `
			vybe.register{
				name = "broken",
				on_init = function() error("init exploded") end,
			}
		`
		desc, dir := writeTestPlugin(t, testManifest, code)
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.ErrorIs(t, err, plugins.ErrInitializationFailed)
	})

	t.Run("manifest drift since discovery", func(t *testing.T) {
		desc, dir := writeTestPlugin(t, testManifest, `vybe.register{ name = "x" }`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, plugins.ManifestFilename), []byte(`{"name": `), 0o600))
		host := newTestHost(t)

		_, err := host.Load(ctx, desc, dir)
		assert.Error(t, err)
	})
}

func TestHost_SandboxBlocksDangerousGlobals(t *testing.T) {
	code := `
		assert(os == nil, "os must be blocked")
		assert(io == nil, "io must be blocked")
		assert(debug == nil, "debug must be blocked")
		assert(dofile == nil, "dofile must be blocked")
		assert(loadfile == nil, "loadfile must be blocked")
		assert(load == nil, "load must be blocked")
		assert(loadstring == nil, "loadstring must be blocked")
		assert(string ~= nil and math ~= nil and table ~= nil, "safe libs present")

		vybe.register{ name = "sandboxed" }
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)

	_, err := host.Load(context.Background(), desc, dir)
	require.NoError(t, err)
}

func TestHost_PermissionGateInsideTool(t *testing.T) {
	// Manifest grants file-read only; writing must be denied at call time.
	code := `
		vybe.register{
			name = "gated",
			tools = {
				try_write = {
					handler = function(args)
						return vybe.write_file("x.txt", "data")
					end,
				},
			},
		}
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)
	ctx := context.Background()

	ext, err := host.Load(ctx, desc, dir)
	require.NoError(t, err)

	_, err = ext.Tools()["try_write"].Invoke(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestExtension_HookFailures(t *testing.T) {
	code := `
		vybe.register{
			name = "moody",
			on_activate = function() return false end,
			on_deactivate = function() error("wedged") end,
		}
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)
	ctx := context.Background()

	ext, err := host.Load(ctx, desc, dir)
	require.NoError(t, err)

	assert.Error(t, ext.Activate(ctx))
	assert.Error(t, ext.Deactivate(ctx))

	// Cleanup still succeeds and is idempotent.
	require.NoError(t, ext.Cleanup(ctx))
	require.NoError(t, ext.Cleanup(ctx))
}

func TestExtension_ToolErrorConvention(t *testing.T) {
	code := `
		vybe.register{
			name = "errs",
			tools = {
				fail = {
					handler = function(args)
						return nil, "deliberate failure"
					end,
				},
				raisefn = {
					handler = function(args)
						error("handler exploded")
					end,
				},
			},
		}
	`
	desc, dir := writeTestPlugin(t, testManifest, code)
	host := newTestHost(t)
	ctx := context.Background()

	ext, err := host.Load(ctx, desc, dir)
	require.NoError(t, err)

	_, err = ext.Tools()["fail"].Invoke(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliberate failure")

	_, err = ext.Tools()["raisefn"].Invoke(ctx, nil)
	require.Error(t, err)
}
