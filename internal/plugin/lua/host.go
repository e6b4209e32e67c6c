// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/vybeapp/vybe/internal/plugin"
	"github.com/vybeapp/vybe/internal/plugin/capability"
	"github.com/vybeapp/vybe/internal/plugin/hostfunc"
)

// Compile-time interface check.
var _ plugins.Host = (*Host)(nil)

// Host loads Lua plugin extensions. Each extension keeps its own persistent
// Lua state for its whole lifetime, so globals set by the entry point remain
// visible to later hook and tool calls.
type Host struct {
	factory   *StateFactory
	enforcer  *capability.Enforcer
	hostFuncs *hostfunc.Functions

	mu     sync.Mutex
	exts   map[string]*Extension
	closed bool
}

// NewHost creates a Lua plugin host. workspaceDir bounds plugin file access
// through the vybe.read_file and vybe.write_file host functions.
func NewHost(enforcer *capability.Enforcer, workspaceDir string) *Host {
	if enforcer == nil {
		enforcer = capability.NewEnforcer()
	}
	return &Host{
		factory:   NewStateFactory(),
		enforcer:  enforcer,
		hostFuncs: hostfunc.New(enforcer, workspaceDir),
		exts:      make(map[string]*Extension),
	}
}

// Enforcer returns the permission enforcer backing this host.
func (h *Host) Enforcer() *capability.Enforcer {
	return h.enforcer
}

// Load executes a plugin's entry point inside a fresh sandboxed state and
// returns the extension it registered, already initialized. On any failure
// the state is closed and the plugin's grants removed, so a failed load
// retains nothing.
func (h *Host) Load(ctx context.Context, desc *plugins.Descriptor, dir string) (plugins.Extension, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	errCtx := oops.In("lua").With("plugin", desc.ID).With("operation", "load")

	if h.closed {
		return nil, errCtx.New("host is closed")
	}

	// Re-read the on-disk manifest: the descriptor was validated at
	// discovery, but the directory may have changed since.
	onDisk, err := h.readManifest(desc, dir)
	if err != nil {
		return nil, errCtx.Wrap(err)
	}

	entryPath := onDisk.EntryPath(dir)
	code, err := os.ReadFile(entryPath) //nolint:gosec // path comes from a validated manifest inside the plugin dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errCtx.With("path", entryPath).Wrap(plugins.ErrEntryPointNotFound)
		}
		return nil, errCtx.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return nil, errCtx.Hint("failed to create sandbox state").Wrap(err)
	}
	L.SetContext(ctx)

	perms := make([]string, len(onDisk.Permissions))
	for i, p := range onDisk.Permissions {
		perms[i] = string(p)
	}
	if err := h.enforcer.SetGrants(desc.ID, perms); err != nil {
		L.Close()
		return nil, errCtx.Hint("failed to set permission grants").Wrap(err)
	}

	fail := func(err error) (plugins.Extension, error) {
		L.Close()
		h.enforcer.RemoveGrants(desc.ID)
		return nil, err
	}

	h.hostFuncs.Register(L, desc.ID)

	var reg *registration
	installRegisterFn(L, &reg)

	if err := L.DoString(string(code)); err != nil {
		return fail(errCtx.With("entry", onDisk.EntryPoint).With("cause", err.Error()).Wrap(plugins.ErrSandboxExecution))
	}

	if reg == nil {
		return fail(errCtx.Wrap(plugins.ErrNoExtensionRegistered))
	}

	ext := &Extension{
		host:  h,
		id:    desc.ID,
		state: L,
		reg:   reg,
	}

	if err := ext.callHook(ctx, "on_init", reg.onInit); err != nil {
		return fail(errCtx.With("cause", err.Error()).Wrap(plugins.ErrInitializationFailed))
	}

	h.exts[desc.ID] = ext
	return ext, nil
}

// readManifest parses and validates the manifest currently on disk.
func (h *Host) readManifest(desc *plugins.Descriptor, dir string) (*plugins.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, plugins.ManifestFilename)) //nolint:gosec // manager-owned plugin dir
	if err != nil {
		return nil, oops.Hint("failed to read manifest").Wrap(err)
	}
	return plugins.ParseDescriptor(data, desc.ID)
}

// forget drops host bookkeeping for an extension after its cleanup.
func (h *Host) forget(id string) {
	h.mu.Lock()
	delete(h.exts, id)
	h.mu.Unlock()
	h.enforcer.RemoveGrants(id)
}

// Close shuts down the host. Extensions still tracked are force-closed;
// their owner should have cleaned them up first.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	exts := make([]*Extension, 0, len(h.exts))
	for _, ext := range h.exts {
		exts = append(exts, ext)
	}
	h.exts = make(map[string]*Extension)
	h.closed = true
	h.mu.Unlock()

	for _, ext := range exts {
		if err := ext.Cleanup(ctx); err != nil {
			return oops.In("lua").With("plugin", ext.id).Hint("cleanup during host close failed").Wrap(err)
		}
	}
	return nil
}

// registration captures the table a plugin passes to vybe.register.
type registration struct {
	name         string
	onInit       *lua.LFunction
	onActivate   *lua.LFunction
	onDeactivate *lua.LFunction
	onCleanup    *lua.LFunction
	tools        map[string]toolDef
	components   map[string]map[string]any
	routes       []routeDef
}

type toolDef struct {
	description string
	fn          *lua.LFunction
}

type routeDef struct {
	method string
	path   string
	fn     *lua.LFunction
}

// installRegisterFn adds vybe.register to the state's vybe table. The entry
// point must call it exactly once; a second call is a Lua error.
func installRegisterFn(L *lua.LState, out **registration) {
	mod := L.GetGlobal("vybe")
	tbl, ok := mod.(*lua.LTable)
	if !ok {
		tbl = L.NewTable()
		L.SetGlobal("vybe", tbl)
	}

	L.SetField(tbl, "register", L.NewFunction(func(L *lua.LState) int {
		spec := L.CheckTable(1)
		if *out != nil {
			L.RaiseError("vybe.register called twice")
			return 0
		}
		reg, err := parseRegistration(spec)
		if err != "" {
			L.RaiseError("vybe.register: %s", err)
			return 0
		}
		*out = reg
		return 0
	}))
}

// rawString reads a string field from a Lua table, empty when absent.
func rawString(tbl *lua.LTable, field string) string {
	if v := tbl.RawGetString(field); v != lua.LNil {
		return v.String()
	}
	return ""
}

// parseRegistration converts the Lua registration table into Go structures,
// copying declarative data eagerly so only hook and tool functions need the
// live state afterwards.
func parseRegistration(spec *lua.LTable) (*registration, string) {
	reg := &registration{
		name:       rawString(spec, "name"),
		tools:      make(map[string]toolDef),
		components: make(map[string]map[string]any),
	}

	hooks := []struct {
		field string
		dst   **lua.LFunction
	}{
		{"on_init", &reg.onInit},
		{"on_activate", &reg.onActivate},
		{"on_deactivate", &reg.onDeactivate},
		{"on_cleanup", &reg.onCleanup},
	}
	for _, hk := range hooks {
		v := spec.RawGetString(hk.field)
		if v == lua.LNil {
			continue
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return nil, hk.field + " must be a function"
		}
		*hk.dst = fn
	}

	var parseErr string

	if v := spec.RawGetString("tools"); v != lua.LNil {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return nil, "tools must be a table"
		}
		tbl.ForEach(func(k, tv lua.LValue) {
			def, ok := tv.(*lua.LTable)
			if !ok {
				parseErr = "tool " + k.String() + " must be a table"
				return
			}
			fn, ok := def.RawGetString("handler").(*lua.LFunction)
			if !ok {
				parseErr = "tool " + k.String() + " is missing a handler function"
				return
			}
			reg.tools[k.String()] = toolDef{
				description: rawString(def, "description"),
				fn:          fn,
			}
		})
	}

	if v := spec.RawGetString("components"); v != lua.LNil {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return nil, "components must be a table"
		}
		tbl.ForEach(func(k, cv lua.LValue) {
			def, ok := cv.(*lua.LTable)
			if !ok {
				parseErr = "component " + k.String() + " must be a table"
				return
			}
			reg.components[k.String()] = hostfunc.LuaTableToMap(def)
		})
	}

	if v := spec.RawGetString("routes"); v != lua.LNil {
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return nil, "routes must be a table"
		}
		tbl.ForEach(func(_, rv lua.LValue) {
			def, ok := rv.(*lua.LTable)
			if !ok {
				parseErr = "each route must be a table"
				return
			}
			fn, ok := def.RawGetString("handler").(*lua.LFunction)
			if !ok {
				parseErr = "route is missing a handler function"
				return
			}
			reg.routes = append(reg.routes, routeDef{
				method: rawString(def, "method"),
				path:   rawString(def, "path"),
				fn:     fn,
			})
		})
	}

	if parseErr != "" {
		return nil, parseErr
	}
	return reg, ""
}
