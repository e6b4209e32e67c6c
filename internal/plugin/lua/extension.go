// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/vybeapp/vybe/internal/plugin"
	"github.com/vybeapp/vybe/internal/plugin/hostfunc"
)

// Compile-time interface check.
var _ plugins.Extension = (*Extension)(nil)

// Extension is a loaded Lua plugin. It owns a persistent Lua state; all
// calls into the state go through mu because LState is not goroutine-safe.
type Extension struct {
	host *Host
	id   string
	reg  *registration

	mu     sync.Mutex
	state  *lua.LState
	closed bool
}

// Activate runs the plugin's on_activate hook. A missing hook is a success;
// a hook returning false or raising is a failure.
func (e *Extension) Activate(ctx context.Context) error {
	return e.callHook(ctx, "on_activate", e.reg.onActivate)
}

// Deactivate runs the plugin's on_deactivate hook.
func (e *Extension) Deactivate(ctx context.Context) error {
	return e.callHook(ctx, "on_deactivate", e.reg.onDeactivate)
}

// Cleanup runs on_cleanup (best effort), closes the Lua state, and removes
// the plugin's permission grants. The extension is unusable afterwards;
// repeated calls are no-ops.
func (e *Extension) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}

	hookErr := e.callHookLocked(ctx, "on_cleanup", e.reg.onCleanup)

	e.state.Close()
	e.closed = true
	e.mu.Unlock()

	e.host.forget(e.id)
	return hookErr
}

// Tools returns the plugin's registered tools keyed by bare name. Invoking
// a tool calls its Lua handler inside the extension's persistent state.
func (e *Extension) Tools() map[string]plugins.Tool {
	out := make(map[string]plugins.Tool, len(e.reg.tools))
	for name, def := range e.reg.tools {
		out[name] = plugins.Tool{
			PluginID:    e.id,
			Name:        name,
			Description: def.description,
			Invoke:      e.invoker(def.fn),
		}
	}
	return out
}

// Components returns the plugin's registered UI fragments. Specs were copied
// out of the Lua state at registration time, so no sandbox call is needed.
func (e *Extension) Components() map[string]plugins.Component {
	out := make(map[string]plugins.Component, len(e.reg.components))
	for name, spec := range e.reg.components {
		out[name] = plugins.Component{
			PluginID: e.id,
			Name:     name,
			Spec:     spec,
		}
	}
	return out
}

// Routes returns the plugin's registered API routes.
func (e *Extension) Routes() []plugins.Route {
	out := make([]plugins.Route, 0, len(e.reg.routes))
	for _, def := range e.reg.routes {
		out = append(out, plugins.Route{
			PluginID: e.id,
			Method:   def.method,
			Path:     def.path,
			Invoke:   e.invoker(def.fn),
		})
	}
	return out
}

// invoker wraps a Lua handler as a Go call taking and returning plain
// values. Handlers follow the (result, err) convention: returning a second
// non-nil value reports failure.
func (e *Extension) invoker(fn *lua.LFunction) func(context.Context, map[string]any) (any, error) {
	return func(ctx context.Context, args map[string]any) (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.closed {
			return nil, oops.In("lua").With("plugin", e.id).New("extension is closed")
		}

		L := e.state
		L.SetContext(ctx)

		argTable := hostfunc.GoValueToLua(L, anyMap(args))
		if err := L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    2,
			Protect: true,
		}, argTable); err != nil {
			return nil, oops.In("lua").With("plugin", e.id).Hint("handler raised").Wrap(err)
		}

		errVal := L.Get(-1)
		result := L.Get(-2)
		L.Pop(2)

		if errVal != lua.LNil {
			return nil, oops.In("lua").With("plugin", e.id).New(errVal.String())
		}
		return hostfunc.LuaValueToGo(result), nil
	}
}

// callHook invokes a lifecycle hook under the state lock.
func (e *Extension) callHook(ctx context.Context, name string, fn *lua.LFunction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callHookLocked(ctx, name, fn)
}

// callHookLocked invokes a lifecycle hook; the caller holds mu. A missing
// hook succeeds. A hook fails by raising or by returning false.
func (e *Extension) callHookLocked(ctx context.Context, name string, fn *lua.LFunction) error {
	if fn == nil {
		return nil
	}
	if e.closed {
		return oops.In("lua").With("plugin", e.id).With("hook", name).New("extension is closed")
	}

	L := e.state
	L.SetContext(ctx)

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}); err != nil {
		return oops.In("lua").With("plugin", e.id).With("hook", name).Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LFalse {
		return oops.In("lua").With("plugin", e.id).With("hook", name).Errorf("%s returned false", name)
	}
	return nil
}

// anyMap widens a string map so GoValueToLua sees the supported type, and
// normalizes nil to an empty table.
func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// String identifies the extension in logs.
func (e *Extension) String() string {
	return fmt.Sprintf("lua extension %s", e.id)
}
