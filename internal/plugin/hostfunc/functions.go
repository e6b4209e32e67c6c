// Package hostfunc provides host functions to Lua plugins.
//
// Host functions expose runtime capabilities to plugins in a controlled way.
// Functions touching sensitive resources require a permission check against
// the plugin's manifest grants; denial raises a Lua error inside the sandbox.
package hostfunc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/vybeapp/vybe/internal/plugin/capability"
)

// Functions provides host functions to Lua plugins.
type Functions struct {
	enforcer     *capability.Enforcer
	workspaceDir string
}

// New creates host functions. workspaceDir bounds plugin file access; empty
// means file functions report an unavailable workspace.
func New(enforcer *capability.Enforcer, workspaceDir string) *Functions {
	return &Functions{
		enforcer:     enforcer,
		workspaceDir: workspaceDir,
	}
}

// Register adds the vybe.* host functions to a Lua state. The registration
// function itself (vybe.register) is installed separately by the loader.
func (f *Functions) Register(ls *lua.LState, pluginID string) {
	mod := ls.NewTable()

	// No permission required
	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginID)))
	ls.SetField(mod, "new_id", ls.NewFunction(newIDFn))
	ls.SetField(mod, "now_unix", ls.NewFunction(nowUnixFn))
	ls.SetField(mod, "json_encode", ls.NewFunction(jsonEncodeFn))
	ls.SetField(mod, "json_decode", ls.NewFunction(jsonDecodeFn))
	ls.SetField(mod, "base64_encode", ls.NewFunction(base64EncodeFn))
	ls.SetField(mod, "base64_decode", ls.NewFunction(base64DecodeFn))
	ls.SetField(mod, "sha256", ls.NewFunction(sha256Fn))

	// Permission required
	ls.SetField(mod, "env", ls.NewFunction(f.wrap(pluginID, "system-settings", envFn)))
	ls.SetField(mod, "read_file", ls.NewFunction(f.wrap(pluginID, "file-read", f.readFileFn)))
	ls.SetField(mod, "write_file", ls.NewFunction(f.wrap(pluginID, "file-write", f.writeFileFn)))
	ls.SetField(mod, "http_fetch", ls.NewFunction(f.wrap(pluginID, "network-access", httpFetchFn)))

	ls.SetGlobal("vybe", mod)
}

func (f *Functions) wrap(pluginID, permission string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !f.enforcer.Check(pluginID, permission) {
			L.RaiseError("permission denied: %s requires %s", pluginID, permission)
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pluginID string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := slog.Default().With("plugin", pluginID)
		switch level {
		case "debug":
			logger.Debug(message)
		case "info":
			logger.Info(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func nowUnixFn(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// jsonEncodeFn converts a Lua value to its JSON text.
// Lua signature: text, err = vybe.json_encode(value)
func jsonEncodeFn(L *lua.LState) int {
	value := LuaValueToGo(L.CheckAny(1))

	data, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	L.Push(lua.LNil)
	return 2
}

// jsonDecodeFn parses JSON text into a Lua value.
// Lua signature: value, err = vybe.json_decode(text)
func jsonDecodeFn(L *lua.LState) int {
	text := L.CheckString(1)

	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(GoValueToLua(L, value))
	L.Push(lua.LNil)
	return 2
}

func base64EncodeFn(L *lua.LState) int {
	L.Push(lua.LString(base64.StdEncoding.EncodeToString([]byte(L.CheckString(1)))))
	return 1
}

func base64DecodeFn(L *lua.LState) int {
	decoded, err := base64.StdEncoding.DecodeString(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(decoded))
	L.Push(lua.LNil)
	return 2
}

func sha256Fn(L *lua.LState) int {
	sum := sha256.Sum256([]byte(L.CheckString(1)))
	L.Push(lua.LString(hex.EncodeToString(sum[:])))
	return 1
}

// httpFetchFn is the network capability gate. Outbound HTTP is not wired up
// in this host yet; the permission check still runs so denial surfaces the
// same way it will once the transport lands.
// Lua signature: resp, err = vybe.http_fetch(url)
func httpFetchFn(L *lua.LState) int {
	L.CheckString(1)
	L.Push(lua.LNil)
	L.Push(lua.LString("http_fetch is not supported by this host"))
	return 2
}

// envFn reads a host environment variable.
// Lua signature: value = vybe.env(name) -- nil when unset
func envFn(L *lua.LState) int {
	value, ok := os.LookupEnv(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

// resolveWorkspacePath confines a plugin-supplied relative path to the
// workspace directory. Absolute paths and traversal outside the workspace
// are rejected.
func (f *Functions) resolveWorkspacePath(rel string) (string, bool) {
	if f.workspaceDir == "" || rel == "" || filepath.IsAbs(rel) {
		return "", false
	}
	path := filepath.Join(f.workspaceDir, filepath.Clean(rel))
	if !strings.HasPrefix(path, f.workspaceDir+string(os.PathSeparator)) {
		return "", false
	}
	return path, true
}

// readFileFn reads a workspace file.
// Lua signature: content, err = vybe.read_file(path)
func (f *Functions) readFileFn(L *lua.LState) int {
	path, ok := f.resolveWorkspacePath(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		L.Push(lua.LString("path outside workspace"))
		return 2
	}

	data, err := os.ReadFile(path) //nolint:gosec // confined to the workspace directory
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	L.Push(lua.LNil)
	return 2
}

// writeFileFn writes a workspace file, creating parent directories.
// Lua signature: err = vybe.write_file(path, content)
func (f *Functions) writeFileFn(L *lua.LState) int {
	path, ok := f.resolveWorkspacePath(L.CheckString(1))
	if !ok {
		L.Push(lua.LString("path outside workspace"))
		return 1
	}
	content := L.CheckString(2)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { //nolint:gosec // plugin workspace file
		L.Push(lua.LString(err.Error()))
		return 1
	}
	return 0
}
