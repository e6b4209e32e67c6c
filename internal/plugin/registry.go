package plugin

import (
	"sort"
	"sync"
)

// Registry collects the capabilities contributed by loaded plugins: tools,
// UI components, and API routes. Entries appear only after a fully
// successful load and vanish on unload, so readers never observe a
// partially-written contribution. Reads are guarded by their own lock and
// never block on lifecycle operations (eventual consistency).
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]map[string]Tool
	components map[string]map[string]Component
	routes     map[string][]Route
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]map[string]Tool),
		components: make(map[string]map[string]Component),
		routes:     make(map[string][]Route),
	}
}

// Register records every capability the extension declares under pluginID.
// Any previous entries for the id are replaced.
func (r *Registry) Register(pluginID string, ext Extension) {
	tools := ext.Tools()
	components := ext.Components()
	routes := ext.Routes()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(tools) > 0 {
		r.tools[pluginID] = tools
	} else {
		delete(r.tools, pluginID)
	}
	if len(components) > 0 {
		r.components[pluginID] = components
	} else {
		delete(r.components, pluginID)
	}
	if len(routes) > 0 {
		r.routes[pluginID] = routes
	} else {
		delete(r.routes, pluginID)
	}
}

// Remove drops every capability registered under pluginID.
// Safe to call for unknown ids.
func (r *Registry) Remove(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, pluginID)
	delete(r.components, pluginID)
	delete(r.routes, pluginID)
}

// AvailableTools flattens the per-plugin tool maps. Keys are namespaced
// "pluginID.toolName" so same-named tools from different plugins never
// collide.
func (r *Registry) AvailableTools() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Tool)
	for pluginID, tools := range r.tools {
		for name, tool := range tools {
			out[pluginID+"."+name] = tool
		}
	}
	return out
}

// Tool resolves a namespaced "pluginID.toolName" key.
func (r *Registry) Tool(qualified string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for pluginID, tools := range r.tools {
		prefix := pluginID + "."
		if len(qualified) > len(prefix) && qualified[:len(prefix)] == prefix {
			if tool, ok := tools[qualified[len(prefix):]]; ok {
				return tool, true
			}
		}
	}
	return Tool{}, false
}

// UIComponents returns all UI fragments from loaded plugins, ordered by
// plugin id then component name for deterministic output.
func (r *Registry) UIComponents() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Component
	for _, pluginID := range sortedKeys(r.components) {
		components := r.components[pluginID]
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, components[name])
		}
	}
	return out
}

// APIRoutes returns all API routes from loaded plugins, ordered by plugin id.
func (r *Registry) APIRoutes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Route
	for _, pluginID := range sortedKeys(r.routes) {
		out = append(out, r.routes[pluginID]...)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
