package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vybeapp/vybe/internal/plugin"
)

// fakeExtension is a minimal Extension for registry and manager tests.
type fakeExtension struct {
	tools      map[string]plugin.Tool
	components map[string]plugin.Component
	routes     []plugin.Route

	activateErr   error
	deactivateErr error
	cleanupErr    error

	activations   int
	deactivations int
	cleanups      int
}

func (f *fakeExtension) Activate(context.Context) error {
	f.activations++
	return f.activateErr
}

func (f *fakeExtension) Deactivate(context.Context) error {
	f.deactivations++
	return f.deactivateErr
}

func (f *fakeExtension) Cleanup(context.Context) error {
	f.cleanups++
	return f.cleanupErr
}

func (f *fakeExtension) Tools() map[string]plugin.Tool           { return f.tools }
func (f *fakeExtension) Components() map[string]plugin.Component { return f.components }
func (f *fakeExtension) Routes() []plugin.Route                  { return f.routes }

func toolExt(pluginID string, names ...string) *fakeExtension {
	tools := make(map[string]plugin.Tool)
	for _, name := range names {
		tools[name] = plugin.Tool{
			PluginID: pluginID,
			Name:     name,
			Invoke: func(_ context.Context, args map[string]any) (any, error) {
				return args["in"], nil
			},
		}
	}
	return &fakeExtension{tools: tools}
}

func TestRegistry_ToolsNamespaced(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("alpha", toolExt("alpha", "greet"))
	r.Register("beta", toolExt("beta", "greet"))

	tools := r.AvailableTools()
	require.Len(t, tools, 2)
	assert.Contains(t, tools, "alpha.greet")
	assert.Contains(t, tools, "beta.greet")
	assert.Equal(t, "alpha", tools["alpha.greet"].PluginID)
}

func TestRegistry_ToolLookup(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("alpha", toolExt("alpha", "greet"))

	tool, ok := r.Tool("alpha.greet")
	require.True(t, ok)
	assert.Equal(t, "greet", tool.Name)

	_, ok = r.Tool("alpha.missing")
	assert.False(t, ok)
	_, ok = r.Tool("missing.greet")
	assert.False(t, ok)
	_, ok = r.Tool("greet")
	assert.False(t, ok)
}

func TestRegistry_RemoveDropsEverything(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("alpha", &fakeExtension{
		tools:      toolExt("alpha", "greet").tools,
		components: map[string]plugin.Component{"panel": {PluginID: "alpha", Name: "panel"}},
		routes:     []plugin.Route{{PluginID: "alpha", Method: "GET", Path: "/x"}},
	})

	r.Remove("alpha")

	assert.Empty(t, r.AvailableTools())
	assert.Empty(t, r.UIComponents())
	assert.Empty(t, r.APIRoutes())

	// Removing an unknown id is a no-op.
	r.Remove("ghost")
}

func TestRegistry_DeterministicOrdering(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("beta", &fakeExtension{
		components: map[string]plugin.Component{"b": {PluginID: "beta", Name: "b"}},
		routes:     []plugin.Route{{PluginID: "beta", Method: "GET", Path: "/b"}},
	})
	r.Register("alpha", &fakeExtension{
		components: map[string]plugin.Component{
			"z": {PluginID: "alpha", Name: "z"},
			"a": {PluginID: "alpha", Name: "a"},
		},
		routes: []plugin.Route{{PluginID: "alpha", Method: "GET", Path: "/a"}},
	})

	components := r.UIComponents()
	require.Len(t, components, 3)
	assert.Equal(t, "a", components[0].Name)
	assert.Equal(t, "z", components[1].Name)
	assert.Equal(t, "b", components[2].Name)

	routes := r.APIRoutes()
	require.Len(t, routes, 2)
	assert.Equal(t, "alpha", routes[0].PluginID)
	assert.Equal(t, "beta", routes[1].PluginID)
}

func TestRegistry_ReregisterReplaces(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register("alpha", toolExt("alpha", "old"))
	r.Register("alpha", toolExt("alpha", "new"))

	tools := r.AvailableTools()
	require.Len(t, tools, 1)
	assert.Contains(t, tools, "alpha.new")
}
