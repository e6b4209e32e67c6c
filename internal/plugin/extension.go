package plugin

import "context"

// Tool is an invokable capability contributed by a plugin.
type Tool struct {
	PluginID    string
	Name        string
	Description string
	Invoke      func(ctx context.Context, args map[string]any) (any, error)
}

// Component is a declarative UI fragment contributed by a plugin.
type Component struct {
	PluginID string
	Name     string
	Spec     map[string]any
}

// Route is an API route contributed by a plugin. The handler runs inside the
// plugin's sandbox; the host's HTTP layer decides how to mount it.
type Route struct {
	PluginID string
	Method   string
	Path     string
	Invoke   func(ctx context.Context, payload map[string]any) (any, error)
}

// Extension is a loaded plugin instance. Implementations own their execution
// scope (the loaded namespace) for the lifetime of the instance and must
// serialize their own internal state; the manager serializes lifecycle calls.
//
// Initialization happens inside Host.Load: an Extension returned from a
// successful Load has already run its initializer.
type Extension interface {
	// Activate starts the extension. Re-activating an active extension
	// re-invokes the plugin's activation handler; it is not auto-guarded.
	Activate(ctx context.Context) error

	// Deactivate stops the extension but keeps it loaded.
	Deactivate(ctx context.Context) error

	// Cleanup releases the extension's resources, including its execution
	// scope. The extension is unusable afterwards.
	Cleanup(ctx context.Context) error

	// Tools returns the tools registered by the plugin, keyed by bare name.
	Tools() map[string]Tool

	// Components returns the UI fragments registered by the plugin.
	Components() map[string]Component

	// Routes returns the API routes registered by the plugin.
	Routes() []Route
}

// Host loads extension instances from plugin packages inside a restricted
// execution scope. A Host guarantees that a failed Load retains no partial
// state: no scope, no grants, no instance.
type Host interface {
	// Load re-validates the on-disk manifest, executes the plugin's entry
	// point inside the sandbox, and returns the initialized extension.
	// Failures are classified by the load-boundary sentinels in errors.go.
	Load(ctx context.Context, desc *Descriptor, dir string) (Extension, error)

	// Close shuts down the host. Extensions already handed out must have
	// been cleaned up by their owner.
	Close(ctx context.Context) error
}
