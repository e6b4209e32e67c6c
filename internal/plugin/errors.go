package plugin

import "errors"

// Error codes attached to oops errors at operation boundaries, for log and
// assertion correlation.
const (
	CodeLoadFailed    = "PLUGIN_LOAD_FAILED"
	CodeInstallFailed = "PLUGIN_INSTALL_FAILED"
)

// Plugin runtime errors. Loader implementations wrap the load-boundary
// sentinels so callers can classify failures with errors.Is.
var (
	// ErrUnknownPlugin is returned for an id with no discovered descriptor.
	ErrUnknownPlugin = errors.New("plugin not discovered")

	// ErrPluginDisabled is returned when loading an id in the disabled set.
	ErrPluginDisabled = errors.New("plugin is disabled")

	// ErrNotLoaded is returned when an operation requires a loaded plugin.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrNoHost is returned when no sandbox host is configured.
	ErrNoHost = errors.New("no plugin host configured")

	// ErrEntryPointNotFound is returned when the manifest's entry point file
	// does not exist in the plugin directory.
	ErrEntryPointNotFound = errors.New("entry point not found")

	// ErrSandboxExecution is returned when the entry point fails inside the
	// restricted scope.
	ErrSandboxExecution = errors.New("sandbox execution failed")

	// ErrNoExtensionRegistered is returned when the entry point never calls
	// the registration function.
	ErrNoExtensionRegistered = errors.New("entry point registered no extension")

	// ErrInitializationFailed is returned when the registered extension's
	// initializer returns false or raises.
	ErrInitializationFailed = errors.New("extension initialization failed")

	// ErrToolNotFound is returned when executing an unknown namespaced tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidPackage is returned when an install source is neither a zip
	// archive nor a directory, or its contents fail validation.
	ErrInvalidPackage = errors.New("invalid plugin package")
)
