package plugin

// Status is the lifecycle state of a plugin id.
type Status int

// Lifecycle states. Transitions follow
// discovered -> loaded -> active, with disabled and error as side states.
const (
	// StatusDiscovered - a valid manifest exists but no code is loaded.
	StatusDiscovered Status = iota

	// StatusLoaded - code is loaded and initialization succeeded.
	StatusLoaded

	// StatusActive - the plugin is running.
	StatusActive

	// StatusDisabled - excluded from loading; no code is loaded.
	StatusDisabled

	// StatusError - the last transition failed; carries a message.
	StatusError
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusLoaded:
		return "loaded"
	case StatusActive:
		return "active"
	case StatusDisabled:
		return "disabled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
