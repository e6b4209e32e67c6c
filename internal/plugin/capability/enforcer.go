// Package capability provides runtime permission enforcement for plugins.
//
// Grants are the permission strings declared in a plugin's manifest, matched
// with gobwas/glob using '-' as the segment separator:
//   - "file-read" grants exactly that permission
//   - "file-*" grants "file-read" and "file-write" but not "network-access"
//   - "**" grants every permission
//
// Wildcards exist for host-side configuration (trusted first-party plugins);
// manifests themselves declare literal permissions only.
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer answers "may plugin X use permission Y" at host-function call
// time. Deny by default: unknown plugins and unknown permissions fail closed.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin id -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a permission enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the permission grants for a plugin. The slice is copied.
// If any pattern fails to compile, no state changes (all-or-nothing).
func (e *Enforcer) SetGrants(plugin string, permissions []string) error {
	if plugin == "" {
		return errors.New("plugin id cannot be empty")
	}

	// Compile everything before taking the lock so a bad pattern can't leave
	// a plugin half-granted.
	compiled := make([]compiledGrant, len(permissions))
	for i, pattern := range permissions {
		if pattern == "" {
			return fmt.Errorf("grant %d: empty permission pattern", i)
		}
		g, err := glob.Compile(pattern, '-')
		if err != nil {
			return fmt.Errorf("grant %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// IsRegistered reports whether the plugin has grants configured, even empty
// ones. Distinguishes "plugin unknown" from "plugin lacks permission".
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.grants == nil {
		return false
	}
	_, ok := e.grants[plugin]
	return ok
}

// RemoveGrants drops all grants for a plugin. Safe for unknown plugins.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		return
	}
	delete(e.grants, plugin)
}

// GetGrants returns a copy of the grant patterns for a plugin, or nil if the
// plugin is not registered.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// ListPlugins returns the ids of all registered plugins. Order is not
// guaranteed.
func (e *Enforcer) ListPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.grants) == 0 {
		return []string{}
	}
	plugins := make([]string, 0, len(e.grants))
	for id := range e.grants {
		plugins = append(plugins, id)
	}
	return plugins
}

// Check reports whether the plugin holds the permission. Empty plugin id,
// empty permission, and unregistered plugins all deny.
func (e *Enforcer) Check(plugin, permission string) bool {
	if permission == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.grants == nil {
		return false
	}
	grants, ok := e.grants[plugin]
	if !ok {
		return false
	}
	for _, grant := range grants {
		if grant.glob.Match(permission) {
			return true
		}
	}
	return false
}
