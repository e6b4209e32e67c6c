// Package plugin provides plugin discovery, sandboxed loading, and
// lifecycle control for the Vybe extension runtime.
package plugin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ManifestFilename is the declarative descriptor shipped with every plugin.
const ManifestFilename = "manifest.json"

// DefaultEntryPoint is used when the manifest omits entry_point.
const DefaultEntryPoint = "main.lua"

// Descriptor is the validated contents of a plugin's manifest.json plus
// discovery bookkeeping. The ID is the plugin's directory name and is unique
// within the plugins root.
type Descriptor struct {
	ID             string       `json:"-"`
	Name           string       `json:"name"`
	Version        string       `json:"version"`
	Description    string       `json:"description,omitempty"`
	Author         string       `json:"author"`
	Kind           Kind         `json:"type,omitempty"`
	EntryPoint     string       `json:"entry_point,omitempty"`
	Dependencies   []string     `json:"dependencies,omitempty"`
	Requirements   []string     `json:"requirements,omitempty"`
	Permissions    []Permission `json:"permissions,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	Icon           string       `json:"icon,omitempty"`
	Website        string       `json:"website,omitempty"`
	License        string       `json:"license,omitempty"`
	MinVybeVersion string       `json:"min_vybe_version,omitempty"`
	MaxVybeVersion string       `json:"max_vybe_version,omitempty"`
	CreatedAt      *time.Time   `json:"created_at,omitempty"`
	UpdatedAt      *time.Time   `json:"updated_at,omitempty"`

	DiscoveredAt time.Time `json:"-"`
}

// versionPattern accepts a semantic-version prefix (e.g. "1.0.0", "1.0.0-rc1").
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

// ParseDescriptor parses and validates a manifest.json document for the
// plugin with the given id. The raw bytes are checked against the generated
// JSON Schema before decoding (defense in depth against hand-edited
// manifests), then field constraints are applied via Validate.
func ParseDescriptor(data []byte, id string) (*Descriptor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	d := Descriptor{ID: id}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if d.Kind == "" {
		d.Kind = KindCustom
	}
	if d.EntryPoint == "" {
		d.EntryPoint = DefaultEntryPoint
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks descriptor constraints. It never panics; all failures are
// reported as errors for the caller to log.
func (d *Descriptor) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"name", d.Name},
		{"version", d.Version},
		{"author", d.Author},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("required field %q is missing or blank", f.name)
		}
	}

	if !versionPattern.MatchString(d.Version) {
		return fmt.Errorf("version %q is not semantic (expected e.g. 1.0.0)", d.Version)
	}

	if !d.Kind.Valid() {
		return fmt.Errorf("unknown plugin type %q", d.Kind)
	}

	for _, p := range d.Permissions {
		if !p.Known() {
			return fmt.Errorf("unknown permission %q (allowed: %v)", p, AllPermissions())
		}
	}

	for _, v := range []struct{ name, value string }{
		{"min_vybe_version", d.MinVybeVersion},
		{"max_vybe_version", d.MaxVybeVersion},
	} {
		if v.value == "" {
			continue
		}
		if _, err := semver.NewVersion(v.value); err != nil {
			return fmt.Errorf("%s %q is not a valid version: %w", v.name, v.value, err)
		}
	}

	return nil
}

// CheckHostCompat reports whether the descriptor's declared host version
// range admits hostVersion. An empty hostVersion or an absent range always
// passes; a malformed hostVersion is an error.
func (d *Descriptor) CheckHostCompat(hostVersion string) error {
	if hostVersion == "" || (d.MinVybeVersion == "" && d.MaxVybeVersion == "") {
		return nil
	}

	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("host version %q is not semantic: %w", hostVersion, err)
	}

	if d.MinVybeVersion != "" {
		minV, err := semver.NewVersion(d.MinVybeVersion)
		if err != nil {
			return fmt.Errorf("min_vybe_version %q: %w", d.MinVybeVersion, err)
		}
		if host.LessThan(minV) {
			return fmt.Errorf("requires host >= %s, running %s", d.MinVybeVersion, hostVersion)
		}
	}

	if d.MaxVybeVersion != "" {
		maxV, err := semver.NewVersion(d.MaxVybeVersion)
		if err != nil {
			return fmt.Errorf("max_vybe_version %q: %w", d.MaxVybeVersion, err)
		}
		if host.GreaterThan(maxV) {
			return fmt.Errorf("requires host <= %s, running %s", d.MaxVybeVersion, hostVersion)
		}
	}

	return nil
}

// EntryPath returns the absolute path of the entry-point file within dir.
func (d *Descriptor) EntryPath(dir string) string {
	return filepath.Join(dir, d.EntryPoint)
}
