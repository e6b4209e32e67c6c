package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/vybeapp/vybe/internal/settings"
	"github.com/vybeapp/vybe/pkg/errutil"
)

// Record is the runtime state of a loaded plugin.
type Record struct {
	Descriptor *Descriptor
	Extension  Extension
	Status     Status
	Err        string
	LoadTime   time.Time
	LastUsed   time.Time
	UsageCount int64
}

// StatusInfo is the externally visible state of a plugin id.
type StatusInfo struct {
	ID         string
	Descriptor Descriptor
	Status     Status
	Error      string
	LoadTime   time.Time
	LastUsed   time.Time
	UsageCount int64
}

// Manager owns the plugin tables and drives each plugin through its
// lifecycle. All public operations return errors instead of panicking;
// a single plugin's failure never poisons the manager.
//
// Locking: discoverMu serializes directory scans; mu serializes every
// mutating lifecycle operation (load, unload, install, update, enable,
// disable, activate, deactivate) - the coarse-lock trade-off, chosen for
// simplicity over per-id throughput. tableMu guards the tables themselves
// so read-only accessors never wait on a slow lifecycle operation.
type Manager struct {
	pluginsDir  string
	host        Host
	hostVersion string
	store       settings.Store
	registry    *Registry

	discoverMu sync.Mutex
	mu         sync.Mutex

	tableMu     sync.RWMutex
	descriptors map[string]*Descriptor
	records     map[string]*Record
	disabled    map[string]struct{}
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithHost sets the sandbox host used to load plugin code.
func WithHost(h Host) ManagerOption {
	return func(m *Manager) { m.host = h }
}

// WithSettingsStore sets the store persisting the disabled plugin set.
func WithSettingsStore(s settings.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithHostVersion sets the host version used for manifest compatibility
// checks during discovery.
func WithHostVersion(v string) ManagerOption {
	return func(m *Manager) { m.hostVersion = v }
}

// NewManager creates a plugin manager rooted at pluginsDir.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir:  pluginsDir,
		registry:    NewRegistry(),
		descriptors: make(map[string]*Descriptor),
		records:     make(map[string]*Record),
		disabled:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start seeds the disabled set from the settings store and runs an initial
// discovery scan. Call once before other operations.
func (m *Manager) Start(ctx context.Context) error {
	if m.store != nil {
		ids, err := m.store.DisabledPlugins(ctx)
		if err != nil {
			return oops.In("plugin").Hint("failed to read disabled plugin set").Wrap(err)
		}
		m.tableMu.Lock()
		for _, id := range ids {
			m.disabled[id] = struct{}{}
		}
		m.tableMu.Unlock()
	}

	_, err := m.Discover(ctx)
	return err
}

// Discover scans the plugins root and (re)creates a descriptor for every
// subdirectory holding a valid manifest. Existing records are never touched;
// directories failing validation are logged and skipped. Returns the ids
// discovered in this scan.
func (m *Manager) Discover(_ context.Context) ([]string, error) {
	m.discoverMu.Lock()
	defer m.discoverMu.Unlock()

	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No plugins directory yet
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Hint("failed to read plugins directory").Wrap(err)
	}

	var discovered []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if isWorkDir(id) {
			continue // staging/backup directories from install and update
		}

		pluginDir := filepath.Join(m.pluginsDir, id)
		data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFilename)) //nolint:gosec // path built from ReadDir entries
		if err != nil {
			slog.Warn("skipping plugin without manifest",
				"dir", id,
				"error", err)
			continue
		}

		desc, err := ParseDescriptor(data, id)
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", id,
				"error", err)
			continue
		}

		if err := desc.CheckHostCompat(m.hostVersion); err != nil {
			slog.Warn("skipping plugin incompatible with host version",
				"dir", id,
				"error", err)
			continue
		}

		desc.DiscoveredAt = time.Now()

		m.tableMu.Lock()
		m.descriptors[id] = desc
		m.tableMu.Unlock()

		discovered = append(discovered, id)
		slog.Info("discovered plugin",
			"plugin", id,
			"name", desc.Name,
			"version", desc.Version)
	}

	sort.Strings(discovered)
	return discovered, nil
}

// Load loads a discovered plugin into the sandbox. Loading an already loaded
// id is a no-op success. Fails for unknown or disabled ids. On any loader
// failure no record is kept and no capability is registered.
func (m *Manager) Load(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, id)
}

func (m *Manager) loadLocked(ctx context.Context, id string) error {
	m.tableMu.RLock()
	_, loaded := m.records[id]
	desc, known := m.descriptors[id]
	_, off := m.disabled[id]
	m.tableMu.RUnlock()

	errCtx := oops.In("plugin").Code(CodeLoadFailed).With("plugin", id).With("operation", "load")

	if loaded {
		slog.Debug("plugin already loaded", "plugin", id)
		return nil
	}
	if !known {
		return errCtx.Wrap(ErrUnknownPlugin)
	}
	if off {
		return errCtx.Wrap(ErrPluginDisabled)
	}
	if m.host == nil {
		return errCtx.Wrap(ErrNoHost)
	}

	// Defense in depth: the descriptor was validated at discovery, but the
	// loader re-reads the on-disk manifest to catch drift since then.
	if err := desc.Validate(); err != nil {
		return errCtx.Wrap(err)
	}

	ext, err := m.host.Load(ctx, desc, filepath.Join(m.pluginsDir, id))
	recordResult(loadsTotal, err)
	if err != nil {
		return errCtx.Wrap(err)
	}

	m.tableMu.Lock()
	m.records[id] = &Record{
		Descriptor: desc,
		Extension:  ext,
		Status:     StatusLoaded,
		LoadTime:   time.Now(),
	}
	m.tableMu.Unlock()

	m.registry.Register(id, ext)
	pluginsLoaded.Inc()

	slog.Info("loaded plugin",
		"plugin", id,
		"kind", desc.Kind,
		"version", desc.Version)
	return nil
}

// Activate starts a loaded plugin. On handler failure the plugin enters the
// error state with an inspectable message and stays loaded so an operator
// can retry or unload.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(ctx, id)
}

func (m *Manager) activateLocked(ctx context.Context, id string) error {
	rec, err := m.record(id, "activate")
	if err != nil {
		return err
	}

	actErr := rec.Extension.Activate(ctx)
	recordResult(activationsTotal, actErr)

	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if actErr != nil {
		rec.Status = StatusError
		rec.Err = actErr.Error()
		return oops.In("plugin").With("plugin", id).With("operation", "activate").Wrap(actErr)
	}
	rec.Status = StatusActive
	rec.Err = ""
	rec.LastUsed = time.Now()
	slog.Info("activated plugin", "plugin", id)
	return nil
}

// Deactivate returns an active plugin to the loaded state. A handler failure
// is logged and returned but the status is left unchanged so Unload remains
// possible.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ctx, id)
}

func (m *Manager) deactivateLocked(ctx context.Context, id string) error {
	rec, err := m.record(id, "deactivate")
	if err != nil {
		return err
	}

	if err := rec.Extension.Deactivate(ctx); err != nil {
		slog.Error("plugin deactivation failed", "plugin", id, "error", err)
		return oops.In("plugin").With("plugin", id).With("operation", "deactivate").Wrap(err)
	}

	m.tableMu.Lock()
	rec.Status = StatusLoaded
	m.tableMu.Unlock()
	slog.Info("deactivated plugin", "plugin", id)
	return nil
}

// Unload removes a plugin's record, capabilities, and execution scope,
// deactivating first if active. Idempotent: unloading a not-loaded id
// succeeds and changes nothing.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, id)
}

func (m *Manager) unloadLocked(ctx context.Context, id string) error {
	m.tableMu.RLock()
	rec, ok := m.records[id]
	m.tableMu.RUnlock()
	if !ok {
		return nil
	}

	if rec.Status == StatusActive {
		if err := rec.Extension.Deactivate(ctx); err != nil {
			slog.Warn("deactivation during unload failed", "plugin", id, "error", err)
		}
	}
	if err := rec.Extension.Cleanup(ctx); err != nil {
		slog.Warn("cleanup during unload failed", "plugin", id, "error", err)
	}

	m.registry.Remove(id)

	m.tableMu.Lock()
	delete(m.records, id)
	m.tableMu.Unlock()
	pluginsLoaded.Dec()

	slog.Info("unloaded plugin", "plugin", id)
	return nil
}

// Enable removes id from the persisted disabled set, then loads and
// activates it. Overall success requires both.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tableMu.Lock()
	delete(m.disabled, id)
	m.tableMu.Unlock()

	if err := m.persistDisabled(ctx); err != nil {
		slog.Warn("failed to persist disabled set", "plugin", id, "error", err)
	}

	if err := m.loadLocked(ctx, id); err != nil {
		return err
	}
	return m.activateLocked(ctx, id)
}

// Disable unloads the plugin (best effort) and adds id to the persisted
// disabled set. Always succeeds.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableLocked(ctx, id)
	return nil
}

func (m *Manager) disableLocked(ctx context.Context, id string) {
	if err := m.unloadLocked(ctx, id); err != nil {
		slog.Warn("unload during disable failed", "plugin", id, "error", err)
	}

	m.tableMu.Lock()
	m.disabled[id] = struct{}{}
	m.tableMu.Unlock()

	if err := m.persistDisabled(ctx); err != nil {
		slog.Warn("failed to persist disabled set", "plugin", id, "error", err)
	}
	slog.Info("disabled plugin", "plugin", id)
}

// persistDisabled writes the disabled set to the settings store.
func (m *Manager) persistDisabled(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.tableMu.RLock()
	ids := make([]string, 0, len(m.disabled))
	for id := range m.disabled {
		ids = append(ids, id)
	}
	m.tableMu.RUnlock()
	sort.Strings(ids)
	return m.store.SetDisabledPlugins(ctx, ids)
}

// LoadAll discovers and loads every enabled plugin. Individual failures are
// logged and skipped so one broken plugin can't block the rest (graceful
// degradation; callers needing strict loading use Discover + Load per id).
func (m *Manager) LoadAll(ctx context.Context) error {
	ids, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if m.IsDisabled(id) {
			slog.Debug("skipping disabled plugin", "plugin", id)
			continue
		}
		if err := m.Load(ctx, id); err != nil {
			// The oops context carries the plugin id and operation.
			errutil.LogError(slog.Default(), "failed to load plugin", err)
			continue
		}
	}
	return nil
}

// ExecuteTool invokes a namespaced "pluginID.toolName" tool and stamps the
// owning record's usage counters.
func (m *Manager) ExecuteTool(ctx context.Context, qualified string, args map[string]any) (any, error) {
	tool, ok := m.registry.Tool(qualified)
	if !ok {
		return nil, oops.In("plugin").With("tool", qualified).Wrap(ErrToolNotFound)
	}

	result, err := tool.Invoke(ctx, args)

	m.tableMu.Lock()
	if rec, exists := m.records[tool.PluginID]; exists {
		rec.UsageCount++
		rec.LastUsed = time.Now()
	}
	m.tableMu.Unlock()

	if err != nil {
		return nil, oops.In("plugin").With("tool", qualified).With("plugin", tool.PluginID).Wrap(err)
	}
	return result, nil
}

// Status returns the descriptor and runtime info for id, or false if the id
// has no descriptor.
func (m *Manager) Status(id string) (StatusInfo, bool) {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	return m.statusLocked(id)
}

func (m *Manager) statusLocked(id string) (StatusInfo, bool) {
	desc, ok := m.descriptors[id]
	if !ok {
		return StatusInfo{}, false
	}

	info := StatusInfo{
		ID:         id,
		Descriptor: *desc,
		Status:     StatusDiscovered,
	}
	if _, off := m.disabled[id]; off {
		info.Status = StatusDisabled
	}
	if rec, loaded := m.records[id]; loaded {
		info.Status = rec.Status
		info.Error = rec.Err
		info.LoadTime = rec.LoadTime
		info.LastUsed = rec.LastUsed
		info.UsageCount = rec.UsageCount
	}
	return info, true
}

// AllStatuses returns the status of every plugin with a descriptor, sorted
// by id.
func (m *Manager) AllStatuses() []StatusInfo {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()

	ids := make([]string, 0, len(m.descriptors))
	for id := range m.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]StatusInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := m.statusLocked(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// IsDisabled reports whether id is in the disabled set.
func (m *Manager) IsDisabled(id string) bool {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	_, off := m.disabled[id]
	return off
}

// AvailableTools returns all tools from loaded plugins under namespaced keys.
func (m *Manager) AvailableTools() map[string]Tool {
	return m.registry.AvailableTools()
}

// UIComponents returns all UI fragments from loaded plugins.
func (m *Manager) UIComponents() []Component {
	return m.registry.UIComponents()
}

// APIRoutes returns all API routes from loaded plugins.
func (m *Manager) APIRoutes() []Route {
	return m.registry.APIRoutes()
}

// Registry exposes the capability registry for read-side consumers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// record fetches the loaded record for id or an ErrNotLoaded failure.
func (m *Manager) record(id, operation string) (*Record, error) {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, oops.In("plugin").With("plugin", id).With("operation", operation).Wrap(ErrNotLoaded)
	}
	return rec, nil
}

// Close unloads every plugin and shuts down the sandbox host.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tableMu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.tableMu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := m.unloadLocked(ctx, id); err != nil {
			slog.Warn("unload during close failed", "plugin", id, "error", err)
		}
	}

	if m.host != nil {
		if err := m.host.Close(ctx); err != nil {
			return oops.In("plugin").Hint("failed to close host").Wrap(err)
		}
	}
	return nil
}
