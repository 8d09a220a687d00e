package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/timbrevoice/timbre/pkg/observability"
	"github.com/timbrevoice/timbre/pkg/procsnap"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// SystemDir and UserDir are the two plugin directories scanned
	// during discovery. SystemDir is scanned first; on duplicate
	// filenames the first find wins.
	SystemDir string
	UserDir   string

	// HostVersion is the client version announced to plugins.
	HostVersion Version

	// State backs the host API. When nil, plugins are loaded without a
	// host API (queries and callbacks still work).
	State ServerState

	// Processes produces the process snapshots offered to positional
	// plugins. Defaults to a cached system resolver.
	Processes procsnap.Resolver

	// PollInterval drives the positional-data poll loop started by
	// StartPolling. Defaults to one second.
	PollInterval time.Duration

	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

// Manager is the plugin registry. It discovers plugin binaries on disk,
// owns the loaded Plugin instances keyed by ID, arbitrates the single
// active positional-data source and fans host events out to all loaded
// plugins.
//
// Lock ordering: the collection lock (mu) and the active-plugin lock
// (activeMu) are never nested. The strict global order is collection
// before active: code paths snapshot the plugin collection under mu,
// release it, and only then touch activeMu. No code path acquires mu
// while holding activeMu.
type Manager struct {
	log     *logrus.Logger
	metrics *observability.Metrics

	systemDir   string
	userDir     string
	hostVersion Version

	ids       *IDAllocator
	processes procsnap.Resolver

	api        *HostAPI
	pluginData *PluginData
	curator    *AllocationCurator
	positional *PositionalData

	mu      sync.RWMutex
	plugins map[uint32]*Plugin

	activeMu sync.Mutex
	active   *Plugin

	pollInterval time.Duration
	cron         *cron.Cron

	watcherMu sync.Mutex
	watcher   *fsnotify.Watcher
}

// NewManager creates a plugin manager. The host API is assembled once
// for the current API version and handed to every plugin during Init.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if opts.Processes == nil {
		opts.Processes = procsnap.NewCachingResolver(procsnap.NewSystemResolver(), time.Second)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	m := &Manager{
		log:          opts.Logger,
		metrics:      opts.Metrics,
		systemDir:    opts.SystemDir,
		userDir:      opts.UserDir,
		hostVersion:  opts.HostVersion,
		ids:          NewIDAllocator(),
		processes:    opts.Processes,
		pluginData:   &PluginData{},
		curator:      NewAllocationCurator(),
		positional:   NewPositionalData(),
		plugins:      make(map[uint32]*Plugin),
		pollInterval: opts.PollInterval,
	}

	if opts.State != nil {
		api, err := BuildHostAPI(CurrentAPIVersion, opts.State, m.pluginData, m.curator, m.log, m.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to build host API: %w", err)
		}
		m.api = api
	}

	return m, nil
}

// pluginLog returns a log entry carrying the plugin's identity.
func (m *Manager) pluginLog(plug *Plugin) *logrus.Entry {
	return m.log.WithFields(logrus.Fields{
		"plugin_id":   plug.ID(),
		"plugin_name": plug.Name(),
	})
}

// PositionalData returns the shared positional snapshot the audio-mixing
// path reads from.
func (m *Manager) PositionalData() *PositionalData {
	return m.positional
}

// PluginData returns the non-permanent state plugins set through the
// host API.
func (m *Manager) PluginData() *PluginData {
	return m.pluginData
}

// Curator returns the allocation curator backing the host API.
func (m *Manager) Curator() *AllocationCurator {
	return m.curator
}

// RescanPlugins clears the registry and re-discovers plugin binaries in
// the configured directories. For each candidate the modern ABI is
// attempted first, then the legacy ABI; libraries failing both are
// logged and skipped.
func (m *Manager) RescanPlugins() {
	m.ClearPlugins()
	m.metrics.PluginRescansTotal.Inc()

	candidates := m.discoverCandidates()
	m.metrics.PluginsDiscovered.Set(float64(len(candidates)))

	for _, path := range candidates {
		plug, err := m.instantiate(path)
		if err != nil {
			m.log.WithError(err).Warnf("Non-plugin library in plugin directory: %s", path)
			m.metrics.PluginLoadFailures.WithLabelValues("abi").Inc()
			continue
		}

		m.mu.Lock()
		m.plugins[plug.ID()] = plug
		m.mu.Unlock()

		kind := ""
		if plug.IsLegacy() {
			kind = "legacy "
		}
		m.log.Infof("Found %splugin '%s' at %q", kind, plug.Name(), path)
	}
}

// discoverCandidates walks the system directory, then the user
// directory, collecting files recognized as loadable libraries.
// Duplicate filenames across directories are deduplicated; the first
// find wins.
func (m *Manager) discoverCandidates() []string {
	var candidates []string
	seen := make(map[string]struct{})

	for _, dir := range []string{m.systemDir, m.userDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				m.log.WithError(err).Warnf("Failed to read plugin directory %s", dir)
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if !IsLibraryFile(path) {
				continue
			}
			if _, dup := seen[entry.Name()]; dup {
				continue
			}
			seen[entry.Name()] = struct{}{}
			candidates = append(candidates, path)
		}
	}

	return candidates
}

// instantiate constructs a Plugin from the library at path, trying the
// modern ABI first and the legacy ABI as fallback. On failure the
// library handle is released and no plugin object exists.
func (m *Manager) instantiate(path string) (*Plugin, error) {
	lib, err := OpenLibrary(path)
	if err != nil {
		m.metrics.PluginLoadFailures.WithLabelValues("open").Inc()
		return nil, err
	}

	plug, modernErr := NewPlugin(lib, m.ids)
	if modernErr == nil {
		return plug, nil
	}

	plug, legacyErr := NewLegacyPlugin(lib, m.ids)
	if legacyErr == nil {
		return plug, nil
	}

	if closeErr := lib.Close(); closeErr != nil {
		m.log.WithError(closeErr).Debugf("Failed to release library %s", path)
	}
	return nil, fmt.Errorf("%v; %v", modernErr, legacyErr)
}

// instantiateFromLibrary is the test seam behind instantiate: it runs
// the same ABI negotiation against an already-opened library.
func (m *Manager) instantiateFromLibrary(lib Library) (*Plugin, error) {
	plug, modernErr := NewPlugin(lib, m.ids)
	if modernErr == nil {
		return plug, nil
	}

	plug, legacyErr := NewLegacyPlugin(lib, m.ids)
	if legacyErr == nil {
		return plug, nil
	}

	return nil, fmt.Errorf("%v; %v", modernErr, legacyErr)
}

// AddLibrary negotiates the ABI of an already-opened library and
// inserts the resulting plugin into the registry. Used for libraries
// that do not come from directory discovery.
func (m *Manager) AddLibrary(lib Library) (*Plugin, error) {
	plug, err := m.instantiateFromLibrary(lib)
	if err != nil {
		m.metrics.PluginLoadFailures.WithLabelValues("abi").Inc()
		return nil, err
	}

	m.mu.Lock()
	m.plugins[plug.ID()] = plug
	m.mu.Unlock()

	return plug, nil
}

// AddBuiltIn inserts a plugin that has no backing file.
func (m *Manager) AddBuiltIn(table FunctionTable) (*Plugin, error) {
	plug, err := NewBuiltInPlugin(table, m.ids)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.plugins[plug.ID()] = plug
	m.mu.Unlock()

	return plug, nil
}

// ClearPlugins shuts down and removes every plugin. The active
// positional slot is cleared first so no poll can reach a plugin that
// is being closed.
func (m *Manager) ClearPlugins() {
	m.clearActive()

	m.mu.Lock()
	plugins := m.plugins
	m.plugins = make(map[uint32]*Plugin)
	m.mu.Unlock()

	for _, plug := range plugins {
		if err := plug.Close(); err != nil {
			m.log.WithError(err).Warnf("Failed to close plugin %d", plug.ID())
		}
	}

	m.metrics.PluginsLoaded.Set(0)
}

// Get returns the plugin with the given ID.
func (m *Manager) Get(id uint32) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plug, ok := m.plugins[id]
	return plug, ok
}

// Plugins returns all registered plugins in ascending ID order, which
// equals insertion order because IDs are allocated monotonically.
func (m *Manager) Plugins() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedLocked(func(*Plugin) bool { return true })
}

// Count returns the number of registered plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.plugins)
}

// sortedLocked collects plugins matching keep in ascending ID order.
// Caller holds mu.
func (m *Manager) sortedLocked(keep func(*Plugin) bool) []*Plugin {
	result := make([]*Plugin, 0, len(m.plugins))
	for _, plug := range m.plugins {
		if keep(plug) {
			result = append(result, plug)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// loadedPlugins returns all loaded plugins in ascending ID order.
func (m *Manager) loadedPlugins() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedLocked(func(p *Plugin) bool { return p.IsLoaded() })
}

// LoadPlugin initializes the plugin with the given ID. Loading an
// already-loaded plugin is a no-op success.
func (m *Manager) LoadPlugin(id uint32) error {
	plug, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}

	status := plug.Init(m.hostVersion, m.api)
	if status != ErrorCodeOK {
		m.metrics.PluginInitErrors.WithLabelValues(status.String()).Inc()
		m.pluginLog(plug).Warnf("Plugin init returned %s", status)
	}

	m.metrics.PluginsLoaded.Set(float64(len(m.loadedPlugins())))
	return nil
}

// UnloadPlugin shuts down the plugin with the given ID, clearing the
// active positional slot first when this plugin holds it.
func (m *Manager) UnloadPlugin(id uint32) error {
	plug, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}

	m.clearActiveIf(plug)
	plug.Shutdown()

	m.metrics.PluginsLoaded.Set(float64(len(m.loadedPlugins())))
	return nil
}

// LoadAllPlugins initializes every valid plugin in the registry.
func (m *Manager) LoadAllPlugins() {
	for _, plug := range m.Plugins() {
		if !plug.IsValid() {
			continue
		}
		if err := m.LoadPlugin(plug.ID()); err != nil {
			m.log.WithError(err).Warnf("Failed to load plugin %d", plug.ID())
		}
	}
}

// EnablePositionalData sets the user's enablement of the plugin as a
// positional-data source. Disabling a plugin that currently holds the
// active slot demotes it immediately. Enabling clears a permanent-error
// latch; that is the only way such a plugin is offered again.
func (m *Manager) EnablePositionalData(id uint32, enable bool) error {
	plug, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}

	plug.EnablePositionalData(enable)
	if !enable {
		m.clearActiveIf(plug)
	}
	return nil
}

// clearActive demotes whichever plugin holds the active slot.
func (m *Manager) clearActive() {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	m.clearActiveSlotLocked()
}

// clearActiveIf demotes plug if it holds the active slot.
func (m *Manager) clearActiveIf(plug *Plugin) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if m.active == plug {
		m.clearActiveSlotLocked()
	}
}

// clearActiveSlotLocked deactivates the active plugin and resets the
// positional snapshot. Caller holds activeMu.
func (m *Manager) clearActiveSlotLocked() {
	if m.active == nil {
		return
	}

	m.active.ShutdownPositionalData()
	m.active = nil
	m.positional.Reset()
	m.metrics.ActivePositionalPlugin.Set(0)
}

// ActivePositionalPlugin returns the plugin currently serving
// positional data, or nil.
func (m *Manager) ActivePositionalPlugin() *Plugin {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	return m.active
}

// PositionalDataTick runs one cycle of the positional-data protocol:
// while a plugin is active its data is fetched; otherwise arbitration
// offers the slot to the candidates. A plugin demoted during a tick is
// not re-offered in the same tick.
func (m *Manager) PositionalDataTick(ctx context.Context) {
	if m.fetchActive() {
		return
	}
	m.arbitrate(ctx)
}

// fetchActive polls the active plugin for one positional sample. It
// returns false when there was no active plugin at the start of the
// tick. A false return from the plugin itself demotes it: its
// positional shutdown entry point runs exactly once, the active slot is
// cleared and the snapshot is reset.
//
// activeMu is held for the whole fetch so positional polling is never
// invoked concurrently for the same plugin, and so a demotion cannot
// race a concurrent enable/disable.
func (m *Manager) fetchActive() bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if m.active == nil {
		return false
	}

	m.metrics.PositionalFetchTotal.Inc()

	var frame PositionalFrame
	if m.active.FetchPositionalData(&frame) {
		m.positional.Update(frame)
		return true
	}

	m.metrics.PositionalFetchFailures.Inc()
	m.pluginLog(m.active).Debug("Active plugin can no longer provide positional data")
	m.clearActiveSlotLocked()
	return true
}

// arbitrate offers the active slot to every usable candidate in
// ascending ID order until one accepts. First fit wins; candidates
// answering with a temporary error are skipped this cycle, candidates
// answering with a permanent error are latched out until re-enabled.
func (m *Manager) arbitrate(ctx context.Context) {
	m.mu.RLock()
	candidates := m.sortedLocked(func(p *Plugin) bool { return p.PositionalDataUsable() })
	m.mu.RUnlock()

	if len(candidates) == 0 {
		m.positional.Reset()
		return
	}

	entries, err := m.processes.Snapshot(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to snapshot processes for positional-data arbitration")
		return
	}

	programs := make([]ProgramEntry, len(entries))
	for i, entry := range entries {
		programs[i] = ProgramEntry{Name: entry.Name, PID: entry.PID}
	}

	for _, plug := range candidates {
		result := plug.InitPositionalData(programs)
		m.metrics.PositionalArbitrationTotal.WithLabelValues(result.String()).Inc()

		switch result {
		case PositionalOK:
			m.activeMu.Lock()
			if m.active == nil {
				m.active = plug
				m.metrics.ActivePositionalPlugin.Set(float64(plug.ID()))
				m.activeMu.Unlock()
				m.pluginLog(plug).Info("Plugin is now the active positional-data source")
				return
			}
			// Another goroutine won the slot while we were offering;
			// this plugin must not stay attached.
			m.activeMu.Unlock()
			plug.ShutdownPositionalData()
			return
		case PositionalPermError:
			m.pluginLog(plug).Warn("Plugin reported a permanent positional-data error; disabled until re-enabled")
		case PositionalTempError:
			// Retry on a later arbitration pass.
		}
	}

	// No candidate accepted this cycle.
	m.positional.Reset()
}

// OnServerConnected notifies every loaded plugin of a new connection.
func (m *Manager) OnServerConnected(connection ConnectionID) {
	m.metrics.EventFanoutTotal.WithLabelValues("server_connected").Inc()
	for _, plug := range m.loadedPlugins() {
		plug.OnServerConnected(connection)
	}
}

// OnServerDisconnected notifies every loaded plugin of a closed
// connection.
func (m *Manager) OnServerDisconnected(connection ConnectionID) {
	m.metrics.EventFanoutTotal.WithLabelValues("server_disconnected").Inc()
	for _, plug := range m.loadedPlugins() {
		plug.OnServerDisconnected(connection)
	}
}

// OnChannelEntered notifies every loaded plugin that a user entered a
// channel.
func (m *Manager) OnChannelEntered(connection ConnectionID, user UserID, previous, current ChannelID) {
	m.metrics.EventFanoutTotal.WithLabelValues("channel_entered").Inc()
	for _, plug := range m.loadedPlugins() {
		plug.OnChannelEntered(connection, user, previous, current)
	}
}

// OnChannelExited notifies every loaded plugin that a user left a
// channel.
func (m *Manager) OnChannelExited(connection ConnectionID, user UserID, channel ChannelID) {
	m.metrics.EventFanoutTotal.WithLabelValues("channel_exited").Inc()
	for _, plug := range m.loadedPlugins() {
		plug.OnChannelExited(connection, user, channel)
	}
}

// OnUserTalkingStateChanged notifies every loaded plugin of a
// talking-state change.
func (m *Manager) OnUserTalkingStateChanged(connection ConnectionID, user UserID, state TalkingState) {
	m.metrics.EventFanoutTotal.WithLabelValues("talking_state").Inc()
	for _, plug := range m.loadedPlugins() {
		plug.OnUserTalkingStateChanged(connection, user, state)
	}
}

// OnReceiveData offers a plugin data blob to loaded plugins in
// ascending ID order. Delivery stops at the first plugin that claims to
// have handled the data. The return value reports whether any plugin
// did. Stopping at the first handler is a deliberate behavioral
// contract: a data kind is owned by exactly one plugin.
func (m *Manager) OnReceiveData(connection ConnectionID, sender UserID, data []byte, dataID string) bool {
	m.metrics.EventFanoutTotal.WithLabelValues("receive_data").Inc()
	for _, plug := range m.loadedPlugins() {
		if plug.OnReceiveData(connection, sender, data, dataID) {
			return true
		}
	}
	return false
}

// OnAudioInput runs the microphone buffer through every loaded plugin
// in ascending ID order. Plugins form a sequential pipeline: each one
// sees the buffer as possibly already mutated by its predecessors, and
// every plugin with the hook is always invoked. The return value
// reports whether any plugin mutated the buffer.
func (m *Manager) OnAudioInput(pcm []int16, sampleCount uint32, channelCount uint16, isSpeech bool) bool {
	m.metrics.AudioPipelineFrames.WithLabelValues("input").Inc()

	modified := false
	for _, plug := range m.loadedPlugins() {
		if plug.OnAudioInput(pcm, sampleCount, channelCount, isSpeech) {
			modified = true
		}
	}
	return modified
}

// OnAudioSourceFetched runs a decoded per-user buffer through the
// plugin pipeline. Semantics match OnAudioInput.
func (m *Manager) OnAudioSourceFetched(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool {
	m.metrics.AudioPipelineFrames.WithLabelValues("source_fetched").Inc()

	modified := false
	for _, plug := range m.loadedPlugins() {
		if plug.OnAudioSourceFetched(pcm, sampleCount, channelCount, isSpeech, user) {
			modified = true
		}
	}
	return modified
}

// OnAudioSourceProcessed runs a host-processed per-user buffer through
// the plugin pipeline. Semantics match OnAudioInput.
func (m *Manager) OnAudioSourceProcessed(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool {
	m.metrics.AudioPipelineFrames.WithLabelValues("source_processed").Inc()

	modified := false
	for _, plug := range m.loadedPlugins() {
		if plug.OnAudioSourceProcessed(pcm, sampleCount, channelCount, isSpeech, user) {
			modified = true
		}
	}
	return modified
}

// OnAudioOutputAboutToPlay runs the mixed output buffer through the
// plugin pipeline just before playback. Semantics match OnAudioInput.
func (m *Manager) OnAudioOutputAboutToPlay(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool) bool {
	m.metrics.AudioPipelineFrames.WithLabelValues("output").Inc()

	modified := false
	for _, plug := range m.loadedPlugins() {
		if plug.OnAudioOutputAboutToPlay(pcm, sampleCount, channelCount, isSpeech) {
			modified = true
		}
	}
	return modified
}

// StartPolling schedules the positional-data tick at the configured
// interval.
func (m *Manager) StartPolling() error {
	if m.cron != nil {
		return fmt.Errorf("polling already started")
	}

	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every "+m.pollInterval.String(), func() {
		m.PositionalDataTick(context.Background())
	})
	if err != nil {
		m.cron = nil
		return fmt.Errorf("failed to schedule positional polling: %w", err)
	}

	m.cron.Start()
	m.log.Infof("Positional-data polling every %v", m.pollInterval)
	return nil
}

// StopPolling stops the poll loop, waiting for a running tick to
// finish.
func (m *Manager) StopPolling() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}

// Watch rescans whenever a library file appears in, changes in or
// disappears from one of the plugin directories. Events are debounced
// so a copy-in-progress triggers a single onChange. Watch returns after
// starting the watcher goroutine; it stops when ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		onChange = m.RescanPlugins
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create directory watcher: %w", err)
	}

	watched := 0
	for _, dir := range []string{m.systemDir, m.userDir} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.log.WithError(err).Warnf("Not watching plugin directory %s", dir)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return fmt.Errorf("no plugin directory could be watched")
	}

	m.watcherMu.Lock()
	m.watcher = watcher
	m.watcherMu.Unlock()

	go func() {
		defer watcher.Close()

		const debounce = 500 * time.Millisecond
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !IsLibraryFile(event.Name) {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.WithError(err).Warn("Plugin directory watcher error")

			case <-timerC:
				timer = nil
				timerC = nil
				m.log.Info("Plugin directory changed, rescanning")
				onChange()
			}
		}
	}()

	return nil
}

// Close stops polling and watching, shuts down every plugin and drains
// outstanding host allocations.
func (m *Manager) Close() error {
	m.StopPolling()

	m.watcherMu.Lock()
	m.watcher = nil
	m.watcherMu.Unlock()

	m.ClearPlugins()
	m.curator.DrainAll()
	return nil
}
