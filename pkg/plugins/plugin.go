package plugins

import (
	"fmt"
	"sync"
)

// Plugin is one loaded plugin library together with its resolved
// function table and lifecycle state. The same type backs both ABI
// generations; only the way the table was populated differs.
//
// All state is guarded by a per-plugin reader-writer lock: queries and
// callback dispatch take the read lock, lifecycle mutations take the
// write lock. Plugin-supplied code runs synchronously on the calling
// thread; there is no timeout for misbehaving plugins.
type Plugin struct {
	mu sync.RWMutex

	id      uint32
	path    string
	lib     Library
	table   FunctionTable
	legacy  bool
	builtIn bool

	valid  bool
	loaded bool

	positionalEnabled    bool
	positionalActive     bool
	positionalPermDenied bool
}

// NewPlugin constructs a plugin from a library using the modern
// function-table ABI. On success the plugin takes ownership of lib; on
// failure no plugin object exists and the caller still owns lib.
func NewPlugin(lib Library, ids *IDAllocator) (*Plugin, error) {
	table, err := resolveFunctionTable(lib)
	if err != nil {
		return nil, fmt.Errorf("not a plugin: %w", err)
	}

	return &Plugin{
		id:    ids.Next(),
		path:  lib.Path(),
		lib:   lib,
		table: table,
		valid: true,
	}, nil
}

// NewLegacyPlugin constructs a plugin from a library exporting the
// legacy struct-based ABI. Ownership semantics match NewPlugin.
func NewLegacyPlugin(lib Library, ids *IDAllocator) (*Plugin, error) {
	table, err := resolveLegacyFunctionTable(lib)
	if err != nil {
		return nil, fmt.Errorf("not a legacy plugin: %w", err)
	}

	return &Plugin{
		id:     ids.Next(),
		path:   lib.Path(),
		lib:    lib,
		table:  table,
		legacy: true,
		valid:  true,
	}, nil
}

// NewBuiltInPlugin constructs a plugin that has no backing file, e.g.
// an in-process reference plugin. The table must satisfy the mandatory
// contract.
func NewBuiltInPlugin(table FunctionTable, ids *IDAllocator) (*Plugin, error) {
	if err := table.validateMandatory(); err != nil {
		return nil, fmt.Errorf("built-in plugin table incomplete: %w", err)
	}
	table.enforcePositionalTriad()

	return &Plugin{
		id:      ids.Next(),
		table:   table,
		builtIn: true,
		valid:   true,
	}, nil
}

// ID returns the process-unique plugin ID. Never zero.
func (p *Plugin) ID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.id
}

// Path returns the filesystem path of the backing library. Empty for
// built-in plugins.
func (p *Plugin) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.path
}

// IsValid reports whether ABI negotiation succeeded.
func (p *Plugin) IsValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.valid
}

// IsLoaded reports whether Init has been called without a matching
// Shutdown.
func (p *Plugin) IsLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.loaded
}

// IsBuiltIn reports whether the plugin has no backing file.
func (p *Plugin) IsBuiltIn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.builtIn
}

// IsLegacy reports whether the plugin was resolved through the legacy
// ABI.
func (p *Plugin) IsLegacy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.legacy
}

// Init loads the plugin: it announces the host and API versions, hands
// over the host API, runs the plugin's init entry point and registers
// the host-assigned plugin ID so the plugin can self-identify in later
// host API calls. Calling Init on an already-loaded plugin is a no-op
// returning OK.
func (p *Plugin) Init(hostVersion Version, api *HostAPI) ErrorCode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return ErrorCodeOK
	}
	if !p.valid {
		return ErrorCodeGenericError
	}

	p.loaded = true

	if p.table.SetHostInfo != nil {
		p.table.SetHostInfo(hostVersion, CurrentAPIVersion, MinimumAPIVersion)
	}
	if api != nil && p.table.RegisterAPIFunctions != nil {
		p.table.RegisterAPIFunctions(api)
	}

	status := ErrorCodeOK
	if p.table.Init != nil {
		// If there is no init entry point nothing can have gone wrong
		// because nothing was called.
		status = p.table.Init()
	}

	if p.table.RegisterPluginID != nil {
		p.table.RegisterPluginID(p.id)
	}

	return status
}

// Shutdown unloads the plugin. It deactivates positional data first if
// it is active, then runs the plugin's shutdown entry point. Calling
// Shutdown on a plugin that is not loaded is a no-op.
func (p *Plugin) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownLocked()
}

func (p *Plugin) shutdownLocked() {
	if !p.loaded {
		return
	}

	p.loaded = false

	if p.positionalActive {
		p.shutdownPositionalDataLocked()
	}

	if p.table.Shutdown != nil {
		p.table.Shutdown()
	}
}

// Close shuts the plugin down if it is loaded and releases the library
// handle. The plugin must not be used afterwards.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownLocked()

	if p.lib != nil {
		err := p.lib.Close()
		p.lib = nil
		return err
	}
	return nil
}

// Name returns the plugin's self-reported name. Safe in any state.
func (p *Plugin) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetName != nil {
		return p.table.GetName()
	}
	return "Unknown plugin"
}

// Author returns the plugin's author or "Unknown".
func (p *Plugin) Author() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetAuthor != nil {
		return p.table.GetAuthor()
	}
	return "Unknown"
}

// Description returns the plugin's description or a placeholder.
func (p *Plugin) Description() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetDescription != nil {
		return p.table.GetDescription()
	}
	return "No description provided"
}

// Version returns the plugin's own version, 0.0.0 when not reported.
func (p *Plugin) Version() Version {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetVersion != nil {
		return p.table.GetVersion()
	}
	return Version{}
}

// APIVersion returns the plugin API version the plugin was built
// against, or UnknownVersion when unavailable.
func (p *Plugin) APIVersion() Version {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetAPIVersion != nil {
		return p.table.GetAPIVersion()
	}
	return UnknownVersion
}

// Features returns the feature bitset the plugin advertises.
func (p *Plugin) Features() Feature {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetFeatures != nil {
		return p.table.GetFeatures()
	}
	return FeatureNone
}

// DeactivateFeatures asks the plugin to relinquish the requested
// features. The return value is the subset of request that could NOT
// be deactivated; callers must treat any bit still set as "feature
// remains active". A plugin without the entry point can deactivate
// nothing, so the request is returned unchanged.
func (p *Plugin) DeactivateFeatures(request Feature) Feature {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.DeactivateFeatures != nil {
		return p.table.DeactivateFeatures(request)
	}
	return request
}

// HasPositionalData reports whether the plugin implements the complete
// positional triad.
func (p *Plugin) HasPositionalData() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.table.HasPositionalData()
}

// IsPositionalDataEnabled reports whether the user allows this plugin
// to provide positional data.
func (p *Plugin) IsPositionalDataEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.positionalEnabled
}

// EnablePositionalData sets the user's enablement of this plugin as a
// positional-data source. Enabling clears a previous permanent-failure
// latch: an explicit re-enable is the only way a permanently failed
// plugin is offered again.
func (p *Plugin) EnablePositionalData(enable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positionalEnabled = enable
	if enable {
		p.positionalPermDenied = false
	}
}

// IsPositionalDataActive reports whether this plugin is currently the
// active positional-data source.
func (p *Plugin) IsPositionalDataActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.positionalActive
}

// PositionalDataUsable reports whether arbitration may offer this
// plugin the positional-data slot.
func (p *Plugin) PositionalDataUsable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.valid && p.loaded && p.positionalEnabled && !p.positionalPermDenied && p.table.HasPositionalData()
}

// InitPositionalData offers the plugin the currently running programs
// and asks it to become the positional-data source. On OK the plugin
// becomes active and will be polled with FetchPositionalData. A
// permanent error latches the plugin out of arbitration until the user
// re-enables it. A plugin without the triad always fails permanently.
func (p *Plugin) InitPositionalData(programs []ProgramEntry) PositionalResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded || !p.table.HasPositionalData() {
		p.positionalPermDenied = true
		return PositionalPermError
	}

	result := p.table.InitPositionalData(programs)
	switch result {
	case PositionalOK:
		p.positionalActive = true
	case PositionalPermError:
		p.positionalPermDenied = true
	}

	return result
}

// FetchPositionalData asks the active plugin for one positional sample.
// It writes every field of out before returning. A false return means
// the plugin can no longer provide data; out is zeroed in that case.
func (p *Plugin) FetchPositionalData(out *PositionalFrame) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.FetchPositionalData == nil {
		*out = PositionalFrame{}
		return false
	}

	return p.table.FetchPositionalData(out)
}

// ShutdownPositionalData deactivates the plugin as the positional-data
// source. A no-op when the triad is absent.
func (p *Plugin) ShutdownPositionalData() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownPositionalDataLocked()
}

func (p *Plugin) shutdownPositionalDataLocked() {
	if p.table.ShutdownPositionalData == nil {
		return
	}

	p.positionalActive = false
	p.table.ShutdownPositionalData()
}

// OnServerConnected notifies the plugin of a new server connection.
func (p *Plugin) OnServerConnected(connection ConnectionID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnServerConnected != nil {
		p.table.OnServerConnected(connection)
	}
}

// OnServerDisconnected notifies the plugin of a closed server connection.
func (p *Plugin) OnServerDisconnected(connection ConnectionID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnServerDisconnected != nil {
		p.table.OnServerDisconnected(connection)
	}
}

// OnChannelEntered notifies the plugin that a user entered a channel.
func (p *Plugin) OnChannelEntered(connection ConnectionID, user UserID, previous, current ChannelID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnChannelEntered != nil {
		p.table.OnChannelEntered(connection, user, previous, current)
	}
}

// OnChannelExited notifies the plugin that a user left a channel.
func (p *Plugin) OnChannelExited(connection ConnectionID, user UserID, channel ChannelID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnChannelExited != nil {
		p.table.OnChannelExited(connection, user, channel)
	}
}

// OnUserTalkingStateChanged notifies the plugin of a talking-state change.
func (p *Plugin) OnUserTalkingStateChanged(connection ConnectionID, user UserID, state TalkingState) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnUserTalkingStateChanged != nil {
		p.table.OnUserTalkingStateChanged(connection, user, state)
	}
}

// OnReceiveData offers the plugin a data blob addressed by dataID that
// another plugin sent through the host. The return value reports
// whether this plugin handled the data.
func (p *Plugin) OnReceiveData(connection ConnectionID, sender UserID, data []byte, dataID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnReceiveData != nil {
		return p.table.OnReceiveData(connection, sender, data, dataID)
	}
	return false
}

// OnAudioInput hands the plugin the microphone PCM buffer. The return
// value reports whether the plugin mutated the buffer in place.
func (p *Plugin) OnAudioInput(pcm []int16, sampleCount uint32, channelCount uint16, isSpeech bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnAudioInput != nil {
		return p.table.OnAudioInput(pcm, sampleCount, channelCount, isSpeech)
	}
	return false
}

// OnAudioSourceFetched hands the plugin a decoded per-user audio buffer.
func (p *Plugin) OnAudioSourceFetched(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnAudioSourceFetched != nil {
		return p.table.OnAudioSourceFetched(pcm, sampleCount, channelCount, isSpeech, user)
	}
	return false
}

// OnAudioSourceProcessed hands the plugin a per-user audio buffer after
// host-side processing.
func (p *Plugin) OnAudioSourceProcessed(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnAudioSourceProcessed != nil {
		return p.table.OnAudioSourceProcessed(pcm, sampleCount, channelCount, isSpeech, user)
	}
	return false
}

// OnAudioOutputAboutToPlay hands the plugin the mixed output buffer
// just before playback.
func (p *Plugin) OnAudioOutputAboutToPlay(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.OnAudioOutputAboutToPlay != nil {
		return p.table.OnAudioOutputAboutToPlay(pcm, sampleCount, channelCount, isSpeech)
	}
	return false
}

// HasUpdate reports whether the plugin claims an update is available.
// The update download flow itself is disabled; this is informational.
func (p *Plugin) HasUpdate() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.HasUpdate != nil {
		return p.table.HasUpdate()
	}
	return false
}

// UpdateDownloadURL returns the plugin's self-reported update URL, or
// an empty string.
func (p *Plugin) UpdateDownloadURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.table.GetUpdateDownloadURL != nil {
		return p.table.GetUpdateDownloadURL()
	}
	return ""
}
