package plugins

import "fmt"

// Entry point names a plugin library must export. If any of these is
// missing the library is not a plugin and resolution stops without
// touching the optional set.
const (
	symInit                 = "Init"
	symShutdown             = "Shutdown"
	symGetName              = "GetName"
	symGetAPIVersion        = "GetAPIVersion"
	symRegisterAPIFunctions = "RegisterAPIFunctions"
)

// Optional entry point names. Each missing one degrades to a documented
// neutral default in the Plugin accessors.
const (
	symSetHostInfo               = "SetHostInfo"
	symGetVersion                = "GetVersion"
	symGetAuthor                 = "GetAuthor"
	symGetDescription            = "GetDescription"
	symRegisterPluginID          = "RegisterPluginID"
	symGetPluginFeatures         = "GetPluginFeatures"
	symDeactivateFeatures        = "DeactivateFeatures"
	symInitPositionalData        = "InitPositionalData"
	symFetchPositionalData       = "FetchPositionalData"
	symShutdownPositionalData    = "ShutdownPositionalData"
	symOnServerConnected         = "OnServerConnected"
	symOnServerDisconnected      = "OnServerDisconnected"
	symOnChannelEntered          = "OnChannelEntered"
	symOnChannelExited           = "OnChannelExited"
	symOnUserTalkingStateChanged = "OnUserTalkingStateChanged"
	symOnReceiveData             = "OnReceiveData"
	symOnAudioInput              = "OnAudioInput"
	symOnAudioSourceFetched      = "OnAudioSourceFetched"
	symOnAudioSourceProcessed    = "OnAudioSourceProcessed"
	symOnAudioOutputAboutToPlay  = "OnAudioOutputAboutToPlay"
	symHasUpdate                 = "HasUpdate"
	symGetUpdateDownloadURL      = "GetUpdateDownloadURL"
)

// FunctionTable holds the resolved entry points of one plugin. Each
// field is a typed capability; a nil field means the plugin does not
// implement that entry point. Only the resolution code in this file and
// the legacy adapter populate tables; the Plugin methods are the only
// callers.
type FunctionTable struct {
	Init                 func() ErrorCode
	Shutdown             func()
	GetName              func() string
	GetAPIVersion        func() Version
	RegisterAPIFunctions func(api *HostAPI)

	SetHostInfo        func(hostVersion, apiVersion, minAPIVersion Version)
	GetVersion         func() Version
	GetAuthor          func() string
	GetDescription     func() string
	RegisterPluginID   func(id uint32)
	GetFeatures        func() Feature
	DeactivateFeatures func(request Feature) Feature

	InitPositionalData     func(programs []ProgramEntry) PositionalResult
	FetchPositionalData    func(out *PositionalFrame) bool
	ShutdownPositionalData func()

	OnServerConnected         func(connection ConnectionID)
	OnServerDisconnected      func(connection ConnectionID)
	OnChannelEntered          func(connection ConnectionID, user UserID, previous, current ChannelID)
	OnChannelExited           func(connection ConnectionID, user UserID, channel ChannelID)
	OnUserTalkingStateChanged func(connection ConnectionID, user UserID, state TalkingState)

	OnReceiveData func(connection ConnectionID, sender UserID, data []byte, dataID string) bool

	OnAudioInput             func(pcm []int16, sampleCount uint32, channelCount uint16, isSpeech bool) bool
	OnAudioSourceFetched     func(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool
	OnAudioSourceProcessed   func(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool, user UserID) bool
	OnAudioOutputAboutToPlay func(pcm []float32, sampleCount uint32, channelCount uint16, isSpeech bool) bool

	HasUpdate            func() bool
	GetUpdateDownloadURL func() string
}

// ProgramEntry is one running process offered to a plugin during
// positional-data initialization.
type ProgramEntry struct {
	Name string
	PID  uint64
}

// HasPositionalData reports whether the positional triad is available.
// Resolution guarantees all-or-nothing, so checking one field suffices.
func (t *FunctionTable) HasPositionalData() bool {
	return t.InitPositionalData != nil
}

// resolveFunctionTable resolves a plugin's entry points from a loaded
// library. The mandatory set is validated first; if any of it is
// missing an error is returned and no optional symbol is looked up.
func resolveFunctionTable(resolver SymbolResolver) (FunctionTable, error) {
	table := FunctionTable{
		Init:                 lookupAs[func() ErrorCode](resolver, symInit),
		Shutdown:             lookupAs[func()](resolver, symShutdown),
		GetName:              lookupAs[func() string](resolver, symGetName),
		GetAPIVersion:        lookupAs[func() Version](resolver, symGetAPIVersion),
		RegisterAPIFunctions: lookupAs[func(*HostAPI)](resolver, symRegisterAPIFunctions),
	}

	if err := table.validateMandatory(); err != nil {
		return FunctionTable{}, err
	}

	table.SetHostInfo = lookupAs[func(Version, Version, Version)](resolver, symSetHostInfo)
	table.GetVersion = lookupAs[func() Version](resolver, symGetVersion)
	table.GetAuthor = lookupAs[func() string](resolver, symGetAuthor)
	table.GetDescription = lookupAs[func() string](resolver, symGetDescription)
	table.RegisterPluginID = lookupAs[func(uint32)](resolver, symRegisterPluginID)
	table.GetFeatures = lookupAs[func() Feature](resolver, symGetPluginFeatures)
	table.DeactivateFeatures = lookupAs[func(Feature) Feature](resolver, symDeactivateFeatures)

	table.InitPositionalData = lookupAs[func([]ProgramEntry) PositionalResult](resolver, symInitPositionalData)
	table.FetchPositionalData = lookupAs[func(*PositionalFrame) bool](resolver, symFetchPositionalData)
	table.ShutdownPositionalData = lookupAs[func()](resolver, symShutdownPositionalData)

	table.OnServerConnected = lookupAs[func(ConnectionID)](resolver, symOnServerConnected)
	table.OnServerDisconnected = lookupAs[func(ConnectionID)](resolver, symOnServerDisconnected)
	table.OnChannelEntered = lookupAs[func(ConnectionID, UserID, ChannelID, ChannelID)](resolver, symOnChannelEntered)
	table.OnChannelExited = lookupAs[func(ConnectionID, UserID, ChannelID)](resolver, symOnChannelExited)
	table.OnUserTalkingStateChanged = lookupAs[func(ConnectionID, UserID, TalkingState)](resolver, symOnUserTalkingStateChanged)

	table.OnReceiveData = lookupAs[func(ConnectionID, UserID, []byte, string) bool](resolver, symOnReceiveData)

	table.OnAudioInput = lookupAs[func([]int16, uint32, uint16, bool) bool](resolver, symOnAudioInput)
	table.OnAudioSourceFetched = lookupAs[func([]float32, uint32, uint16, bool, UserID) bool](resolver, symOnAudioSourceFetched)
	table.OnAudioSourceProcessed = lookupAs[func([]float32, uint32, uint16, bool, UserID) bool](resolver, symOnAudioSourceProcessed)
	table.OnAudioOutputAboutToPlay = lookupAs[func([]float32, uint32, uint16, bool) bool](resolver, symOnAudioOutputAboutToPlay)

	table.HasUpdate = lookupAs[func() bool](resolver, symHasUpdate)
	table.GetUpdateDownloadURL = lookupAs[func() string](resolver, symGetUpdateDownloadURL)

	table.enforcePositionalTriad()

	return table, nil
}

// validateMandatory checks the mandatory entry-point set.
func (t *FunctionTable) validateMandatory() error {
	missing := make([]string, 0, 5)
	if t.Init == nil {
		missing = append(missing, symInit)
	}
	if t.Shutdown == nil {
		missing = append(missing, symShutdown)
	}
	if t.GetName == nil {
		missing = append(missing, symGetName)
	}
	if t.GetAPIVersion == nil {
		missing = append(missing, symGetAPIVersion)
	}
	if t.RegisterAPIFunctions == nil {
		missing = append(missing, symRegisterAPIFunctions)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing mandatory entry points: %v", missing)
	}
	return nil
}

// enforcePositionalTriad drops the positional entry points unless all
// three are implemented. Positional audio is all or nothing.
func (t *FunctionTable) enforcePositionalTriad() {
	complete := t.InitPositionalData != nil && t.FetchPositionalData != nil && t.ShutdownPositionalData != nil
	partial := t.InitPositionalData != nil || t.FetchPositionalData != nil || t.ShutdownPositionalData != nil

	if partial && !complete {
		t.InitPositionalData = nil
		t.FetchPositionalData = nil
		t.ShutdownPositionalData = nil
	}
}
