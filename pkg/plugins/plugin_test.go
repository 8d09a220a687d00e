package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlugin(t *testing.T) {
	t.Run("assigns unique nonzero IDs", func(t *testing.T) {
		ids := NewIDAllocator()

		first, err := NewPlugin(newFakeLibrary("a.so", modernSymbols("a")), ids)
		require.NoError(t, err)
		second, err := NewPlugin(newFakeLibrary("b.so", modernSymbols("b")), ids)
		require.NoError(t, err)

		assert.NotZero(t, first.ID())
		assert.NotZero(t, second.ID())
		assert.Less(t, first.ID(), second.ID())
		assert.True(t, first.IsValid())
		assert.False(t, first.IsLoaded())
		assert.False(t, first.IsLegacy())
	})

	t.Run("caller keeps library on failure", func(t *testing.T) {
		lib := newFakeLibrary("broken.so", map[string]any{})

		_, err := NewPlugin(lib, NewIDAllocator())
		require.Error(t, err)
		assert.False(t, lib.closed)
	})
}

func TestNewLegacyPlugin(t *testing.T) {
	lib := newFakeLibrary("old.so", legacySymbols(validLegacyDescriptor()))

	plug, err := NewLegacyPlugin(lib, NewIDAllocator())
	require.NoError(t, err)

	assert.True(t, plug.IsLegacy())
	assert.Equal(t, "oldgame", plug.Name())
	assert.True(t, plug.HasPositionalData())
}

func TestNewBuiltInPlugin(t *testing.T) {
	t.Run("accepts complete table", func(t *testing.T) {
		table := FunctionTable{
			Init:                 func() ErrorCode { return ErrorCodeOK },
			Shutdown:             func() {},
			GetName:              func() string { return "builtin" },
			GetAPIVersion:        func() Version { return CurrentAPIVersion },
			RegisterAPIFunctions: func(*HostAPI) {},
		}

		plug, err := NewBuiltInPlugin(table, NewIDAllocator())
		require.NoError(t, err)
		assert.True(t, plug.IsBuiltIn())
		assert.Empty(t, plug.Path())
	})

	t.Run("rejects incomplete table", func(t *testing.T) {
		_, err := NewBuiltInPlugin(FunctionTable{}, NewIDAllocator())
		require.Error(t, err)
	})
}

func TestPluginInit(t *testing.T) {
	t.Run("runs handshake in order", func(t *testing.T) {
		var calls []string
		var registeredID uint32
		var gotHost, gotAPI, gotMin Version

		symbols := modernSymbols("handshake")
		symbols[symSetHostInfo] = func(host, api, min Version) {
			calls = append(calls, "SetHostInfo")
			gotHost, gotAPI, gotMin = host, api, min
		}
		symbols[symRegisterAPIFunctions] = func(*HostAPI) { calls = append(calls, "RegisterAPIFunctions") }
		symbols[symInit] = func() ErrorCode {
			calls = append(calls, "Init")
			return ErrorCodeOK
		}
		symbols[symRegisterPluginID] = func(id uint32) {
			calls = append(calls, "RegisterPluginID")
			registeredID = id
		}

		plug, err := NewPlugin(newFakeLibrary("handshake.so", symbols), NewIDAllocator())
		require.NoError(t, err)

		hostVersion := Version{Major: 1, Minor: 5, Patch: 0}
		api := &HostAPI{}
		assert.Equal(t, ErrorCodeOK, plug.Init(hostVersion, api))

		assert.Equal(t, []string{"SetHostInfo", "RegisterAPIFunctions", "Init", "RegisterPluginID"}, calls)
		assert.Equal(t, plug.ID(), registeredID)
		assert.Equal(t, hostVersion, gotHost)
		assert.Equal(t, CurrentAPIVersion, gotAPI)
		assert.Equal(t, MinimumAPIVersion, gotMin)
		assert.True(t, plug.IsLoaded())
	})

	t.Run("second init is a no-op success", func(t *testing.T) {
		initCalls := 0
		symbols := modernSymbols("once")
		symbols[symInit] = func() ErrorCode {
			initCalls++
			return ErrorCodeOK
		}

		plug, err := NewPlugin(newFakeLibrary("once.so", symbols), NewIDAllocator())
		require.NoError(t, err)

		assert.Equal(t, ErrorCodeOK, plug.Init(Version{}, nil))
		assert.Equal(t, ErrorCodeOK, plug.Init(Version{}, nil))
		assert.Equal(t, 1, initCalls)
	})

	t.Run("failing init entry point still marks the plugin loaded", func(t *testing.T) {
		symbols := modernSymbols("failing")
		symbols[symInit] = func() ErrorCode { return ErrorCodeGenericError }

		plug, err := NewPlugin(newFakeLibrary("failing.so", symbols), NewIDAllocator())
		require.NoError(t, err)

		assert.Equal(t, ErrorCodeGenericError, plug.Init(Version{}, nil))
		assert.True(t, plug.IsLoaded())
	})
}

func TestPluginShutdown(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		shutdowns := 0
		symbols := modernSymbols("down")
		symbols[symShutdown] = func() { shutdowns++ }

		plug, err := NewPlugin(newFakeLibrary("down.so", symbols), NewIDAllocator())
		require.NoError(t, err)

		plug.Shutdown() // not loaded, no-op
		assert.Equal(t, 0, shutdowns)

		plug.Init(Version{}, nil)
		plug.Shutdown()
		plug.Shutdown()
		assert.Equal(t, 1, shutdowns)
		assert.False(t, plug.IsLoaded())
	})

	t.Run("deactivates positional data before shutdown", func(t *testing.T) {
		var calls []string
		symbols := withPositional(modernSymbols("pos"), PositionalOK, PositionalFrame{})
		symbols[symShutdownPositionalData] = func() { calls = append(calls, "ShutdownPositionalData") }
		symbols[symShutdown] = func() { calls = append(calls, "Shutdown") }

		plug, err := NewPlugin(newFakeLibrary("pos.so", symbols), NewIDAllocator())
		require.NoError(t, err)
		plug.Init(Version{}, nil)
		plug.EnablePositionalData(true)
		require.Equal(t, PositionalOK, plug.InitPositionalData(nil))
		require.True(t, plug.IsPositionalDataActive())

		plug.Shutdown()

		assert.Equal(t, []string{"ShutdownPositionalData", "Shutdown"}, calls)
		assert.False(t, plug.IsPositionalDataActive())
	})
}

func TestPluginClose(t *testing.T) {
	lib := newFakeLibrary("close.so", modernSymbols("close"))
	plug, err := NewPlugin(lib, NewIDAllocator())
	require.NoError(t, err)
	plug.Init(Version{}, nil)

	require.NoError(t, plug.Close())
	assert.True(t, lib.closed)
	assert.False(t, plug.IsLoaded())
}

func TestPluginNeutralDefaults(t *testing.T) {
	plug, err := NewPlugin(newFakeLibrary("bare.so", modernSymbols("bare")), NewIDAllocator())
	require.NoError(t, err)

	assert.Equal(t, "bare", plug.Name())
	assert.Equal(t, "Unknown", plug.Author())
	assert.Equal(t, "No description provided", plug.Description())
	assert.Equal(t, Version{}, plug.Version())
	assert.Equal(t, FeatureNone, plug.Features())
	assert.False(t, plug.HasUpdate())
	assert.Empty(t, plug.UpdateDownloadURL())
}

func TestPluginDeactivateFeatures(t *testing.T) {
	t.Run("without entry point nothing deactivates", func(t *testing.T) {
		plug, err := NewPlugin(newFakeLibrary("nofeat.so", modernSymbols("nofeat")), NewIDAllocator())
		require.NoError(t, err)

		request := FeaturePositional | FeatureAudio
		assert.Equal(t, request, plug.DeactivateFeatures(request))
	})

	t.Run("plugin reports remaining subset", func(t *testing.T) {
		symbols := modernSymbols("feat")
		symbols[symDeactivateFeatures] = func(request Feature) Feature {
			// Can drop positional, refuses to drop audio.
			return request &^ FeaturePositional
		}

		plug, err := NewPlugin(newFakeLibrary("feat.so", symbols), NewIDAllocator())
		require.NoError(t, err)

		assert.Equal(t, FeatureAudio, plug.DeactivateFeatures(FeaturePositional|FeatureAudio))
		assert.Equal(t, FeatureNone, plug.DeactivateFeatures(FeaturePositional))
	})
}

func TestPluginPositionalLifecycle(t *testing.T) {
	newPositionalPlugin := func(t *testing.T, result PositionalResult) *Plugin {
		t.Helper()
		symbols := withPositional(modernSymbols("pos"), result, PositionalFrame{})
		plug, err := NewPlugin(newFakeLibrary("pos.so", symbols), NewIDAllocator())
		require.NoError(t, err)
		plug.Init(Version{}, nil)
		plug.EnablePositionalData(true)
		return plug
	}

	t.Run("usable requires loaded, enabled, triad and no latch", func(t *testing.T) {
		plug := newPositionalPlugin(t, PositionalOK)
		assert.True(t, plug.PositionalDataUsable())

		plug.EnablePositionalData(false)
		assert.False(t, plug.PositionalDataUsable())

		plug.EnablePositionalData(true)
		plug.Shutdown()
		assert.False(t, plug.PositionalDataUsable())
	})

	t.Run("OK activates", func(t *testing.T) {
		plug := newPositionalPlugin(t, PositionalOK)

		assert.Equal(t, PositionalOK, plug.InitPositionalData(nil))
		assert.True(t, plug.IsPositionalDataActive())
	})

	t.Run("temporary error does not latch", func(t *testing.T) {
		plug := newPositionalPlugin(t, PositionalTempError)

		assert.Equal(t, PositionalTempError, plug.InitPositionalData(nil))
		assert.False(t, plug.IsPositionalDataActive())
		assert.True(t, plug.PositionalDataUsable())
	})

	t.Run("permanent error latches until re-enabled", func(t *testing.T) {
		plug := newPositionalPlugin(t, PositionalPermError)

		assert.Equal(t, PositionalPermError, plug.InitPositionalData(nil))
		assert.False(t, plug.PositionalDataUsable())

		// Disabling alone does not reset the latch.
		plug.EnablePositionalData(false)
		assert.False(t, plug.PositionalDataUsable())

		// An explicit re-enable does.
		plug.EnablePositionalData(true)
		assert.True(t, plug.PositionalDataUsable())
	})

	t.Run("offer without the full triad fails permanently", func(t *testing.T) {
		symbols := modernSymbols("partial")
		symbols[symFetchPositionalData] = func(*PositionalFrame) bool { return true }
		symbols[symShutdownPositionalData] = func() {}

		plug, err := NewPlugin(newFakeLibrary("partial.so", symbols), NewIDAllocator())
		require.NoError(t, err)
		plug.Init(Version{}, nil)
		plug.EnablePositionalData(true)

		assert.Equal(t, PositionalPermError, plug.InitPositionalData(nil))
		assert.False(t, plug.PositionalDataUsable())
	})

	t.Run("offer to unloaded plugin fails permanently", func(t *testing.T) {
		plug := newPositionalPlugin(t, PositionalOK)
		plug.Shutdown()

		assert.Equal(t, PositionalPermError, plug.InitPositionalData(nil))
	})

	t.Run("fetch zeroes frame when plugin gives up", func(t *testing.T) {
		healthy := true
		symbols := withPositional(modernSymbols("pos"), PositionalOK, PositionalFrame{})
		symbols[symFetchPositionalData] = func(out *PositionalFrame) bool {
			if healthy {
				out.Context = "arena"
				out.AvatarPos = Vector3D{X: 1}
				return true
			}
			*out = PositionalFrame{}
			return false
		}

		plug, err := NewPlugin(newFakeLibrary("pos.so", symbols), NewIDAllocator())
		require.NoError(t, err)
		plug.Init(Version{}, nil)
		plug.EnablePositionalData(true)
		require.Equal(t, PositionalOK, plug.InitPositionalData(nil))

		var frame PositionalFrame
		require.True(t, plug.FetchPositionalData(&frame))
		assert.Equal(t, "arena", frame.Context)

		healthy = false
		frame = PositionalFrame{Context: "stale"}
		require.False(t, plug.FetchPositionalData(&frame))
		assert.Equal(t, PositionalFrame{}, frame)
	})
}

func TestPluginCallbackDefaults(t *testing.T) {
	plug, err := NewPlugin(newFakeLibrary("quiet.so", modernSymbols("quiet")), NewIDAllocator())
	require.NoError(t, err)
	plug.Init(Version{}, nil)

	// None of these entry points exist; dispatch must be a no-op.
	plug.OnServerConnected(1)
	plug.OnServerDisconnected(1)
	plug.OnChannelEntered(1, 2, -1, 3)
	plug.OnChannelExited(1, 2, 3)
	plug.OnUserTalkingStateChanged(1, 2, TalkingStateTalking)

	assert.False(t, plug.OnReceiveData(1, 2, []byte("x"), "kind"))
	assert.False(t, plug.OnAudioInput(nil, 0, 0, false))
	assert.False(t, plug.OnAudioSourceFetched(nil, 0, 0, false, 2))
	assert.False(t, plug.OnAudioSourceProcessed(nil, 0, 0, false, 2))
	assert.False(t, plug.OnAudioOutputAboutToPlay(nil, 0, 0, false))
}
