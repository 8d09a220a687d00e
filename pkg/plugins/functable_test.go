package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFunctionTable(t *testing.T) {
	t.Run("resolves mandatory set", func(t *testing.T) {
		lib := newFakeLibrary("ok.so", modernSymbols("EchoLocator"))

		table, err := resolveFunctionTable(lib)
		require.NoError(t, err)

		assert.NotNil(t, table.Init)
		assert.NotNil(t, table.Shutdown)
		assert.NotNil(t, table.GetName)
		assert.NotNil(t, table.GetAPIVersion)
		assert.NotNil(t, table.RegisterAPIFunctions)
		assert.Equal(t, "EchoLocator", table.GetName())
	})

	t.Run("missing mandatory entry point fails resolution", func(t *testing.T) {
		symbols := modernSymbols("broken")
		delete(symbols, symGetAPIVersion)
		lib := newFakeLibrary("broken.so", symbols)

		_, err := resolveFunctionTable(lib)
		require.Error(t, err)
		assert.Contains(t, err.Error(), symGetAPIVersion)
	})

	t.Run("missing mandatory set skips optional lookups", func(t *testing.T) {
		optionalLooked := false
		symbols := map[string]any{
			symGetVersion: func() Version {
				optionalLooked = true
				return Version{}
			},
		}
		lib := newFakeLibrary("empty.so", symbols)

		_, err := resolveFunctionTable(lib)
		require.Error(t, err)
		assert.False(t, optionalLooked)
	})

	t.Run("wrong symbol type degrades to absent", func(t *testing.T) {
		symbols := modernSymbols("typed")
		symbols[symGetAuthor] = "not a function"
		lib := newFakeLibrary("typed.so", symbols)

		table, err := resolveFunctionTable(lib)
		require.NoError(t, err)
		assert.Nil(t, table.GetAuthor)
	})

	t.Run("optional entry points are nil when absent", func(t *testing.T) {
		lib := newFakeLibrary("minimal.so", modernSymbols("minimal"))

		table, err := resolveFunctionTable(lib)
		require.NoError(t, err)

		assert.Nil(t, table.SetHostInfo)
		assert.Nil(t, table.GetVersion)
		assert.Nil(t, table.OnServerConnected)
		assert.Nil(t, table.OnAudioInput)
		assert.Nil(t, table.HasUpdate)
		assert.False(t, table.HasPositionalData())
	})
}

func TestPositionalTriadEnforcement(t *testing.T) {
	t.Run("complete triad is kept", func(t *testing.T) {
		symbols := withPositional(modernSymbols("pos"), PositionalOK, PositionalFrame{})
		lib := newFakeLibrary("pos.so", symbols)

		table, err := resolveFunctionTable(lib)
		require.NoError(t, err)

		assert.True(t, table.HasPositionalData())
		assert.NotNil(t, table.InitPositionalData)
		assert.NotNil(t, table.FetchPositionalData)
		assert.NotNil(t, table.ShutdownPositionalData)
	})

	t.Run("partial triad is dropped entirely", func(t *testing.T) {
		symbols := modernSymbols("partial")
		symbols[symInitPositionalData] = func([]ProgramEntry) PositionalResult { return PositionalOK }
		symbols[symFetchPositionalData] = func(*PositionalFrame) bool { return true }
		// ShutdownPositionalData deliberately missing.
		lib := newFakeLibrary("partial.so", symbols)

		table, err := resolveFunctionTable(lib)
		require.NoError(t, err)

		assert.False(t, table.HasPositionalData())
		assert.Nil(t, table.InitPositionalData)
		assert.Nil(t, table.FetchPositionalData)
		assert.Nil(t, table.ShutdownPositionalData)
	})
}

func TestIsLibraryFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "plugin.so", want: true},
		{path: "/usr/lib/plugins/echo.SO", want: true},
		{path: "plugin.dylib", want: true},
		{path: "plugin.dll", want: true},
		{path: "plugin.txt", want: false},
		{path: "plugin", want: false},
		{path: "plugin.so.txt", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLibraryFile(tt.path))
		})
	}
}

func TestLookupAs(t *testing.T) {
	lib := newFakeLibrary("lookup.so", map[string]any{
		"Greet":  func() string { return "hi" },
		"Number": 42,
	})

	t.Run("returns typed symbol", func(t *testing.T) {
		fn := lookupAs[func() string](lib, "Greet")
		require.NotNil(t, fn)
		assert.Equal(t, "hi", fn())
	})

	t.Run("zero value on missing symbol", func(t *testing.T) {
		assert.Nil(t, lookupAs[func() string](lib, "Absent"))
	})

	t.Run("zero value on type mismatch", func(t *testing.T) {
		assert.Nil(t, lookupAs[func() int](lib, "Number"))
	})
}
