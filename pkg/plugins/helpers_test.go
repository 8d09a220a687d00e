package plugins

// Shared test doubles: an in-memory Library backed by a symbol map, a
// canned process resolver and constructors for function-table symbol
// sets. Tests compose these instead of loading real shared objects.

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/timbrevoice/timbre/pkg/observability"
	"github.com/timbrevoice/timbre/pkg/procsnap"
)

// fakeLibrary implements Library with a plain symbol map.
type fakeLibrary struct {
	path    string
	symbols map[string]any
	closed  bool
}

func newFakeLibrary(path string, symbols map[string]any) *fakeLibrary {
	return &fakeLibrary{path: path, symbols: symbols}
}

func (l *fakeLibrary) Lookup(name string) (any, error) {
	sym, ok := l.symbols[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found in %s", name, l.path)
	}
	return sym, nil
}

func (l *fakeLibrary) Path() string { return l.path }

func (l *fakeLibrary) Close() error {
	l.closed = true
	return nil
}

// fakeProcesses implements procsnap.Resolver with canned entries.
type fakeProcesses struct {
	entries []procsnap.Entry
	err     error
	calls   int
}

func (f *fakeProcesses) Snapshot(context.Context) ([]procsnap.Entry, error) {
	f.calls++
	return f.entries, f.err
}

// modernSymbols returns the mandatory entry-point set for a plugin
// reporting the given name.
func modernSymbols(name string) map[string]any {
	return map[string]any{
		symInit:                 func() ErrorCode { return ErrorCodeOK },
		symShutdown:             func() {},
		symGetName:              func() string { return name },
		symGetAPIVersion:        func() Version { return CurrentAPIVersion },
		symRegisterAPIFunctions: func(*HostAPI) {},
	}
}

// withPositional adds a positional triad answering init offers with the
// given result and fetches with the given frame.
func withPositional(symbols map[string]any, result PositionalResult, frame PositionalFrame) map[string]any {
	symbols[symInitPositionalData] = func([]ProgramEntry) PositionalResult { return result }
	symbols[symFetchPositionalData] = func(out *PositionalFrame) bool {
		*out = frame
		return true
	}
	symbols[symShutdownPositionalData] = func() {}
	symbols[symGetPluginFeatures] = func() Feature { return FeaturePositional }
	return symbols
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func newTestManager(t *testing.T, processes procsnap.Resolver) *Manager {
	t.Helper()

	manager, err := NewManager(ManagerOptions{
		HostVersion: Version{Major: 1, Minor: 5, Patch: 0},
		Processes:   processes,
		Logger:      discardLogger(),
		Metrics:     newTestMetrics(),
	})
	require.NoError(t, err)
	return manager
}

// addModernPlugin registers a modern plugin built from symbols and
// loads it.
func addModernPlugin(t *testing.T, manager *Manager, name string, symbols map[string]any) *Plugin {
	t.Helper()

	plug, err := manager.AddLibrary(newFakeLibrary(name+".so", symbols))
	require.NoError(t, err)
	require.NoError(t, manager.LoadPlugin(plug.ID()))
	return plug
}
