// Package plugins implements the client's plugin subsystem: discovery of
// plugin binaries, ABI negotiation, lifecycle management, positional-data
// arbitration and host-event fan-out.
//
// # Overview
//
// A plugin is a shared library exposing a known set of entry points. The
// Manager scans the configured plugin directories, negotiates an ABI for
// each binary (modern first, legacy as fallback) and keeps the resulting
// Plugin objects in a registry keyed by a session-unique ID.
//
// # Plugin System
//
// Plugin: one loaded binary with its resolved FunctionTable and lifecycle state
// Manager: registry, discovery, arbitration and event fan-out
// FunctionTable: typed, nullable entry points resolved from the library
// HostAPI: functions the host hands to plugins during initialization
// AllocationCurator: tracks host-owned memory handed across the boundary
//
// # ABI Negotiation
//
// Modern plugins export the five mandatory entry points (Init, Shutdown,
// GetName, GetAPIVersion, RegisterAPIFunctions) plus any optional ones.
// Legacy plugins export a single descriptor symbol; their positional
// entry points are adapted onto the modern table so the rest of the
// subsystem never branches on plugin age.
//
// # Positional Data
//
// At most one plugin feeds positional audio data at a time. When no
// plugin holds the active slot, each usable candidate is offered a
// snapshot of running programs in ascending ID order; the first to
// accept wins. The active plugin is then polled every tick until it
// reports it can no longer deliver, at which point it is shut down and
// arbitration starts over on the next tick.
//
// # Usage Example
//
// Discover and load plugins:
//
//	manager, err := plugins.NewManager(plugins.ManagerOptions{
//		SystemDir:   "/usr/lib/timbre/plugins",
//		UserDir:     filepath.Join(home, ".local/share/timbre/plugins"),
//		HostVersion: plugins.Version{Major: 1, Minor: 5, Patch: 0},
//		Metrics:     metrics,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	manager.RescanPlugins()
//	manager.LoadAllPlugins()
//
// # Related Packages
//
//   - pkg/procsnap: process snapshots offered during arbitration
//   - pkg/observability: logging and prometheus metrics
package plugins
