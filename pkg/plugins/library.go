package plugins

import (
	"fmt"
	"path/filepath"
	"plugin"
	"strings"
)

// SymbolResolver looks up a named entry point in a loaded library. The
// returned symbol is a typed function or variable; callers assert it to
// the expected signature. Tests substitute in-memory implementations.
type SymbolResolver interface {
	Lookup(name string) (any, error)
}

// Library is a loaded plugin binary. It owns the underlying handle;
// Close releases it. A Library is only ever owned by a single Plugin.
type Library interface {
	SymbolResolver
	Path() string
	Close() error
}

// nativeLibrary backs Library with the runtime's plugin loader.
type nativeLibrary struct {
	path string
	plug *plugin.Plugin
}

// OpenLibrary loads the dynamic library at path. A file that is not a
// valid plugin image fails here, before any plugin object exists.
func OpenLibrary(path string) (Library, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", path, err)
	}

	return &nativeLibrary{path: path, plug: plug}, nil
}

func (l *nativeLibrary) Lookup(name string) (any, error) {
	sym, err := l.plug.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("symbol %s not found in %s: %w", name, l.path, err)
	}
	return sym, nil
}

func (l *nativeLibrary) Path() string {
	return l.path
}

// Close releases the library handle. The runtime keeps loaded plugins
// mapped for the lifetime of the process, so this only drops our
// reference; the entry points must not be called afterwards.
func (l *nativeLibrary) Close() error {
	l.plug = nil
	return nil
}

// libraryExtensions lists the filename suffixes recognized as loadable
// dynamic libraries during directory discovery.
var libraryExtensions = []string{".so", ".dylib", ".dll"}

// IsLibraryFile reports whether path looks like a loadable dynamic
// library. Discovery considers only such files.
func IsLibraryFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, known := range libraryExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// lookupAs resolves a symbol and asserts it to T, returning the zero
// value when the symbol is absent or has an unexpected type. This is
// the only place raw symbols are touched; everything past this point
// works with typed, nullable capabilities.
func lookupAs[T any](resolver SymbolResolver, name string) T {
	var zero T

	sym, err := resolver.Lookup(name)
	if err != nil {
		return zero
	}

	typed, ok := sym.(T)
	if !ok {
		return zero
	}
	return typed
}
