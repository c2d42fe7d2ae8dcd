package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MeKo-Tech/renderdiff/internal/scene"
)

// DefaultBackend is the pure-Go engine in this package.
const DefaultBackend = "vector"

// Constructor builds a scene for a backend.
type Constructor func(opts scene.Options, logger *slog.Logger) (scene.Scene, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Constructor{}
)

func init() {
	RegisterBackend(DefaultBackend, func(opts scene.Options, logger *slog.Logger) (scene.Scene, error) {
		m, err := New(opts, Config{Logger: logger})
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// RegisterBackend makes a backend selectable by name. Registering a name
// twice replaces the earlier constructor.
func RegisterBackend(name string, c Constructor) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = c
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory returns a scene factory for the named backend.
func NewFactory(name string, logger *slog.Logger) (scene.Factory, error) {
	backendsMu.RLock()
	c, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q (available: %v): %w", name, Backends(), scene.ErrUnknownBackend)
	}
	return func(opts scene.Options) (scene.Scene, error) {
		return c(opts, logger)
	}, nil
}
