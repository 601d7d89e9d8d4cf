// Registry of available CAN driver adapters.
// Adapters register themselves by kind so configuration files and tools can
// build drivers by name without importing every backend.
package driver

import (
	"fmt"
	"sort"
	"sync"

	canhal "github.com/openagritech/canhal"
)

// Factory creates a driver for the given endpoint,
// e.g. "can0" for socketcan or "localhost:18888" for virtualcan
type Factory func(endpoint string) (canhal.Driver, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register a new CAN driver kind.
// This should be called inside an init() function of the adapter package
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = factory
}

// New creates a driver of the given kind.
// Currently supported : socketcan, virtual, replay
func New(kind string, endpoint string) (canhal.Driver, error) {
	mu.Lock()
	factory, ok := factories[kind]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver : %v", kind)
	}
	return factory(endpoint)
}

// Kinds returns the registered driver kinds, sorted
func Kinds() []string {
	mu.Lock()
	defer mu.Unlock()
	kinds := make([]string, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
