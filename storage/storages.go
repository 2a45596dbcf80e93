package storage

import (
	"fmt"
	"sync"
)

// A Factory creates a storage engine of its type for the given
// database name at the given location.
type Factory func(name, location string) (Interface, error)

var (
	factories     = make(map[string]Factory)
	factoriesLock sync.Mutex
)

// Register registers a storage type under a scheme name ("memory",
// "plocal", ...).
func Register(scheme string, factory Factory) error {
	factoriesLock.Lock()
	defer factoriesLock.Unlock()

	if _, ok := factories[scheme]; ok {
		return fmt.Errorf("storage factory %q already registered", scheme)
	}
	factories[scheme] = factory
	return nil
}

// New builds an unopened storage engine of the given type.
func New(scheme, name, location string) (Interface, error) {
	factoriesLock.Lock()
	defer factoriesLock.Unlock()

	factory, ok := factories[scheme]
	if !ok {
		return nil, fmt.Errorf("storage of this type (%s) does not exist", scheme)
	}
	return factory(name, location)
}

// Schemes lists the registered storage types.
func Schemes() []string {
	factoriesLock.Lock()
	defer factoriesLock.Unlock()

	schemes := make([]string, 0, len(factories))
	for scheme := range factories {
		schemes = append(schemes, scheme)
	}
	return schemes
}
