// Package serializer holds the named record-serializer registry. A
// session negotiates a serializer by name during the connection
// handshake; record content and exception blobs are encoded with it.
package serializer

import (
	"errors"
	"fmt"
	"sync"
)

// Serializer names.
const (
	// MsgPackName is the default record format.
	MsgPackName = "mp"
	// CBORName is the alternate binary record format.
	CBORName = "cbor"
	// JSONName is the format used by admin documents on the wire.
	JSONName = "json"

	// DefaultName is used when a client negotiates no serializer.
	DefaultName = MsgPackName
)

// ErrUnknownSerializer is returned when a session negotiates a name
// that was never registered.
var ErrUnknownSerializer = errors.New("record serializer not found")

// A Serializer converts between document values and their stored byte
// form.
type Serializer interface {
	// Name returns the registered serializer name.
	Name() string
	// Marshal encodes a value into record bytes.
	Marshal(v interface{}) ([]byte, error)
	// Unmarshal decodes record bytes into the given value.
	Unmarshal(data []byte, v interface{}) error
}

var (
	registry     = make(map[string]Serializer)
	registryLock sync.Mutex
)

// Register adds a serializer to the registry. Registering the same name
// twice fails.
func Register(s Serializer) error {
	registryLock.Lock()
	defer registryLock.Unlock()

	if _, ok := registry[s.Name()]; ok {
		return fmt.Errorf("serializer %q already registered", s.Name())
	}
	registry[s.Name()] = s
	return nil
}

// Get returns the serializer registered under name.
func Get(name string) (Serializer, error) {
	registryLock.Lock()
	defer registryLock.Unlock()

	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
	}
	return s, nil
}

// Default returns the default serializer.
func Default() Serializer {
	s, err := Get(DefaultName)
	if err != nil {
		panic(err)
	}
	return s
}

func init() {
	for _, s := range []Serializer{
		newMsgPackSerializer(),
		newCBORSerializer(),
		newJSONSerializer(),
	} {
		if err := Register(s); err != nil {
			panic(err)
		}
	}
}
