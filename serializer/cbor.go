package serializer

import (
	"github.com/fxamacker/cbor/v2"
)

// newCBORSerializer returns the alternate binary document serializer.
func newCBORSerializer() Serializer {
	return &cborSerializer{}
}

type cborSerializer struct{}

func (s *cborSerializer) Name() string {
	return CBORName
}

func (s *cborSerializer) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func (s *cborSerializer) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
