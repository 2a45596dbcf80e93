package serializer

import (
	"encoding/json"
)

// newJSONSerializer returns the serializer used for admin documents
// exchanged on the wire. Field access over this format goes through
// record.DocumentAccessor.
func newJSONSerializer() Serializer {
	return &jsonSerializer{}
}

type jsonSerializer struct{}

func (s *jsonSerializer) Name() string {
	return JSONName
}

func (s *jsonSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (s *jsonSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
