package serializer

import (
	"github.com/vmihailenco/msgpack/v5"
)

// newMsgPackSerializer returns the default binary document serializer.
func newMsgPackSerializer() Serializer {
	return &msgPackSerializer{}
}

type msgPackSerializer struct{}

func (s *msgPackSerializer) Name() string {
	return MsgPackName
}

func (s *msgPackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (s *msgPackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
