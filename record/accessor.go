package record

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ClassField is the document field carrying the declared class name.
const ClassField = "@class"

// A DocumentAccessor reads and writes fields of a JSON-encoded document
// without fully unmarshalling it. Admin documents exchanged on the wire
// (replication, cluster and command requests) use it, as does the
// restricted-access hook when it reads a document's permission fields.
type DocumentAccessor struct {
	data *[]byte
}

// NewDocumentAccessor wraps serialized document bytes.
func NewDocumentAccessor(data *[]byte) *DocumentAccessor {
	return &DocumentAccessor{data: data}
}

// Set sets the value identified by key, rejecting type changes of
// existing scalar fields.
func (da *DocumentAccessor) Set(key string, value interface{}) error {
	result := gjson.GetBytes(*da.data, key)
	if result.Exists() {
		switch value.(type) {
		case string:
			if result.Type != gjson.String {
				return fmt.Errorf("tried to set field %s (%s) to a %T value", key, result.Type.String(), value)
			}
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			if result.Type != gjson.Number {
				return fmt.Errorf("tried to set field %s (%s) to a %T value", key, result.Type.String(), value)
			}
		case bool:
			if result.Type != gjson.True && result.Type != gjson.False {
				return fmt.Errorf("tried to set field %s (%s) to a %T value", key, result.Type.String(), value)
			}
		}
	}

	updated, err := sjson.SetBytes(*da.data, key, value)
	if err != nil {
		return err
	}
	*da.data = updated
	return nil
}

// GetString returns the string found by the given key and whether it
// could be extracted.
func (da *DocumentAccessor) GetString(key string) (value string, ok bool) {
	result := gjson.GetBytes(*da.data, key)
	if !result.Exists() || result.Type != gjson.String {
		return "", false
	}
	return result.String(), true
}

// GetInt returns the integer found by the given key and whether it
// could be extracted.
func (da *DocumentAccessor) GetInt(key string) (value int64, ok bool) {
	result := gjson.GetBytes(*da.data, key)
	if !result.Exists() || result.Type != gjson.Number {
		return 0, false
	}
	return result.Int(), true
}

// GetBool returns the bool found by the given key and whether it could
// be extracted.
func (da *DocumentAccessor) GetBool(key string) (value bool, ok bool) {
	result := gjson.GetBytes(*da.data, key)
	switch {
	case !result.Exists():
		return false, false
	case result.Type == gjson.True:
		return true, true
	case result.Type == gjson.False:
		return false, true
	default:
		return false, false
	}
}

// GetStrings returns the string array found by the given key.
func (da *DocumentAccessor) GetStrings(key string) (values []string, ok bool) {
	result := gjson.GetBytes(*da.data, key)
	if !result.Exists() || !result.IsArray() {
		return nil, false
	}
	for _, entry := range result.Array() {
		values = append(values, entry.String())
	}
	return values, true
}

// Exists reports whether the given key exists.
func (da *DocumentAccessor) Exists(key string) bool {
	return gjson.GetBytes(*da.data, key).Exists()
}

// Bytes returns the current serialized form.
func (da *DocumentAccessor) Bytes() []byte {
	return *da.data
}

// DocumentClass extracts the declared class from JSON document bytes.
func DocumentClass(data []byte) string {
	return gjson.GetBytes(data, ClassField).String()
}
