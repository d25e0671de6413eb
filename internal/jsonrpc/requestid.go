package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// The zero value (and a nil pointer) both mean "no ID", i.e. a notification.
type RequestID struct {
	value any
}

// NewRequestID creates a RequestID from a string or numeric value. Other
// types yield a nil ID.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// String returns the canonical string form of the ID, or "" when nil.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

// Value returns the underlying value.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil reports whether the ID is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Integer-valued numbers decode
// to int64 so their string form round-trips without a fraction.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
