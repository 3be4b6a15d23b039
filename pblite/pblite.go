// Package pblite implements the wire codec spoken by the chat web client:
// PBLite documents (protobuf serialised as sparse JSON arrays), the XSSI
// response guard, the batch-RPC envelope, and the SAPISIDHASH authorization
// value.
//
// PBLite encodes a protobuf message as a JSON array whose element at index i
// is field number i+1, with null for absent fields. Nested messages are
// nested arrays and repeated fields are plain arrays. When a message has
// sparse high field numbers, the serialiser may emit a trailing JSON object
// keyed by stringified field numbers (the "extension map") instead of padding
// the array with nulls. Decoders must tolerate either encoding at every
// position, so all field access in this package goes through Field, which
// understands both.
package pblite

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Doc is a decoded PBLite document: a JSON array materialised as []any by
// encoding/json (numbers are float64, nested messages are []any or
// map[string]any).
type Doc = []any

// Decode parses raw JSON bytes into a PBLite document. The input must be a
// JSON array at the top level.
func Decode(data []byte) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pblite: decode document: %w", err)
	}
	return doc, nil
}

// Encode serialises a document (or any request payload built from []any
// values) to JSON bytes.
func Encode(doc any) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("pblite: encode document: %w", err)
	}
	return data, nil
}

// Field returns the value of the given 1-based protobuf field number from a
// message, tolerating both the array encoding and the extension-map object
// encoding. Returns nil when the field is absent or the message is of an
// unexpected shape.
func Field(msg any, fieldNum int) any {
	switch m := msg.(type) {
	case []any:
		idx := fieldNum - 1
		if idx >= 0 && idx < len(m) {
			// A trailing object inside the array is the extension map for
			// field numbers beyond the array's length, not a value at this
			// position, so only plain positions are returned here.
			if _, isExt := m[idx].(map[string]any); !isExt || !isTrailingExtension(m, idx) {
				return m[idx]
			}
		}
		// Fall through to the extension map when present.
		if len(m) > 0 {
			if ext, ok := m[len(m)-1].(map[string]any); ok {
				return ext[strconv.Itoa(fieldNum)]
			}
		}
		return nil
	case map[string]any:
		return m[strconv.Itoa(fieldNum)]
	default:
		return nil
	}
}

// isTrailingExtension reports whether the element at idx is the document's
// trailing extension map rather than an ordinary message value.
func isTrailingExtension(m []any, idx int) bool {
	if idx != len(m)-1 {
		return false
	}
	ext, ok := m[idx].(map[string]any)
	if !ok {
		return false
	}
	// Extension maps are keyed exclusively by stringified field numbers.
	for k := range ext {
		if _, err := strconv.Atoi(k); err != nil {
			return false
		}
	}
	return len(ext) > 0
}

// Message returns the field as a nested message ([]any or the object
// encoding normalised to []any-compatible access via Field). The second
// return is false when the field is absent or not a message.
func Message(msg any, fieldNum int) (any, bool) {
	v := Field(msg, fieldNum)
	switch v.(type) {
	case []any, map[string]any:
		return v, true
	default:
		return nil, false
	}
}

// Array returns the field as a repeated-field slice.
func Array(msg any, fieldNum int) ([]any, bool) {
	v, ok := Field(msg, fieldNum).([]any)
	return v, ok
}

// String returns the field as a string, or "" when absent or mistyped.
func String(msg any, fieldNum int) string {
	s, _ := Field(msg, fieldNum).(string)
	return s
}

// Bool returns the field as a bool. Wire encodings vary between true/false
// and 0/1, so numeric values are accepted too.
func Bool(msg any, fieldNum int) bool {
	switch v := Field(msg, fieldNum).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}

// Int returns the field as an int64. Both JSON numbers and decimal strings
// are accepted: the upstream encodes integers ≥ 2^53 as strings to survive
// JavaScript number precision, and smaller ones as numbers.
func Int(msg any, fieldNum int) (int64, bool) {
	return asInt64(Field(msg, fieldNum))
}

// Micros is Int under a name that documents intent: microsecond timestamps
// are the dominant integer type on this wire.
func Micros(msg any, fieldNum int) (int64, bool) {
	return asInt64(Field(msg, fieldNum))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
