package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Path locates a field in the response tree: string elements are response
// names, int elements are list indices.
type Path []any

// FieldError is an error scoped to one field of the response tree. Sibling
// and ancestor fields are unaffected.
type FieldError struct {
	Message string `json:"message"`
	Path    Path   `json:"path,omitempty"`
}

func (e FieldError) Error() string { return e.Message }

// RootFailureError is returned when no top-level field was resolvable. It is
// the only pass-fatal error class; it carries the collected field errors.
type RootFailureError struct {
	Errors []FieldError
}

func (e *RootFailureError) Error() string {
	return fmt.Sprintf("no root field resolvable (%d errors)", len(e.Errors))
}

// Result is the outcome of one execution pass: a data tree mirroring the
// selection tree's shape plus the field-scoped errors collected on the way.
type Result struct {
	Data   *OrderedMap  `json:"data"`
	Errors []FieldError `json:"errors,omitempty"`
}

// OrderedMap is a string-keyed map that preserves insertion order, so the
// response tree encodes in the same field order as the request.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap creates an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// Set assigns v to key. A key keeps its original position on reassignment.
func (m *OrderedMap) Set(key string, v any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value for key and whether it is present.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
