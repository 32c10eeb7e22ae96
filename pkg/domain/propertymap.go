package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PropertyMap is a string-keyed map of property values that preserves
// insertion order. Keys are unique; setting an existing key overwrites the
// value in place without changing its position. A nil value is legal and acts
// as a delete marker when the map is applied to a stored entity.
type PropertyMap struct {
	keys   []string
	values map[string]any
}

// NewPropertyMap returns an empty property map.
func NewPropertyMap() *PropertyMap {
	return &PropertyMap{values: make(map[string]any)}
}

// Set stores a value under key, normalising integer widths. Unknown value
// types are rejected.
func (m *PropertyMap) Set(key string, value any) error {
	normalized, err := NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = normalized
	return nil
}

// Get returns the value stored under key.
func (m *PropertyMap) Get(key string) (any, bool) {
	if m == nil || m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Delete removes a key and its value. Removing an absent key is a no-op.
func (m *PropertyMap) Delete(key string) {
	if m == nil || m.values == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *PropertyMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *PropertyMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range visits entries in insertion order until fn returns false.
func (m *PropertyMap) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy of the map.
func (m *PropertyMap) Clone() *PropertyMap {
	if m == nil {
		return nil
	}
	cp := NewPropertyMap()
	for _, k := range m.keys {
		cp.keys = append(cp.keys, k)
		cp.values[k] = cloneValue(m.values[k])
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *PropertyMap:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports structural equality including key order.
func (m *PropertyMap) Equal(other *PropertyMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k {
			return false
		}
		if !ValuesEqual(m.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes entries as a JSON object in insertion order.
func (m *PropertyMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode property %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving its key order. Numeric
// values without a fraction decode as int64, others as float64. Nested
// objects become embedded property maps unless they carry a custom-kind tag.
func (m *PropertyMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("property map must be a JSON object")
	}
	*m = *NewPropertyMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		value, err := decodeJSONValue(raw)
		if err != nil {
			return fmt.Errorf("decode property %q: %w", key, err)
		}
		if _, exists := m.values[key]; !exists {
			m.keys = append(m.keys, key)
		}
		m.values[key] = value
	}
	_, err = dec.Token() // closing brace
	return err
}

func decodeJSONValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case 'n':
		return nil, nil
	case '{':
		if v, ok, err := decodeTaggedValue(trimmed); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
		nested := NewPropertyMap()
		if err := nested.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return nested, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
		out := make([]any, len(elems))
		for i, elem := range elems {
			v, err := decodeJSONValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil && !bytes.ContainsAny(trimmed, ".eE") {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}
