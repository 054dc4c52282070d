package document

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata is an insertion-ordered mapping of string keys to scalar values
// (string, bool, int64, float64). Re-setting a key keeps its position.
type Metadata struct {
	keys   []string
	values map[string]any
}

// NewMetadata returns an empty Metadata.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// Set stores value under key. Integer and float kinds are normalized to
// int64 and float64; unsupported kinds are stored as their fmt string.
func (m *Metadata) Set(key string, value any) *Metadata {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = normalize(value)
	return m
}

// Get returns the value for key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// String returns the value for key rendered as a string, or "".
func (m *Metadata) String(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Delete removes key.
func (m *Metadata) Delete(key string) {
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

// Keys returns keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Metadata) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Map returns an unordered copy.
func (m *Metadata) Map() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	m.Range(func(k string, v any) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// MarshalJSON encodes entries as an object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	var err error
	m.Range(func(k string, v any) bool {
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		var kb, vb []byte
		if kb, err = json.Marshal(k); err != nil {
			return false
		}
		if vb, err = json.Marshal(v); err != nil {
			return false
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return append(buf, '}'), nil
}

// FormatValue renders a scalar metadata value as a string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case string, bool, int64, float64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
