package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// OrderedMap is a JSON/YAML object that remembers the order its keys were
// first written in. Nested objects decoded through it are *OrderedMap too,
// arrays are []any and scalars are string, float64, bool or nil.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: map[string]any{}}
}

// OrderedMapFrom copies a plain map, ordering keys lexically.
func OrderedMapFrom(src map[string]any) *OrderedMap {
	m := NewOrderedMap()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, src[k])
	}
	return m
}

// Set stores v under k. Existing keys keep their position.
func (m *OrderedMap) Set(k string, v any) {
	if m.values == nil {
		m.values = map[string]any{}
	}
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Get returns the value stored under k.
func (m *OrderedMap) Get(k string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[k]
	return v, ok
}

// Delete removes k.
func (m *OrderedMap) Delete(k string) {
	if m == nil {
		return
	}
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone deep-copies the map, including nested objects and arrays.
func (m *OrderedMap) Clone() *OrderedMap {
	if m == nil {
		return nil
	}
	out := NewOrderedMap()
	for _, k := range m.keys {
		out.Set(k, cloneValue(m.values[k]))
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *OrderedMap:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]any:
		return OrderedMapFrom(t).Clone()
	}
	return v
}

// MarshalJSON writes the keys in order. HTML characters are not escaped.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalNoEscape(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order at every level.
func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("models: expected JSON object, got %v", tok)
	}
	out, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*m = *out
	return nil
}

// DecodeOrderedJSON decodes any JSON document with objects as *OrderedMap.
func DecodeOrderedJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("models: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("models: unexpected delimiter %q", d)
	}
	return tok, nil
}

func decodeObject(dec *json.Decoder) (*OrderedMap, error) {
	m := NewOrderedMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("models: object key %v is not a string", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalYAML emits a mapping node so key order survives.
func (m *OrderedMap) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range m.keys {
		vn := &yaml.Node{}
		if err := vn.Encode(m.values[k]); err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, vn)
	}
	return n, nil
}

// UnmarshalYAML decodes a mapping node in document order.
func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("models: line %d: expected mapping", node.Line)
	}
	out, err := yamlObject(node)
	if err != nil {
		return err
	}
	*m = *out
	return nil
}

func yamlObject(node *yaml.Node) (*OrderedMap, error) {
	m := NewOrderedMap()
	for i := 0; i+1 < len(node.Content); i += 2 {
		v, err := yamlValue(node.Content[i+1])
		if err != nil {
			return nil, err
		}
		m.Set(node.Content[i].Value, v)
	}
	return m, nil
}

func yamlValue(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		return yamlObject(node)
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, c := range node.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return yamlValue(node.Alias)
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	// JSON numbers are float64; keep YAML the same so values compare equal.
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return v, nil
}
