package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StatusKind tags which member of StatusValue is set.
type StatusKind int

const (
	StatusEmpty StatusKind = iota
	StatusNumber
	StatusText
	StatusProgress
)

// StatusValue is one status-bar value: a number, a string, or a
// {value,max} progress pair.
type StatusValue struct {
	Kind   StatusKind
	Number float64
	Text   string
	Value  float64
	Max    float64
}

func NumberValue(n float64) StatusValue { return StatusValue{Kind: StatusNumber, Number: n} }

func TextValue(s string) StatusValue { return StatusValue{Kind: StatusText, Text: s} }

func ProgressValue(value, max float64) StatusValue {
	return StatusValue{Kind: StatusProgress, Value: value, Max: max}
}

// FormatNumber renders n the shortest way: 100 -> "100", 1.5 -> "1.5".
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// String renders the value for prompts and the status panel.
func (v StatusValue) String() string {
	switch v.Kind {
	case StatusNumber:
		return FormatNumber(v.Number)
	case StatusProgress:
		return FormatNumber(v.Value) + "/" + FormatNumber(v.Max)
	case StatusText:
		return v.Text
	}
	return ""
}

type progressWire struct {
	Value *float64 `json:"value" yaml:"value"`
	Max   *float64 `json:"max" yaml:"max"`
}

func (v StatusValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case StatusNumber:
		return json.Marshal(v.Number)
	case StatusProgress:
		return json.Marshal(progressWire{Value: &v.Value, Max: &v.Max})
	case StatusText:
		return json.Marshal(v.Text)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts numbers, strings, {value,max} objects and booleans.
// Anything else is kept as its compact JSON text.
func (v *StatusValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("models: empty status value")
	}
	switch data[0] {
	case 'n':
		*v = StatusValue{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = TextValue(strconv.FormatBool(b))
		return nil
	case '{':
		var p progressWire
		if err := json.Unmarshal(data, &p); err == nil && p.Value != nil && p.Max != nil {
			*v = ProgressValue(*p.Value, *p.Max)
			return nil
		}
	case '[':
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*v = TextValue(buf.String())
	return nil
}

func (v StatusValue) MarshalYAML() (interface{}, error) {
	switch v.Kind {
	case StatusNumber:
		return v.Number, nil
	case StatusProgress:
		return progressWire{Value: &v.Value, Max: &v.Max}, nil
	case StatusText:
		return v.Text, nil
	}
	return nil, nil
}

func (v *StatusValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var p progressWire
		if err := node.Decode(&p); err != nil {
			return err
		}
		if p.Value == nil || p.Max == nil {
			return fmt.Errorf("models: line %d: progress needs value and max", node.Line)
		}
		*v = ProgressValue(*p.Value, *p.Max)
		return nil
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!null":
			*v = StatusValue{}
			return nil
		case "!!int", "!!float":
			n, err := strconv.ParseFloat(strings.ReplaceAll(node.Value, "_", ""), 64)
			if err != nil {
				return fmt.Errorf("models: line %d: %w", node.Line, err)
			}
			*v = NumberValue(n)
			return nil
		}
		*v = TextValue(node.Value)
		return nil
	}
	return fmt.Errorf("models: line %d: unsupported status value", node.Line)
}
