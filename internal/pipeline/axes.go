package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Axis is one named matrix dimension. Values keep their declared order.
type Axis struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// Axes is an ordered list of matrix dimensions. In YAML and JSON it is written
// as a mapping whose key order is the axis order:
//
//	matrix:
//	  os: [ubuntu-latest, macos-latest]
//	  toolchain: [stable, "1.74"]
type Axes []Axis

// Names returns the axis names in order.
func (a Axes) Names() []string {
	names := make([]string, len(a))
	for i, axis := range a {
		names[i] = axis.Name
	}
	return names
}

// Lookup finds an axis by name.
func (a Axes) Lookup(name string) (Axis, bool) {
	for _, axis := range a {
		if axis.Name == name {
			return axis, true
		}
	}
	return Axis{}, false
}

// Clone returns a deep copy.
func (a Axes) Clone() Axes {
	if a == nil {
		return nil
	}
	out := make(Axes, len(a))
	for i, axis := range a {
		out[i] = Axis{Name: axis.Name, Values: cloneStringSlice(axis.Values)}
	}
	return out
}

// UnmarshalYAML walks the mapping node directly so key order survives.
func (a *Axes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*a = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping of axis name to values", node.Line)
	}
	axes := make(Axes, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		axis := Axis{Name: strings.TrimSpace(key.Value)}
		switch value.Kind {
		case yaml.SequenceNode:
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: matrix axis %s values must be scalars", item.Line, axis.Name)
				}
				axis.Values = append(axis.Values, item.Value)
			}
		case yaml.ScalarNode:
			if value.Tag != "!!null" {
				return fmt.Errorf("line %d: matrix axis %s must be a list", value.Line, axis.Name)
			}
		default:
			return fmt.Errorf("line %d: matrix axis %s must be a list", value.Line, axis.Name)
		}
		axes = append(axes, axis)
	}
	*a = axes
	return nil
}

// MarshalYAML emits an ordered mapping.
func (a Axes) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, axis := range a {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, v := range axis.Values {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: axis.Name},
			seq,
		)
	}
	return node, nil
}

// UnmarshalJSON streams tokens so object key order survives.
func (a *Axes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("matrix must be an object of axis name to values: %w", err)
	}
	var axes Axes
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("matrix: expected axis name, got %v", tok)
		}
		var raw []any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("matrix axis %s must be a list: %w", name, err)
		}
		axis := Axis{Name: strings.TrimSpace(name)}
		for _, item := range raw {
			switch v := item.(type) {
			case string:
				axis.Values = append(axis.Values, v)
			case json.Number:
				axis.Values = append(axis.Values, v.String())
			case bool:
				axis.Values = append(axis.Values, fmt.Sprint(v))
			default:
				return fmt.Errorf("matrix axis %s values must be scalars", name)
			}
		}
		axes = append(axes, axis)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	*a = axes
	return nil
}

// MarshalJSON emits an ordered object.
func (a Axes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, axis := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(axis.Name)
		if err != nil {
			return nil, err
		}
		values := axis.Values
		if values == nil {
			values = []string{}
		}
		encoded, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
