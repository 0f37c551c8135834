package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Param is one key=value option forwarded to the driver.
type Param struct {
	Key   string
	Value string
}

// ConnectionSpec describes one mocap source. Every key of the YAML mapping except
// "type" is kept as a Param, in document order; "name" is also exposed as Name.
type ConnectionSpec struct {
	Type   string
	Name   string
	Params []Param
}

// Get returns the value of the named param.
func (c ConnectionSpec) Get(key string) (string, bool) {
	for _, p := range c.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// UnmarshalYAML decodes a connection mapping while preserving key order.
func (c *ConnectionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: connection must be a mapping", node.Line)
	}

	var spec ConnectionSpec
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: connection option %q must be a scalar", value.Line, key.Value)
		}
		v := value.Value
		if value.Tag == "!!null" {
			v = ""
		}

		switch key.Value {
		case "type":
			spec.Type = v
			continue
		case "name":
			spec.Name = v
		}
		spec.Params = append(spec.Params, Param{Key: key.Value, Value: v})
	}

	*c = spec
	return nil
}

// MarshalYAML renders the spec back as a flat mapping.
func (c ConnectionSpec) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k, v string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: v},
		)
	}
	if c.Type != "" {
		add("type", c.Type)
	}
	for _, p := range c.Params {
		add(p.Key, p.Value)
	}
	return node, nil
}

// MarshalJSON renders the spec as a JSON object in document order.
func (c ConnectionSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(k, v string) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(v)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	if c.Type != "" {
		write("type", c.Type)
	}
	for _, p := range c.Params {
		write(p.Key, p.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
