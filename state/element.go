package state

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Element is the serialized form of a subtree: a tag, typed properties and
// ordered children. It marshals to YAML as
//
//	tag: TRACK
//	properties:
//	  name: "Track 1"
//	  isMaster: false
//	children:
//	  - tag: PROCESSOR_LANES
//
// Strings are always quoted and floats always carry a decimal point, so the
// types survive a round trip.
type Element struct {
	Tag        string
	Properties []Property
	Children   []*Element
}

var ErrWrongRoot = errors.New("unexpected root element")

// Element converts the subtree rooted at id to an Element.
func (t *Tree) Element(id NodeID) *Element {
	n := t.get(id)
	e := &Element{Tag: n.tag, Properties: t.Properties(id)}
	for _, c := range n.children {
		e.Children = append(e.Children, t.Element(c))
	}
	return e
}

// Build creates a detached subtree from the element, without notifying
// anyone.
func (t *Tree) Build(e *Element) NodeID {
	id := t.New(e.Tag, e.Properties...)
	for _, c := range e.Children {
		cid := t.Build(c)
		t.nodes[id].children = append(t.nodes[id].children, cid)
		t.nodes[cid].parent = id
	}
	return id
}

// Marshal encodes the subtree rooted at id.
func (t *Tree) Marshal(id NodeID) ([]byte, error) {
	return yaml.Marshal(t.Element(id))
}

// Unmarshal decodes data into a new detached subtree. The root element must
// have the given tag. Nothing is added to the tree if decoding fails.
func (t *Tree) Unmarshal(data []byte, rootTag string) (NodeID, error) {
	var e Element
	if err := yaml.Unmarshal(data, &e); err != nil {
		return None, fmt.Errorf("could not parse state: %w", err)
	}
	if e.Tag != rootTag {
		return None, fmt.Errorf("%w: got %q, want %q", ErrWrongRoot, e.Tag, rootTag)
	}
	return t.Build(&e), nil
}

func (e *Element) MarshalYAML() (any, error) {
	ret := &yaml.Node{Kind: yaml.MappingNode}
	ret.Content = append(ret.Content, keyNode("tag"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Tag})
	if len(e.Properties) > 0 {
		props := &yaml.Node{Kind: yaml.MappingNode}
		for _, p := range e.Properties {
			v, err := scalarNode(p.Value)
			if err != nil {
				return nil, fmt.Errorf("property %s of %s: %w", p.Name, e.Tag, err)
			}
			props.Content = append(props.Content, keyNode(p.Name), v)
		}
		ret.Content = append(ret.Content, keyNode("properties"), props)
	}
	if len(e.Children) > 0 {
		children := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range e.Children {
			var n yaml.Node
			if err := n.Encode(c); err != nil {
				return nil, err
			}
			children.Content = append(children.Content, &n)
		}
		ret.Content = append(ret.Content, keyNode("children"), children)
	}
	return ret, nil
}

func (e *Element) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: element must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i].Value, value.Content[i+1]
		switch key {
		case "tag":
			if err := val.Decode(&e.Tag); err != nil {
				return err
			}
		case "properties":
			if val.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: properties of %s must be a mapping", val.Line, e.Tag)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				v, err := scalarValue(val.Content[j+1])
				if err != nil {
					return fmt.Errorf("property %s: %w", val.Content[j].Value, err)
				}
				e.Properties = append(e.Properties, Property{Name: val.Content[j].Value, Value: v})
			}
		case "children":
			if err := val.Decode(&e.Children); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: unknown field %q", value.Content[i].Line, key)
		}
	}
	if e.Tag == "" {
		return fmt.Errorf("line %d: element has no tag", value.Line)
	}
	return nil
}

func keyNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func scalarNode(v any) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch v := v.(type) {
	case string:
		n.Tag, n.Value, n.Style = "!!str", v, yaml.DoubleQuotedStyle
	case int:
		n.Tag, n.Value = "!!int", strconv.Itoa(v)
	case bool:
		n.Tag, n.Value = "!!bool", strconv.FormatBool(v)
	case float64:
		n.Tag = "!!float"
		switch {
		case math.IsNaN(v):
			n.Value = ".nan"
		case math.IsInf(v, 1):
			n.Value = ".inf"
		case math.IsInf(v, -1):
			n.Value = "-.inf"
		default:
			n.Value = strconv.FormatFloat(v, 'g', -1, 64)
			if !strings.ContainsAny(n.Value, ".eE") {
				n.Value += ".0"
			}
		}
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	return n, nil
}

func scalarValue(n *yaml.Node) (any, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: not a scalar", n.Line)
	}
	switch n.ShortTag() {
	case "!!int":
		var i int
		err := n.Decode(&i)
		return i, err
	case "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!str":
		return n.Value, nil
	case "!!null":
		return "", nil
	}
	return nil, fmt.Errorf("line %d: unsupported tag %s", n.Line, n.ShortTag())
}
