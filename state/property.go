package state

import (
	"fmt"
	"slices"
	"strconv"
)

func checkValue(v any) {
	switch v.(type) {
	case string, int, bool, float64:
	default:
		panic(fmt.Sprintf("state: unsupported property type %T", v))
	}
}

// SetProperty sets a property and notifies listeners. Setting a property to
// its current value does nothing. The value must be a string, int, bool or
// float64.
func (t *Tree) SetProperty(id NodeID, name string, value any) {
	checkValue(value)
	n := t.get(id)
	i := slices.IndexFunc(n.props, func(p Property) bool { return p.Name == name })
	if i >= 0 {
		if n.props[i].Value == value {
			return
		}
		n.props[i].Value = value
	} else {
		n.props = append(n.props, Property{Name: name, Value: value})
	}
	t.dispatch(id, PropertyChanged{Node: id, Name: name})
}

// RemoveProperty removes a property and notifies listeners if it existed.
func (t *Tree) RemoveProperty(id NodeID, name string) {
	n := t.get(id)
	i := slices.IndexFunc(n.props, func(p Property) bool { return p.Name == name })
	if i < 0 {
		return
	}
	n.props = slices.Delete(n.props, i, i+1)
	t.dispatch(id, PropertyChanged{Node: id, Name: name})
}

func (t *Tree) Property(id NodeID, name string) (any, bool) {
	if !t.Valid(id) {
		return nil, false
	}
	for _, p := range t.nodes[id].props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func (t *Tree) HasProperty(id NodeID, name string) bool {
	_, ok := t.Property(id, name)
	return ok
}

// Properties returns a copy of the properties of the node, in insertion order.
func (t *Tree) Properties(id NodeID) []Property {
	return slices.Clone(t.get(id).props)
}

func (t *Tree) String(id NodeID, name string) string {
	v, _ := t.Property(id, name)
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the property as an int. Missing or non-numeric properties give
// def.
func (t *Tree) Int(id NodeID, name string, def int) int {
	v, _ := t.Property(id, name)
	switch v := v.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (t *Tree) Bool(id NodeID, name string) bool {
	v, _ := t.Property(id, name)
	switch v := v.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (t *Tree) Float(id NodeID, name string, def float64) float64 {
	v, _ := t.Property(id, name)
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
