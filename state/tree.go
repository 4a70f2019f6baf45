// Package state implements an observable tree of tagged nodes with typed
// properties. The project document of the host (tracks, processors,
// connections) lives in one Tree; every mutation is announced to subscribers
// synchronously, in the order the mutations happen.
package state

import (
	"fmt"
	"slices"
)

type (
	// NodeID addresses a node in the arena of a Tree. IDs are never reused
	// during the lifetime of a Tree, so an ID captured by an undo action stays
	// valid even after the node has been detached.
	NodeID int32

	// Property is a single typed key/value pair of a node. Value is always one
	// of string, int, bool or float64.
	Property struct {
		Name  string
		Value any
	}

	node struct {
		tag      string
		props    []Property
		children []NodeID
		parent   NodeID
	}

	// Tree is an observable, ordered tree of tagged nodes. All nodes are owned
	// by the tree; parent links are plain indices, so a node has exactly one
	// parent (or none, when detached). Tree is not safe for concurrent use:
	// it belongs to a single goroutine, see tracker.Broker.
	Tree struct {
		nodes     []node
		listeners []*listener
	}
)

// None is the zero NodeID, meaning "no node".
const None NodeID = 0

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make([]node, 1)} // index 0 is None
}

// New creates a detached node with the given tag.
func (t *Tree) New(tag string, props ...Property) NodeID {
	id := NodeID(len(t.nodes))
	n := node{tag: tag}
	for _, p := range props {
		checkValue(p.Value)
		n.props = append(n.props, p)
	}
	t.nodes = append(t.nodes, n)
	return id
}

// Valid reports if the ID refers to a node of this tree.
func (t *Tree) Valid(id NodeID) bool {
	return id > None && int(id) < len(t.nodes)
}

func (t *Tree) get(id NodeID) *node {
	if !t.Valid(id) {
		panic(fmt.Sprintf("state: invalid node id %d", id))
	}
	return &t.nodes[id]
}

func (t *Tree) Tag(id NodeID) string {
	if !t.Valid(id) {
		return ""
	}
	return t.nodes[id].tag
}

func (t *Tree) Is(id NodeID, tag string) bool { return t.Tag(id) == tag }

func (t *Tree) Parent(id NodeID) NodeID {
	if !t.Valid(id) {
		return None
	}
	return t.nodes[id].parent
}

// Ancestor returns the closest ancestor (or the node itself) with the given
// tag, or None.
func (t *Tree) Ancestor(id NodeID, tag string) NodeID {
	for ; t.Valid(id); id = t.nodes[id].parent {
		if t.nodes[id].tag == tag {
			return id
		}
	}
	return None
}

// IsAncestorOf reports if a is b or one of b's ancestors.
func (t *Tree) IsAncestorOf(a, b NodeID) bool {
	for ; t.Valid(b); b = t.nodes[b].parent {
		if a == b {
			return true
		}
	}
	return false
}

// Root returns the topmost ancestor of the node.
func (t *Tree) Root(id NodeID) NodeID {
	for t.Valid(id) && t.nodes[id].parent != None {
		id = t.nodes[id].parent
	}
	return id
}

func (t *Tree) NumChildren(id NodeID) int { return len(t.get(id).children) }

// Child returns the i:th child or None if the index is out of range.
func (t *Tree) Child(id NodeID, i int) NodeID {
	c := t.get(id).children
	if i < 0 || i >= len(c) {
		return None
	}
	return c[i]
}

// Children returns a copy of the child list, so callers may mutate the tree
// while iterating over it.
func (t *Tree) Children(id NodeID) []NodeID {
	return slices.Clone(t.get(id).children)
}

// IndexOf returns the index of child in parent, or -1.
func (t *Tree) IndexOf(parent, child NodeID) int {
	return slices.Index(t.get(parent).children, child)
}

// Sibling returns the sibling delta positions away from the node, or None.
func (t *Tree) Sibling(id NodeID, delta int) NodeID {
	p := t.Parent(id)
	if p == None {
		return None
	}
	return t.Child(p, t.IndexOf(p, id)+delta)
}

// ChildWithTag returns the first child with the given tag, or None.
func (t *Tree) ChildWithTag(id NodeID, tag string) NodeID {
	for _, c := range t.get(id).children {
		if t.nodes[c].tag == tag {
			return c
		}
	}
	return None
}

// ChildWithProperty returns the first child whose property equals the value,
// or None.
func (t *Tree) ChildWithProperty(id NodeID, name string, value any) NodeID {
	for _, c := range t.get(id).children {
		if v, ok := t.Property(c, name); ok && v == value {
			return c
		}
	}
	return None
}

// Walk calls f for the node and all its descendants in depth first pre-order.
// Returning false from f skips the children of that node.
func (t *Tree) Walk(id NodeID, f func(NodeID) bool) {
	if !f(id) {
		return
	}
	for _, c := range t.Children(id) {
		t.Walk(c, f)
	}
}

// AppendChild adds a detached child as the last child of parent.
func (t *Tree) AppendChild(parent, child NodeID) bool {
	return t.InsertChild(parent, child, -1)
}

// InsertChild adds a detached child to parent at index. An index out of range
// appends. Inserting a node into itself or into one of its descendants is
// rejected and returns false. Inserting a node that already has a parent is a
// programming error and panics; use Reparent to move nodes.
func (t *Tree) InsertChild(parent, child NodeID, index int) bool {
	return t.insert(parent, child, index, false)
}

func (t *Tree) insert(parent, child NodeID, index int, moving bool) bool {
	p, c := t.get(parent), t.get(child)
	if t.IsAncestorOf(child, parent) {
		return false
	}
	if c.parent != None {
		panic(fmt.Sprintf("state: node %d already has parent %d", child, c.parent))
	}
	if index < 0 || index > len(p.children) {
		index = len(p.children)
	}
	p.children = slices.Insert(p.children, index, child)
	c.parent = parent
	t.dispatch(parent, ChildAdded{Parent: parent, Child: child, Index: index, Moving: moving})
	return true
}

// RemoveChild detaches child from parent. The detached subtree stays in the
// arena and can be inserted again, which is how actions undo deletions.
func (t *Tree) RemoveChild(parent, child NodeID) bool {
	index := t.IndexOf(parent, child)
	if index < 0 {
		return false
	}
	t.remove(parent, index, false)
	return true
}

// RemoveChildAt detaches the child at index and returns it, or None.
func (t *Tree) RemoveChildAt(parent NodeID, index int) NodeID {
	if index < 0 || index >= t.NumChildren(parent) {
		return None
	}
	return t.remove(parent, index, false)
}

func (t *Tree) remove(parent NodeID, index int, moving bool) NodeID {
	child := t.nodes[parent].children[index]
	t.dispatch(parent, ChildWillBeRemoved{Parent: parent, Child: child, Index: index, Moving: moving})
	// listeners may have mutated the parent, so look the child up again
	p := &t.nodes[parent]
	index = slices.Index(p.children, child)
	if index < 0 {
		return child
	}
	p.children = slices.Delete(p.children, index, index+1)
	t.nodes[child].parent = None
	t.dispatch(parent, ChildRemoved{Parent: parent, Child: child, Index: index, Moving: moving})
	return child
}

// MoveChild changes the position of a child within its parent.
func (t *Tree) MoveChild(parent NodeID, from, to int) bool {
	p := t.get(parent)
	if from < 0 || from >= len(p.children) || to < 0 || to >= len(p.children) || from == to {
		return false
	}
	child := p.children[from]
	p.children = slices.Delete(p.children, from, from+1)
	p.children = slices.Insert(p.children, to, child)
	t.dispatch(parent, ChildOrderChanged{Parent: parent, Child: child, From: from, To: to})
	return true
}

// Reparent moves child under newParent at index. The remove and add events
// are flagged as Moving, so listeners can tell a move from a deletion. Moving
// a node into itself or one of its descendants is rejected as a no-op.
func (t *Tree) Reparent(child, newParent NodeID, index int) bool {
	if t.IsAncestorOf(child, newParent) {
		return false
	}
	old := t.Parent(child)
	if old == newParent {
		from := t.IndexOf(old, child)
		if index < 0 || index >= t.NumChildren(old) {
			index = t.NumChildren(old) - 1
		}
		t.MoveChild(old, from, index)
		return true
	}
	if old != None {
		t.remove(old, t.IndexOf(old, child), true)
	}
	return t.insert(newParent, child, index, true)
}

// Copy makes a detached deep copy of the subtree.
func (t *Tree) Copy(id NodeID) NodeID {
	src := t.get(id)
	ret := t.New(src.tag, slices.Clone(src.props)...)
	for _, c := range t.Children(id) {
		cc := t.Copy(c)
		t.nodes[ret].children = append(t.nodes[ret].children, cc)
		t.nodes[cc].parent = ret
	}
	return ret
}

// Equivalent reports if the two subtrees have the same tags, the same set of
// properties and equivalent children in the same order.
func (t *Tree) Equivalent(a, b NodeID) bool {
	na, nb := t.get(a), t.get(b)
	if na.tag != nb.tag || len(na.props) != len(nb.props) || len(na.children) != len(nb.children) {
		return false
	}
	for _, p := range na.props {
		if v, ok := t.Property(b, p.Name); !ok || v != p.Value {
			return false
		}
	}
	for i := range na.children {
		if !t.Equivalent(na.children[i], nb.children[i]) {
			return false
		}
	}
	return true
}
