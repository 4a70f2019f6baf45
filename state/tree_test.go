package state_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vsariola/soundmachine/state"
)

func record(t *state.Tree, scope state.NodeID) *[]state.Event {
	var events []state.Event
	t.Subscribe(scope, func(e state.Event) { events = append(events, e) })
	return &events
}

func TestInsertAndRemoveEvents(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("ROOT")
	child := tree.New("CHILD")
	events := record(tree, root)
	if !tree.AppendChild(root, child) {
		t.Fatalf("AppendChild failed")
	}
	if !tree.RemoveChild(root, child) {
		t.Fatalf("RemoveChild failed")
	}
	want := []state.Event{
		state.ChildAdded{Parent: root, Child: child, Index: 0},
		state.ChildWillBeRemoved{Parent: root, Child: child, Index: 0},
		state.ChildRemoved{Parent: root, Child: child, Index: 0},
	}
	if diff := cmp.Diff(want, *events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if tree.Parent(child) != state.None {
		t.Errorf("removed child still has a parent")
	}
}

func TestWillBeRemovedSeesOldParent(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("ROOT")
	child := tree.New("CHILD")
	tree.AppendChild(root, child)
	var parentDuringWill state.NodeID
	tree.Subscribe(root, func(e state.Event) {
		if e, ok := e.(state.ChildWillBeRemoved); ok {
			parentDuringWill = tree.Parent(e.Child)
		}
	})
	tree.RemoveChild(root, child)
	if parentDuringWill != root {
		t.Fatalf("expected the parent to be reachable in will-be-removed, got %v", parentDuringWill)
	}
}

func TestReparentRejectsCycles(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("ROOT")
	a := tree.New("A")
	b := tree.New("B")
	tree.AppendChild(root, a)
	tree.AppendChild(a, b)
	events := record(tree, root)
	if tree.Reparent(a, b, 0) {
		t.Errorf("moving a node into its descendant should fail")
	}
	if tree.Reparent(a, a, 0) {
		t.Errorf("moving a node into itself should fail")
	}
	if len(*events) != 0 {
		t.Errorf("rejected moves should not send events, got %v", *events)
	}
	if tree.Parent(a) != root || tree.Parent(b) != a {
		t.Errorf("tree changed after rejected moves")
	}
}

func TestReparentMovesAtomically(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("ROOT")
	a := tree.New("A")
	b := tree.New("B")
	c := tree.New("C")
	tree.AppendChild(root, a)
	tree.AppendChild(root, b)
	tree.AppendChild(a, c)
	events := record(tree, root)
	if !tree.Reparent(c, b, 0) {
		t.Fatalf("Reparent failed")
	}
	if tree.Parent(c) != b || tree.NumChildren(a) != 0 || tree.NumChildren(b) != 1 {
		t.Fatalf("unexpected tree after reparent")
	}
	for _, e := range *events {
		switch e := e.(type) {
		case state.ChildAdded:
			if !e.Moving {
				t.Errorf("ChildAdded of a move should be flagged as moving")
			}
		case state.ChildRemoved:
			if !e.Moving {
				t.Errorf("ChildRemoved of a move should be flagged as moving")
			}
		}
	}
}

func TestSetPropertySkipsUnchanged(t *testing.T) {
	tree := state.NewTree()
	n := tree.New("N")
	events := record(tree, n)
	tree.SetProperty(n, "x", 1)
	tree.SetProperty(n, "x", 1)
	tree.SetProperty(n, "x", 2)
	if len(*events) != 2 {
		t.Fatalf("expected 2 property events, got %d", len(*events))
	}
	if got := tree.Int(n, "x", 0); got != 2 {
		t.Errorf("Int = %d, want 2", got)
	}
}

func TestMoveChild(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("ROOT")
	var ids []state.NodeID
	for i := 0; i < 3; i++ {
		ids = append(ids, tree.New("C"))
		tree.AppendChild(root, ids[i])
	}
	events := record(tree, root)
	tree.MoveChild(root, 0, 2)
	want := []state.NodeID{ids[1], ids[2], ids[0]}
	if diff := cmp.Diff(want, tree.Children(root)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]state.Event{state.ChildOrderChanged{Parent: root, Child: ids[0], From: 0, To: 2}}, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	tree := state.NewTree()
	n := tree.New("N")
	calls := 0
	var unsub func()
	unsub = tree.Subscribe(n, func(state.Event) {
		calls++
		unsub()
	})
	tree.SetProperty(n, "a", true)
	tree.SetProperty(n, "a", false)
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestRoundTrip(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("PROJECT", state.Property{Name: "name", Value: "song"})
	track := tree.New("TRACK",
		state.Property{Name: "name", Value: "true"},
		state.Property{Name: "isMaster", Value: true},
		state.Property{Name: "slot", Value: -1},
		state.Property{Name: "gain", Value: 1.0},
		state.Property{Name: "pan", Value: 0.25},
	)
	tree.AppendChild(root, track)
	tree.AppendChild(track, tree.New("PROCESSOR_LANES"))
	tree.AppendChild(root, tree.New("CONNECTIONS"))
	data, err := tree.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	other := state.NewTree()
	copied, err := other.Unmarshal(data, "PROJECT")
	if err != nil {
		t.Fatalf("Unmarshal failed: %v\n%s", err, data)
	}
	if diff := cmp.Diff(tree.Element(root), other.Element(copied)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if v, _ := other.Property(other.Child(copied, 0), "gain"); v != 1.0 {
		t.Errorf("float property lost its type: %#v", v)
	}
	if v, _ := other.Property(other.Child(copied, 0), "name"); v != "true" {
		t.Errorf("string property lost its type: %#v", v)
	}
}

func TestUnmarshalJSON(t *testing.T) {
	tree := state.NewTree()
	id, err := tree.Unmarshal([]byte(`{"tag": "PROJECT", "properties": {"name": "x", "n": 3}, "children": [{"tag": "TRACKS"}]}`), "PROJECT")
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if tree.Int(id, "n", 0) != 3 || tree.NumChildren(id) != 1 {
		t.Errorf("unexpected tree from JSON input")
	}
}

func TestUnmarshalWrongRoot(t *testing.T) {
	tree := state.NewTree()
	_, err := tree.Unmarshal([]byte("tag: TRACK\n"), "PROJECT")
	if err == nil || !strings.Contains(err.Error(), "root") {
		t.Fatalf("expected a root tag error, got %v", err)
	}
	if _, err := tree.Unmarshal([]byte("tag: [\n"), "PROJECT"); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestCopyIsEquivalent(t *testing.T) {
	tree := state.NewTree()
	root := tree.New("A", state.Property{Name: "x", Value: 1})
	tree.AppendChild(root, tree.New("B", state.Property{Name: "y", Value: "z"}))
	cp := tree.Copy(root)
	if cp == root || !tree.Equivalent(root, cp) {
		t.Fatalf("copy should be a distinct equivalent node")
	}
	tree.SetProperty(tree.Child(cp, 0), "y", "w")
	if tree.Equivalent(root, cp) {
		t.Fatalf("modified copy should no longer be equivalent")
	}
}
