package tracker

import (
	"slices"

	"github.com/vsariola/soundmachine/state"
)

type (
	// errorTaker reports a failure that happened while an undoable was being
	// performed, e.g. a processor that could not be instantiated.
	errorTaker interface {
		TakeError() error
	}

	// insertNode attaches a detached node. If attaching the node makes the
	// processor graph fail, the node is detached again and the error is kept.
	insertNode struct {
		t             *state.Tree
		parent, child state.NodeID
		index         int
		errs          errorTaker
		err           error
	}

	// removeNode detaches a node, remembering where it was.
	removeNode struct {
		t             *state.Tree
		parent, child state.NodeID
		index         int
	}

	// compound performs its parts in order and undoes them in reverse. If a
	// part fails, the parts already performed are undone.
	compound []Undoable

	setProperty struct {
		t          *state.Tree
		node       state.NodeID
		name       string
		old, value any
		hadOld     bool
	}

	placement struct {
		proc, lane state.NodeID
		slot       int
	}

	// moveProcessors moves processors to new lanes and slots. Lanes stay
	// sorted by slot.
	moveProcessors struct {
		p             *Project
		before, after []placement
	}

	// withConnections is a structural change followed by the connection edits
	// it implies. Two of them coalesce part by part.
	withConnections struct {
		change Undoable
		conns  *ConnectionEdits
	}
)

func (a *insertNode) Perform() bool {
	if a.t.Parent(a.child) != state.None || !a.t.InsertChild(a.parent, a.child, a.index) {
		return false
	}
	if a.errs == nil {
		return true
	}
	if err := a.errs.TakeError(); err != nil {
		a.t.RemoveChild(a.parent, a.child)
		a.err = err
		return false
	}
	return true
}

func (a *insertNode) Undo() bool { return a.t.RemoveChild(a.parent, a.child) }

func newRemoveNode(t *state.Tree, child state.NodeID) *removeNode {
	return &removeNode{t: t, child: child}
}

func (a *removeNode) Perform() bool {
	a.parent = a.t.Parent(a.child)
	if a.parent == state.None {
		return false
	}
	a.index = a.t.IndexOf(a.parent, a.child)
	return a.t.RemoveChild(a.parent, a.child)
}

func (a *removeNode) Undo() bool { return a.t.InsertChild(a.parent, a.child, a.index) }

func (c compound) Perform() bool {
	for i, a := range c {
		if !a.Perform() {
			for j := i - 1; j >= 0; j-- {
				c[j].Undo()
			}
			return false
		}
	}
	return true
}

func (c compound) Undo() bool {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].Undo()
	}
	return true
}

// err returns the first failure recorded by an insertNode in c.
func (c compound) err() error {
	for _, a := range c {
		switch a := a.(type) {
		case *insertNode:
			if a.err != nil {
				return a.err
			}
		case compound:
			if err := a.err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func newSetProperty(t *state.Tree, node state.NodeID, name string, value any) *setProperty {
	old, ok := t.Property(node, name)
	return &setProperty{t: t, node: node, name: name, old: old, value: value, hadOld: ok}
}

func (a *setProperty) Changed() bool { return !a.hadOld || a.old != a.value }

func (a *setProperty) Perform() bool {
	a.t.SetProperty(a.node, a.name, a.value)
	return true
}

func (a *setProperty) Undo() bool {
	if !a.hadOld {
		a.t.RemoveProperty(a.node, a.name)
	} else {
		a.t.SetProperty(a.node, a.name, a.old)
	}
	return true
}

func (a *setProperty) Coalesce(next Undoable) (Undoable, bool) {
	n, ok := next.(*setProperty)
	if !ok || n.node != a.node || n.name != a.name {
		return nil, false
	}
	return &setProperty{t: a.t, node: a.node, name: a.name, old: a.old, value: n.value, hadOld: a.hadOld}, true
}

func (p *Project) placementOf(proc state.NodeID) placement {
	return placement{proc: proc, lane: p.Tree.Parent(proc), slot: p.Slot(proc)}
}

// newMoveProcessors moves each processor to lane and slot given in to.
func newMoveProcessors(p *Project, to []placement) *moveProcessors {
	a := &moveProcessors{p: p, after: slices.Clone(to)}
	for _, pl := range to {
		a.before = append(a.before, p.placementOf(pl.proc))
	}
	return a
}

func (a *moveProcessors) Changed() bool { return !slices.Equal(a.before, a.after) }

func (a *moveProcessors) Perform() bool { return a.apply(a.after) }
func (a *moveProcessors) Undo() bool    { return a.apply(a.before) }

func (a *moveProcessors) PerformTemporary() { a.Perform() }
func (a *moveProcessors) UndoTemporary()    { a.Undo() }

func (a *moveProcessors) apply(places []placement) bool {
	t := a.p.Tree
	var lanes []state.NodeID
	for _, pl := range places {
		if t.Parent(pl.proc) != pl.lane {
			if !t.Reparent(pl.proc, pl.lane, t.NumChildren(pl.lane)) {
				return false
			}
		}
		t.SetProperty(pl.proc, PropSlot, pl.slot)
		if !slices.Contains(lanes, pl.lane) {
			lanes = append(lanes, pl.lane)
		}
	}
	for _, lane := range lanes {
		a.p.sortLane(lane)
	}
	return true
}

// sortLane restores the slot order of the lane with MoveChild, so that the
// reorder is observable as ChildOrderChanged events.
func (p *Project) sortLane(lane state.NodeID) {
	t := p.Tree
	for i := 1; i < t.NumChildren(lane); i++ {
		s := p.Slot(t.Child(lane, i))
		j := i
		for j > 0 && p.Slot(t.Child(lane, j-1)) > s {
			j--
		}
		if j != i {
			t.MoveChild(lane, i, j)
		}
	}
}

func (a *moveProcessors) Coalesce(next Undoable) (Undoable, bool) {
	n, ok := next.(*moveProcessors)
	if !ok {
		return nil, false
	}
	ret := &moveProcessors{p: a.p, before: slices.Clone(a.before), after: slices.Clone(a.after)}
	for i, pl := range n.after {
		if j := slices.IndexFunc(ret.after, func(o placement) bool { return o.proc == pl.proc }); j >= 0 {
			ret.after[j] = pl
			continue
		}
		ret.before = append(ret.before, n.before[i])
		ret.after = append(ret.after, pl)
	}
	return ret, true
}

// laneInsertIndex is the child index where a processor with the slot belongs.
func (p *Project) laneInsertIndex(lane state.NodeID, slot int) int {
	i := 0
	for _, proc := range p.Tree.Children(lane) {
		if p.Slot(proc) < slot {
			i++
		}
	}
	return i
}

// shiftSlots returns the placements that free the slot of the lane: the
// processor in the slot and every processor right after it in a contiguous
// run are pushed down by one.
func (p *Project) shiftSlots(lane state.NodeID, slot int) []placement {
	var ret []placement
	for _, proc := range p.Tree.Children(lane) {
		s := p.Slot(proc)
		if s < slot {
			continue
		}
		if s > slot {
			break
		}
		ret = append(ret, placement{proc: proc, lane: lane, slot: s + 1})
		slot++
	}
	return ret
}

func (a *withConnections) Perform() bool {
	if !a.change.Perform() {
		return false
	}
	return a.conns.Perform()
}

func (a *withConnections) Undo() bool {
	a.conns.Undo()
	return a.change.Undo()
}

func (a *withConnections) Changed() bool {
	if c, ok := a.change.(Changer); ok && !c.Changed() {
		return a.conns.Changed()
	}
	return true
}

func (a *withConnections) Coalesce(next Undoable) (Undoable, bool) {
	n, ok := next.(*withConnections)
	if !ok {
		return nil, false
	}
	cc, ok := a.change.(Coalescer)
	if !ok {
		return nil, false
	}
	change, ok := cc.Coalesce(n.change)
	if !ok {
		return nil, false
	}
	conns, _ := a.conns.Coalesce(n.conns)
	return &withConnections{change: change, conns: conns.(*ConnectionEdits)}, true
}
