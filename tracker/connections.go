package tracker

import (
	"slices"

	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/vm"
)

// Connections is the read-only query view over the CONNECTIONS subtree.
type Connections Project

func (p *Project) Connections() *Connections { return (*Connections)(p) }

func (c *Connections) project() *Project { return (*Project)(c) }

// All returns every connection node.
func (c *Connections) All() []state.NodeID {
	return c.Tree.Children(c.project().ConnectionsNode())
}

func channelMatches(channel int, ct ConnectionType) bool {
	switch ct {
	case Audio:
		return channel != vm.MidiChannel
	case Midi:
		return channel == vm.MidiChannel
	}
	return true
}

// ForNode returns the connections touching the processor.
func (c *Connections) ForNode(proc state.NodeID, ct ConnectionType, incoming, outgoing, includeCustom, includeDefault bool) []state.NodeID {
	p := c.project()
	id := p.NodeID(proc)
	var ret []state.NodeID
	for _, conn := range c.All() {
		if custom := p.IsCustom(conn); (custom && !includeCustom) || (!custom && !includeDefault) {
			continue
		}
		e := p.Edge(conn)
		if (incoming && e.Destination.Node == id && channelMatches(e.Destination.Channel, ct)) ||
			(outgoing && e.Source.Node == id && channelMatches(e.Source.Channel, ct)) {
			ret = append(ret, conn)
		}
	}
	return ret
}

// Matching returns the connection with exactly these endpoints, or None.
func (c *Connections) Matching(e vm.Edge) state.NodeID {
	for _, conn := range c.All() {
		if c.project().Edge(conn) == e {
			return conn
		}
	}
	return state.None
}

// IsNodeConnected reports if any connection has the node as its source.
func (c *Connections) IsNodeConnected(id vm.NodeID) bool {
	for _, conn := range c.All() {
		if c.project().Edge(conn).Source.Node == id {
			return true
		}
	}
	return false
}

// AnyNonMasterTrackHasEffectProcessor reports if some non-master track has a
// lane processor taking input of the type.
func (c *Connections) AnyNonMasterTrackHasEffectProcessor(ct ConnectionType) bool {
	p := c.project()
	for _, track := range p.Tracks() {
		if p.IsMaster(track) {
			continue
		}
		for _, proc := range p.LaneProcessors(track) {
			if p.IsEffect(proc, ct) {
				return true
			}
		}
	}
	return false
}

// IsAnInputTo reports if signal flows from upstream to downstream along the
// connections of the project.
func (c *Connections) IsAnInputTo(upstream, downstream vm.NodeID) bool {
	if upstream == downstream {
		return false
	}
	return c.reaches(upstream, downstream)
}

// WouldCreateCycle reports if adding the edge would close a loop.
func (c *Connections) WouldCreateCycle(e vm.Edge) bool {
	return e.Source.Node == e.Destination.Node || c.reaches(e.Destination.Node, e.Source.Node)
}

func (c *Connections) reaches(from, to vm.NodeID) bool {
	edges := map[vm.NodeID][]vm.NodeID{}
	for _, conn := range c.All() {
		e := c.project().Edge(conn)
		edges[e.Source.Node] = append(edges[e.Source.Node], e.Destination.Node)
	}
	seen := map[vm.NodeID]bool{}
	stack := []vm.NodeID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, edges[n]...)
	}
	return false
}

// CanConnect reports if a connection with the endpoints could be added: both
// processors exist, the channel types match, the channels exist, no such
// connection exists yet and the connection would not close a loop.
func (c *Connections) CanConnect(e vm.Edge) bool {
	p := c.project()
	if e.Source.Node == e.Destination.Node {
		return false
	}
	src, dst := p.ProcessorByNodeID(e.Source.Node), p.ProcessorByNodeID(e.Destination.Node)
	if src == state.None || dst == state.None {
		return false
	}
	srcMidi, dstMidi := e.Source.Channel == vm.MidiChannel, e.Destination.Channel == vm.MidiChannel
	if e.Source.Channel < 0 || e.Destination.Channel < 0 || srcMidi != dstMidi {
		return false
	}
	sc, dc := p.Capabilities(src), p.Capabilities(dst)
	if srcMidi {
		if !sc.ProducesMidi || !dc.AcceptsMidi {
			return false
		}
	} else if e.Source.Channel >= sc.Outputs || e.Destination.Channel >= dc.Inputs {
		return false
	}
	return c.Matching(e) == state.None && !c.WouldCreateCycle(e)
}

// insertIndex is the position where a connection with the edge belongs; the
// CONNECTIONS children are kept sorted by endpoints, so that undoing and
// redoing restores the exact same order.
func (c *Connections) insertIndex(e vm.Edge) int {
	all := c.All()
	i, _ := slices.BinarySearchFunc(all, e, func(conn state.NodeID, e vm.Edge) int {
		return vm.CompareEdges(c.project().Edge(conn), e)
	})
	return i
}
