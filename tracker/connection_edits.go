package tracker

import (
	"math"
	"slices"

	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/vm"
)

// ConnectionEdits is a set of connections to delete and connections to
// create, applied as one undoable. Adding a connection that is already
// scheduled for deletion cancels the deletion and vice versa, which is what
// makes a sequence of edits coalesce into their net effect.
type ConnectionEdits struct {
	p      *Project
	create []state.NodeID // detached until performed
	delete []state.NodeID // attached until performed
}

func newConnectionEdits(p *Project) *ConnectionEdits { return &ConnectionEdits{p: p} }

func (a *ConnectionEdits) equivalent(x, y state.NodeID) bool {
	return x == y || a.p.Tree.Equivalent(x, y)
}

func (a *ConnectionEdits) addCreate(conn state.NodeID) {
	if i := slices.IndexFunc(a.delete, func(d state.NodeID) bool { return a.equivalent(d, conn) }); i >= 0 {
		a.delete = slices.Delete(a.delete, i, i+1)
		return
	}
	if !slices.ContainsFunc(a.create, func(c state.NodeID) bool { return a.equivalent(c, conn) }) {
		a.create = append(a.create, conn)
	}
}

func (a *ConnectionEdits) addDelete(conn state.NodeID) {
	if i := slices.IndexFunc(a.create, func(c state.NodeID) bool { return a.equivalent(c, conn) }); i >= 0 {
		a.create = slices.Delete(a.create, i, i+1)
		return
	}
	if !slices.Contains(a.delete, conn) {
		a.delete = append(a.delete, conn)
	}
}

// merge folds other into a, deletions first.
func (a *ConnectionEdits) merge(other *ConnectionEdits) {
	for _, d := range other.delete {
		a.addDelete(d)
	}
	for _, c := range other.create {
		a.addCreate(c)
	}
}

func (a *ConnectionEdits) Changed() bool { return len(a.create) > 0 || len(a.delete) > 0 }

// Created and Deleted return the connections the edits add and remove.
func (a *ConnectionEdits) Created() []state.NodeID { return slices.Clone(a.create) }
func (a *ConnectionEdits) Deleted() []state.NodeID { return slices.Clone(a.delete) }

func (a *ConnectionEdits) Perform() bool {
	conns := a.p.ConnectionsNode()
	for _, d := range a.delete {
		a.p.Tree.RemoveChild(conns, d)
	}
	for _, c := range a.create {
		a.p.Tree.InsertChild(conns, c, a.p.Connections().insertIndex(a.p.Edge(c)))
	}
	return true
}

func (a *ConnectionEdits) Undo() bool {
	conns := a.p.ConnectionsNode()
	for i := len(a.create) - 1; i >= 0; i-- {
		a.p.Tree.RemoveChild(conns, a.create[i])
	}
	for i := len(a.delete) - 1; i >= 0; i-- {
		a.p.Tree.InsertChild(conns, a.delete[i], a.p.Connections().insertIndex(a.p.Edge(a.delete[i])))
	}
	return true
}

func (a *ConnectionEdits) PerformTemporary() { a.Perform() }
func (a *ConnectionEdits) UndoTemporary()    { a.Undo() }

func (a *ConnectionEdits) Coalesce(next Undoable) (Undoable, bool) {
	n, ok := next.(*ConnectionEdits)
	if !ok {
		return nil, false
	}
	ret := &ConnectionEdits{p: a.p, create: slices.Clone(a.create), delete: slices.Clone(a.delete)}
	ret.merge(n)
	return ret, true
}

// CreateConnection schedules a connection with the endpoints. A default
// connection is only made if both processors allow default connections. An
// impossible connection gives empty edits.
func CreateConnection(p *Project, e vm.Edge, custom bool) *ConnectionEdits {
	a := newConnectionEdits(p)
	if !p.Connections().CanConnect(e) {
		return a
	}
	if !custom {
		src, dst := p.ProcessorByNodeID(e.Source.Node), p.ProcessorByNodeID(e.Destination.Node)
		if !p.AllowsDefaultConnections(src) || !p.AllowsDefaultConnections(dst) {
			return a
		}
	}
	a.addCreate(p.NewConnection(e, custom))
	return a
}

// DeleteConnection schedules the removal of conn, if its kind is allowed.
func DeleteConnection(p *Project, conn state.NodeID, allowCustom, allowDefault bool) *ConnectionEdits {
	a := newConnectionEdits(p)
	if custom := p.IsCustom(conn); (custom && allowCustom) || (!custom && allowDefault) {
		a.addDelete(conn)
	}
	return a
}

// DisconnectProcessor schedules the removal of the processor's connections
// of the type, except the ones going to excludingTo (zero excludes nothing).
func DisconnectProcessor(p *Project, proc state.NodeID, ct ConnectionType, defaults, custom, incoming, outgoing bool, excludingTo vm.NodeID) *ConnectionEdits {
	a := newConnectionEdits(p)
	for _, conn := range p.Connections().ForNode(proc, ct, incoming, outgoing, true, true) {
		if excludingTo != 0 && p.Edge(conn).Destination.Node == excludingTo {
			continue
		}
		a.merge(DeleteConnection(p, conn, custom, defaults))
	}
	return a
}

// DefaultConnectProcessor schedules default connections from proc to the
// processor with runtime id to. Audio channels connect one to one up to the
// smaller channel count; MIDI connects MIDI.
func DefaultConnectProcessor(p *Project, proc state.NodeID, to vm.NodeID, ct ConnectionType) *ConnectionEdits {
	a := newConnectionEdits(p)
	dest := p.ProcessorByNodeID(to)
	if proc == state.None || dest == state.None || !p.Connections().canDefaultConnect(proc, dest, ct) {
		return a
	}
	from := p.NodeID(proc)
	if ct == Midi {
		a.merge(CreateConnection(p, vm.Edge{
			Source:      vm.Endpoint{Node: from, Channel: vm.MidiChannel},
			Destination: vm.Endpoint{Node: to, Channel: vm.MidiChannel},
		}, false))
		return a
	}
	n := min(p.Capabilities(proc).Outputs, p.Capabilities(dest).Inputs)
	for ch := 0; ch < n; ch++ {
		a.merge(CreateConnection(p, vm.Edge{
			Source:      vm.Endpoint{Node: from, Channel: ch},
			Destination: vm.Endpoint{Node: to, Channel: ch},
		}, false))
	}
	return a
}

// UpdateProcessorDefaultConnections recomputes the default outgoing
// connections of proc for both connection types. Stale defaults are deleted,
// or converted into custom connections if makeInvalidDefaultsIntoCustom is
// set. Types with custom outgoing connections are left alone.
func UpdateProcessorDefaultConnections(p *Project, proc state.NodeID, makeInvalidDefaultsIntoCustom bool) *ConnectionEdits {
	a := newConnectionEdits(p)
	for _, ct := range []ConnectionType{Audio, Midi} {
		if len(p.Connections().ForNode(proc, ct, false, true, true, false)) > 0 {
			continue
		}
		dest := p.Connections().FindDefaultDestinationProcessor(proc, ct)
		if dest == state.None {
			dest = p.AudioOutputProcessor()
		}
		to := p.NodeID(dest)
		disconnect := DisconnectProcessor(p, proc, ct, true, false, false, true, to)
		a.merge(disconnect)
		if makeInvalidDefaultsIntoCustom {
			for _, conn := range disconnect.delete {
				a.addCreate(p.NewConnection(p.Edge(conn), true))
			}
		} else {
			a.merge(DefaultConnectProcessor(p, proc, to, ct))
		}
	}
	return a
}

// UpdateAllDefaultConnections recomputes the default connections of every
// track processor and optionally reroutes the external inputs to the
// focused track.
func UpdateAllDefaultConnections(p *Project, makeInvalidDefaultsIntoCustom, resetExternalInputs bool, focusedTrack state.NodeID) *ConnectionEdits {
	a := newConnectionEdits(p)
	for _, track := range p.Tracks() {
		for _, proc := range p.AllProcessors(track) {
			a.merge(UpdateProcessorDefaultConnections(p, proc, makeInvalidDefaultsIntoCustom))
		}
	}
	if resetExternalInputs {
		var reset *ConnectionEdits
		p.preview(a, func() { reset = ResetDefaultExternalInputConnections(p, focusedTrack) })
		a.merge(reset)
	}
	return a
}

// ResetDefaultExternalInputConnections routes the external audio and MIDI
// inputs to the focused track: to the topmost effect of the track, or to the
// most upstream processor feeding it that has no other input yet.
func ResetDefaultExternalInputConnections(p *Project, focusedTrack state.NodeID) *ConnectionEdits {
	a := newConnectionEdits(p)
	if focusedTrack == state.None {
		focusedTrack = p.FocusedTrack()
	}
	for _, ct := range []ConnectionType{Audio, Midi} {
		var sources []state.NodeID
		if ct == Audio {
			if in := p.AudioInputProcessor(); in != state.None {
				sources = append(sources, in)
			}
		} else {
			sources = p.MidiInputProcessors()
		}
		disconnect := newConnectionEdits(p)
		for _, src := range sources {
			disconnect.merge(DisconnectProcessor(p, src, ct, true, false, false, true, 0))
		}
		a.merge(disconnect)
		if focusedTrack == state.None {
			continue
		}
		var topmost state.NodeID
		for _, proc := range p.AllProcessors(focusedTrack) {
			if p.IsEffect(proc, ct) {
				topmost = proc
				break
			}
		}
		// computed as if the old connections were gone, so that an unchanged
		// routing cancels out
		connect := newConnectionEdits(p)
		p.preview(disconnect, func() {
			if dest := mostUpstreamAvailableProcessor(p, topmost, ct); dest != state.None {
				for _, src := range sources {
					connect.merge(DefaultConnectProcessor(p, src, p.NodeID(dest), ct))
				}
			}
		})
		a.merge(connect)
	}
	return a
}

// mostUpstreamAvailableProcessor finds the processor with the lowest slot
// that feeds proc and takes no input other than the external inputs. If
// there is none, proc itself is returned when it is available.
func mostUpstreamAvailableProcessor(p *Project, proc state.NodeID, ct ConnectionType) state.NodeID {
	if proc == state.None {
		return state.None
	}
	lowest, best := math.MaxInt, state.None
	for _, track := range p.Tracks() {
		for _, other := range p.AllProcessors(track) {
			if other == proc {
				continue
			}
			if slot := p.Slot(other); slot < lowest && availableForExternalInput(p, other, ct) &&
				p.Connections().IsAnInputTo(p.NodeID(other), p.NodeID(proc)) {
				lowest, best = slot, other
			}
		}
	}
	if best == state.None && availableForExternalInput(p, proc, ct) {
		return proc
	}
	return best
}

func availableForExternalInput(p *Project, proc state.NodeID, ct ConnectionType) bool {
	if !p.IsEffect(proc, ct) {
		return false
	}
	for _, conn := range p.Connections().ForNode(proc, ct, true, false, true, true) {
		src := p.ProcessorByNodeID(p.Edge(conn).Source.Node)
		if p.Tree.Parent(src) != p.InputNode() {
			return false
		}
	}
	return true
}

// PruneInvalidConnections schedules the removal of the processor's
// connections that refer to channels the processor no longer has.
func PruneInvalidConnections(p *Project, proc state.NodeID) *ConnectionEdits {
	a := newConnectionEdits(p)
	id, c := p.NodeID(proc), p.Capabilities(proc)
	for _, conn := range p.Connections().ForNode(proc, AllConnections, true, true, true, true) {
		e := p.Edge(conn)
		if e.Source.Node == id && !channelExists(e.Source.Channel, c.Outputs, c.ProducesMidi) ||
			e.Destination.Node == id && !channelExists(e.Destination.Channel, c.Inputs, c.AcceptsMidi) {
			a.addDelete(conn)
		}
	}
	return a
}

func channelExists(channel, count int, midi bool) bool {
	if channel == vm.MidiChannel {
		return midi
	}
	return channel >= 0 && channel < count
}
