package tracker

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/vm"
)

// Tags of the project tree.
const (
	TagProject        = "PROJECT"
	TagInput          = "INPUT"
	TagOutput         = "OUTPUT"
	TagTracks         = "TRACKS"
	TagTrack          = "TRACK"
	TagLanes          = "PROCESSOR_LANES"
	TagLane           = "PROCESSOR_LANE"
	TagProcessor      = "PROCESSOR"
	TagInputChannels  = "INPUT_CHANNELS"
	TagOutputChannels = "OUTPUT_CHANNELS"
	TagChannel        = "CHANNEL"
	TagParam          = "PARAM"
	TagConnections    = "CONNECTIONS"
	TagConnection     = "CONNECTION"
	TagSource         = "SOURCE"
	TagDestination    = "DESTINATION"
	TagView           = "VIEW"
)

// Property names of the project tree.
const (
	PropName                    = "name"
	PropUUID                    = "uuid"
	PropColour                  = "colour"
	PropIsMaster                = "isMaster"
	PropSelected                = "selected"
	PropSelectedSlotsMask       = "selectedSlotsMask"
	PropID                      = "id"
	PropSlot                    = "slot"
	PropNodeID                  = "nodeId"
	PropBypassed                = "bypassed"
	PropAcceptsMidi             = "acceptsMidi"
	PropProducesMidi            = "producesMidi"
	PropAllowDefaultConnections = "allowDefaultConnections"
	PropState                   = "state"
	PropDeviceName              = "deviceName"
	PropChannelIndex            = "channelIndex"
	PropAbbreviatedName         = "abbreviatedName"
	PropValue                   = "value"
	PropChannel                 = "channel"
	PropIsCustom                = "isCustomConnection"
	PropFocusedTrack            = "focusedTrack"
	PropFocusedSlot             = "focusedSlot"
)

type (
	// ConnectionType selects audio edges, MIDI edges or both.
	ConnectionType int

	// Project is a view over the project subtree of a state.Tree, with
	// accessors for the tracks, processors and connections in it.
	Project struct {
		Tree     *state.Tree
		Root     state.NodeID
		Registry *vm.Registry

		previews int
	}

	// Capabilities is the routing relevant summary of a processor node.
	Capabilities struct {
		Kind         vm.Kind
		Inputs       int
		Outputs      int
		AcceptsMidi  bool
		ProducesMidi bool
	}
)

const (
	Audio ConnectionType = iota
	Midi
	AllConnections
)

// IOSlot is the slot of track input and output processors.
const IOSlot = -1

var trackColours = []string{"ff5e81ac", "ffbf616a", "ffa3be8c", "ffebcb8b", "ffb48ead", "ff88c0d0"}

func (c ConnectionType) String() string {
	switch c {
	case Audio:
		return "audio"
	case Midi:
		return "midi"
	}
	return "all"
}

// NewProject creates an empty project: no tracks, no connections.
func NewProject(t *state.Tree, registry *vm.Registry) *Project {
	root := t.New(TagProject, state.Property{Name: PropName, Value: ""})
	for _, tag := range []string{TagInput, TagOutput, TagTracks, TagConnections} {
		t.AppendChild(root, t.New(tag))
	}
	t.AppendChild(root, t.New(TagView,
		state.Property{Name: PropFocusedTrack, Value: 0},
		state.Property{Name: PropFocusedSlot, Value: 0}))
	return &Project{Tree: t, Root: root, Registry: registry}
}

func (p *Project) section(tag string) state.NodeID {
	id := p.Tree.ChildWithTag(p.Root, tag)
	if id == state.None {
		panic(fmt.Sprintf("tracker: project has no %s", tag))
	}
	return id
}

func (p *Project) TracksNode() state.NodeID      { return p.section(TagTracks) }
func (p *Project) ConnectionsNode() state.NodeID { return p.section(TagConnections) }
func (p *Project) InputNode() state.NodeID       { return p.section(TagInput) }
func (p *Project) OutputNode() state.NodeID      { return p.section(TagOutput) }
func (p *Project) ViewNode() state.NodeID        { return p.section(TagView) }

func (p *Project) Tracks() []state.NodeID { return p.Tree.Children(p.TracksNode()) }

func (p *Project) Track(index int) state.NodeID { return p.Tree.Child(p.TracksNode(), index) }

func (p *Project) TrackIndex(track state.NodeID) int { return p.Tree.IndexOf(p.TracksNode(), track) }

func (p *Project) MasterTrack() state.NodeID {
	return p.Tree.ChildWithProperty(p.TracksNode(), PropIsMaster, true)
}

func (p *Project) IsMaster(track state.NodeID) bool { return p.Tree.Bool(track, PropIsMaster) }

// NewTrack makes a detached track with one empty lane and, unless the track
// is created without them, its input and output processors.
func (p *Project) NewTrack(name string, master bool, index int) state.NodeID {
	t := p.Tree
	track := t.New(TagTrack,
		state.Property{Name: PropUUID, Value: uuid.NewString()},
		state.Property{Name: PropName, Value: name},
		state.Property{Name: PropColour, Value: trackColours[max(index, 0)%len(trackColours)]},
		state.Property{Name: PropIsMaster, Value: master},
		state.Property{Name: PropSelected, Value: false},
	)
	t.AppendChild(track, p.NewProcessor(vm.TrackInputID, IOSlot))
	lanes := t.New(TagLanes)
	t.AppendChild(lanes, t.New(TagLane, state.Property{Name: PropSelectedSlotsMask, Value: ""}))
	t.AppendChild(track, lanes)
	t.AppendChild(track, p.NewProcessor(vm.TrackOutputID, IOSlot))
	return track
}

// NewProcessor makes a detached processor node. Channels, parameters and the
// nodeId are filled in by the ProcessorGraph when the node is attached.
func (p *Project) NewProcessor(id string, slot int) state.NodeID {
	name := id
	if d, ok := p.Registry.Lookup(id); ok {
		name = d.Name
	}
	return p.Tree.New(TagProcessor,
		state.Property{Name: PropID, Value: id},
		state.Property{Name: PropName, Value: name},
		state.Property{Name: PropSlot, Value: slot},
		state.Property{Name: PropBypassed, Value: false},
		state.Property{Name: PropAllowDefaultConnections, Value: true},
	)
}

// Lanes returns the lanes of the track.
func (p *Project) Lanes(track state.NodeID) []state.NodeID {
	return p.Tree.Children(p.Tree.ChildWithTag(track, TagLanes))
}

// Lane returns the first lane of the track.
func (p *Project) Lane(track state.NodeID) state.NodeID {
	return p.Tree.Child(p.Tree.ChildWithTag(track, TagLanes), 0)
}

// LaneFor returns the lane of a processor. Track IO processors belong to the
// first lane of their track.
func (p *Project) LaneFor(proc state.NodeID) state.NodeID {
	if parent := p.Tree.Parent(proc); p.Tree.Is(parent, TagLane) {
		return parent
	}
	if track := p.TrackFor(proc); track != state.None {
		return p.Lane(track)
	}
	return state.None
}

func (p *Project) TrackFor(node state.NodeID) state.NodeID { return p.Tree.Ancestor(node, TagTrack) }

func (p *Project) InputProcessor(track state.NodeID) state.NodeID {
	return p.Tree.ChildWithProperty(track, PropID, vm.TrackInputID)
}

func (p *Project) OutputProcessor(track state.NodeID) state.NodeID {
	return p.Tree.ChildWithProperty(track, PropID, vm.TrackOutputID)
}

// LaneProcessors returns the processors of all the lanes of the track, lane
// by lane in slot order.
func (p *Project) LaneProcessors(track state.NodeID) []state.NodeID {
	var ret []state.NodeID
	for _, lane := range p.Lanes(track) {
		ret = append(ret, p.Tree.Children(lane)...)
	}
	return ret
}

// AllProcessors returns the input processor, the lane processors and the
// output processor of the track.
func (p *Project) AllProcessors(track state.NodeID) []state.NodeID {
	var ret []state.NodeID
	if in := p.InputProcessor(track); in != state.None {
		ret = append(ret, in)
	}
	ret = append(ret, p.LaneProcessors(track)...)
	if out := p.OutputProcessor(track); out != state.None {
		ret = append(ret, out)
	}
	return ret
}

// Processors returns every processor of the project: external inputs, track
// processors and external outputs.
func (p *Project) Processors() []state.NodeID {
	ret := p.Tree.Children(p.InputNode())
	for _, track := range p.Tracks() {
		ret = append(ret, p.AllProcessors(track)...)
	}
	return append(ret, p.Tree.Children(p.OutputNode())...)
}

// ProcessorByNodeID finds the processor with the runtime id, or None.
func (p *Project) ProcessorByNodeID(id vm.NodeID) state.NodeID {
	if id == 0 {
		return state.None
	}
	for _, proc := range p.Processors() {
		if p.NodeID(proc) == id {
			return proc
		}
	}
	return state.None
}

func (p *Project) NodeID(proc state.NodeID) vm.NodeID {
	return vm.NodeID(p.Tree.Int(proc, PropNodeID, 0))
}

func (p *Project) Slot(proc state.NodeID) int { return p.Tree.Int(proc, PropSlot, IOSlot) }

func (p *Project) ProcessorID(proc state.NodeID) string { return p.Tree.String(proc, PropID) }

// AudioOutputProcessor is the external audio output, where unresolved default
// connections end up.
func (p *Project) AudioOutputProcessor() state.NodeID {
	return p.Tree.ChildWithProperty(p.OutputNode(), PropID, vm.AudioOutputID)
}

func (p *Project) AudioInputProcessor() state.NodeID {
	return p.Tree.ChildWithProperty(p.InputNode(), PropID, vm.AudioInputID)
}

func (p *Project) MidiInputProcessors() []state.NodeID {
	var ret []state.NodeID
	for _, proc := range p.Tree.Children(p.InputNode()) {
		if p.ProcessorID(proc) == vm.MidiInputID {
			ret = append(ret, proc)
		}
	}
	return ret
}

// Capabilities summarizes a processor node from its channel children and
// flags.
func (p *Project) Capabilities(proc state.NodeID) Capabilities {
	t := p.Tree
	c := Capabilities{
		Kind:         vm.KindPlugin,
		AcceptsMidi:  t.Bool(proc, PropAcceptsMidi),
		ProducesMidi: t.Bool(proc, PropProducesMidi),
	}
	if d, ok := p.Registry.Lookup(p.ProcessorID(proc)); ok {
		c.Kind = d.Kind
	}
	if in := t.ChildWithTag(proc, TagInputChannels); in != state.None {
		c.Inputs = t.NumChildren(in)
	}
	if out := t.ChildWithTag(proc, TagOutputChannels); out != state.None {
		c.Outputs = t.NumChildren(out)
	}
	return c
}

// IsProducer reports if the processor has outputs of the type.
func (p *Project) IsProducer(proc state.NodeID, ct ConnectionType) bool {
	if !p.Tree.Is(proc, TagProcessor) {
		return false
	}
	c := p.Capabilities(proc)
	return (ct != Midi && c.Outputs > 0) || (ct != Audio && c.ProducesMidi)
}

// IsEffect reports if the processor has inputs of the type.
func (p *Project) IsEffect(proc state.NodeID, ct ConnectionType) bool {
	if !p.Tree.Is(proc, TagProcessor) {
		return false
	}
	c := p.Capabilities(proc)
	return (ct != Midi && c.Inputs > 0) || (ct != Audio && c.AcceptsMidi)
}

func (p *Project) AllowsDefaultConnections(proc state.NodeID) bool {
	return p.Tree.Bool(proc, PropAllowDefaultConnections)
}

// Edge returns the endpoints of a connection node.
func (p *Project) Edge(conn state.NodeID) vm.Edge {
	t := p.Tree
	src, dst := t.ChildWithTag(conn, TagSource), t.ChildWithTag(conn, TagDestination)
	return vm.Edge{
		Source:      vm.Endpoint{Node: vm.NodeID(t.Int(src, PropNodeID, 0)), Channel: t.Int(src, PropChannel, 0)},
		Destination: vm.Endpoint{Node: vm.NodeID(t.Int(dst, PropNodeID, 0)), Channel: t.Int(dst, PropChannel, 0)},
	}
}

func (p *Project) IsCustom(conn state.NodeID) bool { return p.Tree.Bool(conn, PropIsCustom) }

// NewConnection makes a detached connection node.
func (p *Project) NewConnection(e vm.Edge, custom bool) state.NodeID {
	t := p.Tree
	conn := t.New(TagConnection)
	if custom {
		t.SetProperty(conn, PropIsCustom, true)
	}
	t.AppendChild(conn, t.New(TagSource,
		state.Property{Name: PropNodeID, Value: int(e.Source.Node)},
		state.Property{Name: PropChannel, Value: e.Source.Channel}))
	t.AppendChild(conn, t.New(TagDestination,
		state.Property{Name: PropNodeID, Value: int(e.Destination.Node)},
		state.Property{Name: PropChannel, Value: e.Destination.Channel}))
	return conn
}

// preview applies u, calls f and reverts u. The processor graph does not
// propagate changes made during a preview.
func (p *Project) preview(u Previewer, f func()) {
	p.previews++
	defer func() { p.previews-- }()
	u.PerformTemporary()
	defer u.UndoTemporary()
	f()
}

func (p *Project) previewing() bool { return p.previews > 0 }

// FocusedTrack returns the track the view is focused on, or None.
func (p *Project) FocusedTrack() state.NodeID {
	return p.Track(p.Tree.Int(p.ViewNode(), PropFocusedTrack, 0))
}
