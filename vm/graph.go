package vm

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Graph is the live audio graph. Structural changes are made on the owning
	// goroutine under a mutex; each change publishes a new immutable render
	// plan through an atomic pointer, so Render never sees a half updated
	// graph and never blocks on the owner.
	Graph struct {
		mu     sync.Mutex
		nodes  map[NodeID]*Node
		edges  map[Edge]struct{}
		lastID NodeID
		plan   atomic.Pointer[plan]
		midiIn chan midi.Message

		sampleRate  float64
		pendingMidi []midi.Message // owned by Render
	}

	Node struct {
		ID        NodeID
		Processor Processor
		layout    Layout
		bypassed  atomic.Bool
	}

	plan struct {
		steps []step
		index map[NodeID]int
	}

	step struct {
		node   *Node
		layout Layout
		inputs []Edge
		block  Block
	}
)

var (
	ErrNodeExists  = errors.New("node id already in use")
	ErrNilInstance = errors.New("nil processor instance")
)

// Preparer is implemented by processors that need to know the sample rate
// before rendering.
type Preparer interface {
	Prepare(sampleRate float64)
}

func NewGraph(sampleRate float64) *Graph {
	g := &Graph{
		nodes:      map[NodeID]*Node{},
		edges:      map[Edge]struct{}{},
		midiIn:     make(chan midi.Message, 1024),
		sampleRate: sampleRate,
	}
	g.plan.Store(&plan{index: map[NodeID]int{}})
	return g
}

// AddNode adds a processor instance. If id is zero, a fresh id is assigned.
func (g *Graph) AddNode(p Processor, id NodeID) (*Node, error) {
	if p == nil {
		return nil, ErrNilInstance
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == 0 {
		id = g.lastID + 1
		for g.nodes[id] != nil {
			id++
		}
	}
	if g.nodes[id] != nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	if id > g.lastID {
		g.lastID = id
	}
	if pr, ok := p.(Preparer); ok {
		pr.Prepare(g.sampleRate)
	}
	n := &Node{ID: id, Processor: p, layout: p.Layout()}
	g.nodes[id] = n
	g.rebuild()
	return n, nil
}

// RemoveNode removes the node and every edge touching it.
func (g *Graph) RemoveNode(id NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[id] == nil {
		return false
	}
	delete(g.nodes, id)
	for e := range g.edges {
		if e.Source.Node == id || e.Destination.Node == id {
			delete(g.edges, e)
		}
	}
	if g.lastID == id {
		g.lastID--
	}
	g.rebuild()
	return true
}

func (g *Graph) Node(id NodeID) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// RefreshLayout rereads the layout of the node's processor and removes the
// edges that became invalid. The removed edges are returned.
func (g *Graph) RefreshLayout(id NodeID) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	n.layout = n.Processor.Layout()
	var removed []Edge
	for e := range g.edges {
		if (e.Source.Node == id || e.Destination.Node == id) && !g.valid(e) {
			delete(g.edges, e)
			removed = append(removed, e)
		}
	}
	g.rebuild()
	return removed
}

// CanConnect reports if the edge could be added: both nodes exist, channel
// types match, channels are in range and the edge would not create a loop.
func (g *Graph) CanConnect(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, exists := g.edges[e]
	return !exists && g.valid(e) && !g.reaches(e.Destination.Node, e.Source.Node)
}

func (g *Graph) AddConnection(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.edges[e]; exists || !g.valid(e) || g.reaches(e.Destination.Node, e.Source.Node) {
		return false
	}
	g.edges[e] = struct{}{}
	g.rebuild()
	return true
}

func (g *Graph) RemoveConnection(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.edges[e]; !exists {
		return false
	}
	delete(g.edges, e)
	g.rebuild()
	return true
}

func (g *Graph) IsConnected(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.edges[e]
	return ok
}

// Connections returns all edges in a deterministic order.
func (g *Graph) Connections() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	ret := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		ret = append(ret, e)
	}
	slices.SortFunc(ret, CompareEdges)
	return ret
}

// NodeIDs returns the ids of all nodes in ascending order.
func (g *Graph) NodeIDs() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ret := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// IsAnInputTo reports if audio or MIDI flows from upstream to downstream
// through one or more edges.
func (g *Graph) IsAnInputTo(upstream, downstream NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return upstream != downstream && g.reaches(upstream, downstream)
}

func CompareEdges(a, b Edge) int {
	switch {
	case a.Source.Node != b.Source.Node:
		return cmpInt(int(a.Source.Node), int(b.Source.Node))
	case a.Source.Channel != b.Source.Channel:
		return cmpInt(a.Source.Channel, b.Source.Channel)
	case a.Destination.Node != b.Destination.Node:
		return cmpInt(int(a.Destination.Node), int(b.Destination.Node))
	}
	return cmpInt(a.Destination.Channel, b.Destination.Channel)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func (g *Graph) valid(e Edge) bool {
	src, dst := g.nodes[e.Source.Node], g.nodes[e.Destination.Node]
	if src == nil || dst == nil || src == dst {
		return false
	}
	srcMidi, dstMidi := e.Source.Channel == MidiChannel, e.Destination.Channel == MidiChannel
	switch {
	case e.Source.Channel < 0 || e.Destination.Channel < 0 || srcMidi != dstMidi:
		return false
	case srcMidi:
		return src.layout.ProducesMidi && dst.layout.AcceptsMidi
	}
	return e.Source.Channel < len(src.layout.Outputs) && e.Destination.Channel < len(dst.layout.Inputs)
}

// reaches reports if there is a path from a to b (a == b counts).
func (g *Graph) reaches(a, b NodeID) bool {
	seen := map[NodeID]bool{}
	var visit func(NodeID) bool
	visit = func(n NodeID) bool {
		if n == b {
			return true
		}
		if seen[n] {
			return false
		}
		seen[n] = true
		for e := range g.edges {
			if e.Source.Node == n && visit(e.Destination.Node) {
				return true
			}
		}
		return false
	}
	return visit(a)
}

// rebuild publishes a new topologically sorted render plan. Called with mu
// held.
func (g *Graph) rebuild() {
	indegree := map[NodeID]int{}
	inputs := map[NodeID][]Edge{}
	for e := range g.edges {
		inputs[e.Destination.Node] = append(inputs[e.Destination.Node], e)
	}
	for id, in := range inputs {
		slices.SortFunc(in, CompareEdges)
		srcs := map[NodeID]bool{}
		for _, e := range in {
			srcs[e.Source.Node] = true
		}
		indegree[id] = len(srcs)
	}
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var ready []NodeID
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	p := &plan{index: make(map[NodeID]int, len(ids))}
	done := map[NodeID]bool{}
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		done[id] = true
		p.index[id] = len(p.steps)
		p.steps = append(p.steps, step{node: g.nodes[id], layout: g.nodes[id].layout, inputs: inputs[id]})
		for _, other := range ids {
			if done[other] || indegree[other] == 0 {
				continue
			}
			fed := false
			for _, e := range inputs[other] {
				if e.Source.Node == id {
					fed = true
					break
				}
			}
			if fed {
				indegree[other]--
				if indegree[other] == 0 {
					ready = append(ready, other)
				}
			}
		}
	}
	g.plan.Store(p)
}

// SendMidi queues a message for the MIDI input nodes. It never blocks; the
// message is dropped if the queue is full.
func (g *Graph) SendMidi(msg midi.Message) bool {
	select {
	case g.midiIn <- msg:
		return true
	default:
		return false
	}
}

// Render renders one block. in holds the hardware input channels and out
// receives the sum of everything routed to the audio output nodes. MIDI routed
// to the MIDI output nodes is appended to midiOut and returned. Render must
// not be called concurrently with itself.
func (g *Graph) Render(in, out [][]float32, midiOut []midi.Message) []midi.Message {
	length := 0
	if len(out) > 0 {
		length = len(out[0])
	}
	for _, o := range out {
		vek32.Zeros_Into(o, len(o))
	}
	pendingMidi := g.pendingMidi[:0]
drain:
	for {
		select {
		case m := <-g.midiIn:
			pendingMidi = append(pendingMidi, m)
		default:
			break drain
		}
	}
	g.pendingMidi = pendingMidi
	p := g.plan.Load()
	for i := range p.steps {
		s := &p.steps[i]
		lay := s.layout
		s.block.resize(max(len(lay.Inputs), len(lay.Outputs)), length)
		s.block.Midi = s.block.Midi[:0]
		for _, e := range s.inputs {
			src := &p.steps[p.index[e.Source.Node]].block
			if e.IsMidi() {
				s.block.Midi = append(s.block.Midi, src.Midi...)
				continue
			}
			if e.Source.Channel < len(src.Audio) && e.Destination.Channel < len(s.block.Audio) {
				vek32.Add_Inplace(s.block.Audio[e.Destination.Channel], src.Audio[e.Source.Channel])
			}
		}
		switch proc := s.node.Processor.(type) {
		case *AudioInput:
			for c := range s.block.Audio {
				if c < len(in) {
					copy(s.block.Audio[c], in[c])
				}
			}
		case *MidiInput:
			s.block.Midi = append(s.block.Midi, pendingMidi...)
		case *AudioOutput:
			for c := range s.block.Audio {
				if c < len(out) {
					vek32.Add_Inplace(out[c], s.block.Audio[c])
				}
			}
			continue
		case *MidiOutput:
			midiOut = append(midiOut, s.block.Midi...)
			continue
		default:
			if s.node.bypassed.Load() {
				for c := len(lay.Inputs); c < len(s.block.Audio); c++ {
					vek32.Zeros_Into(s.block.Audio[c], length)
				}
				continue
			}
			proc.Process(&s.block)
		}
	}
	return midiOut
}

func (b *Block) resize(channels, length int) {
	for len(b.Audio) < channels {
		b.Audio = append(b.Audio, nil)
	}
	b.Audio = b.Audio[:channels]
	for c := range b.Audio {
		if cap(b.Audio[c]) < length {
			b.Audio[c] = make([]float32, length)
		}
		b.Audio[c] = b.Audio[c][:length]
		vek32.Zeros_Into(b.Audio[c], length)
	}
}

func (n *Node) Layout() Layout { return n.layout }

func (n *Node) SetBypassed(b bool) { n.bypassed.Store(b) }

func (n *Node) Bypassed() bool { return n.bypassed.Load() }
