package tracker_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/tracker"
	"github.com/vsariola/soundmachine/vm"
)

type testProcessor struct {
	vm.ParamProcessor
	layout vm.Layout
}

func (p *testProcessor) Layout() vm.Layout { return p.layout }
func (p *testProcessor) Process(*vm.Block) {}

func testRegistry() *vm.Registry {
	r := vm.NewRegistry()
	r.Register(vm.Description{ID: "mono-synth", New: func() (vm.Processor, error) {
		return &testProcessor{layout: vm.Layout{Outputs: []string{"Mono"}}}, nil
	}})
	r.Register(vm.Description{ID: "mono-fx", New: func() (vm.Processor, error) {
		return &testProcessor{layout: vm.Layout{Inputs: []string{"Mono"}, Outputs: []string{"Mono"}}}, nil
	}})
	r.Register(vm.Description{ID: "midi-synth", New: func() (vm.Processor, error) {
		return &testProcessor{layout: vm.Layout{Outputs: []string{"Mono"}, AcceptsMidi: true}}, nil
	}})
	r.Register(vm.Description{ID: "broken", New: func() (vm.Processor, error) {
		return nil, errors.New("plugin not found")
	}})
	return r
}

func newTestModel(t *testing.T) (*tracker.Model, *tracker.Metrics) {
	t.Helper()
	metrics := tracker.NewMetrics(prometheus.NewRegistry())
	m, err := tracker.NewModel(tracker.Config{}, testRegistry(), nil, metrics, nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m, metrics
}

func mustCreate(t *testing.T, m *tracker.Model, id string, track state.NodeID, slot int) state.NodeID {
	t.Helper()
	proc, err := m.CreateProcessor(id, track, slot)
	if err != nil {
		t.Fatalf("CreateProcessor(%q, slot %d): %v", id, slot, err)
	}
	return proc
}

// outgoing returns the edges leaving proc.
func outgoing(p *tracker.Project, proc state.NodeID, ct tracker.ConnectionType) []vm.Edge {
	var ret []vm.Edge
	for _, conn := range p.Connections().ForNode(proc, ct, false, true, true, true) {
		ret = append(ret, p.Edge(conn))
	}
	return ret
}

// checkGraphMatchesTree verifies that the runtime graph has exactly the
// processors and connections of the tree.
func checkGraphMatchesTree(t *testing.T, m *tracker.Model) {
	t.Helper()
	p := m.Project()
	g := m.ProcessorGraph().Graph()
	var treeEdges []vm.Edge
	for _, conn := range p.Connections().All() {
		treeEdges = append(treeEdges, p.Edge(conn))
	}
	graphEdges := g.Connections()
	if len(treeEdges) != len(graphEdges) {
		t.Errorf("tree has %d connections, runtime graph %d", len(treeEdges), len(graphEdges))
	}
	for _, e := range treeEdges {
		if !g.IsConnected(e) {
			t.Errorf("connection %v missing from the runtime graph", e)
		}
	}
	procs := p.Processors()
	if n := len(g.NodeIDs()); n != len(procs) {
		t.Errorf("tree has %d processors, runtime graph %d", len(procs), n)
	}
	for _, proc := range procs {
		if g.Node(p.NodeID(proc)) == nil {
			t.Errorf("processor %q (node %d) missing from the runtime graph", p.Tree.String(proc, tracker.PropName), p.NodeID(proc))
		}
	}
}

// checkConnectionsValid verifies that every connection refers to existing
// processors and channels.
func checkConnectionsValid(t *testing.T, p *tracker.Project) {
	t.Helper()
	for _, conn := range p.Connections().All() {
		e := p.Edge(conn)
		src, dst := p.ProcessorByNodeID(e.Source.Node), p.ProcessorByNodeID(e.Destination.Node)
		if src == state.None || dst == state.None {
			t.Errorf("connection %v refers to a missing processor", e)
			continue
		}
		sc, dc := p.Capabilities(src), p.Capabilities(dst)
		if e.IsMidi() {
			if !sc.ProducesMidi || !dc.AcceptsMidi {
				t.Errorf("MIDI connection %v between processors without MIDI", e)
			}
		} else if e.Source.Channel >= sc.Outputs || e.Destination.Channel >= dc.Inputs {
			t.Errorf("connection %v refers to a missing channel", e)
		}
	}
}
