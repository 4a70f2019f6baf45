package vm_test

import (
	"errors"
	"testing"

	"github.com/vsariola/soundmachine/vm"
	"gitlab.com/gomidi/midi/v2"
)

func addNode(t *testing.T, g *vm.Graph, p vm.Processor) vm.NodeID {
	t.Helper()
	n, err := g.AddNode(p, 0)
	if err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	return n.ID
}

func edge(src vm.NodeID, srcCh int, dst vm.NodeID, dstCh int) vm.Edge {
	return vm.Edge{Source: vm.Endpoint{Node: src, Channel: srcCh}, Destination: vm.Endpoint{Node: dst, Channel: dstCh}}
}

func TestAddConnectionValidation(t *testing.T) {
	g := vm.NewGraph(44100)
	in := addNode(t, g, &vm.AudioInput{Channels: 2})
	gain := addNode(t, g, vm.NewGain(2))
	out := addNode(t, g, &vm.AudioOutput{Channels: 2})
	midiIn := addNode(t, g, &vm.MidiInput{})
	if !g.AddConnection(edge(in, 0, gain, 0)) {
		t.Fatalf("valid connection was rejected")
	}
	invalid := []vm.Edge{
		edge(in, 0, gain, 0),                              // duplicate
		edge(gain, 0, gain, 1),                            // self
		edge(in, 2, gain, 0),                              // no such output
		edge(gain, 0, in, 0),                              // no inputs
		edge(midiIn, vm.MidiChannel, gain, 0),             // type mismatch
		edge(midiIn, vm.MidiChannel, out, vm.MidiChannel), // does not accept midi
		edge(gain, 0, 99, 0),                              // missing node
	}
	for _, e := range invalid {
		if g.AddConnection(e) {
			t.Errorf("connection %+v should have been rejected", e)
		}
	}
	if len(g.Connections()) != 1 {
		t.Fatalf("expected 1 connection, got %v", g.Connections())
	}
}

func TestAddConnectionRejectsLoops(t *testing.T) {
	g := vm.NewGraph(44100)
	a := addNode(t, g, vm.NewGain(1))
	b := addNode(t, g, vm.NewGain(1))
	if !g.AddConnection(edge(a, 0, b, 0)) {
		t.Fatalf("valid connection was rejected")
	}
	if g.AddConnection(edge(b, 0, a, 0)) {
		t.Fatalf("loop should have been rejected")
	}
	if !g.IsAnInputTo(a, b) || g.IsAnInputTo(b, a) {
		t.Fatalf("IsAnInputTo gave wrong answer")
	}
}

func TestAddNodeWithTakenID(t *testing.T) {
	g := vm.NewGraph(44100)
	if _, err := g.AddNode(vm.NewGain(1), 5); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if _, err := g.AddNode(vm.NewGain(1), 5); !errors.Is(err, vm.ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
	n, err := g.AddNode(vm.NewGain(1), 0)
	if err != nil || n.ID != 6 {
		t.Fatalf("expected fresh id 6, got %v (err %v)", n, err)
	}
}

func TestRemoveNodeRemovesEdges(t *testing.T) {
	g := vm.NewGraph(44100)
	a := addNode(t, g, vm.NewGain(1))
	b := addNode(t, g, vm.NewGain(1))
	g.AddConnection(edge(a, 0, b, 0))
	if !g.RemoveNode(b) {
		t.Fatalf("RemoveNode failed")
	}
	if len(g.Connections()) != 0 {
		t.Fatalf("edges of removed node remain: %v", g.Connections())
	}
}

func TestRenderChain(t *testing.T) {
	g := vm.NewGraph(44100)
	in := addNode(t, g, &vm.AudioInput{Channels: 2})
	gainNode, _ := g.AddNode(vm.NewGain(2), 0)
	out := addNode(t, g, &vm.AudioOutput{Channels: 2})
	gainNode.Processor.(*vm.Gain).Parameter("gain").SetFromHost(0.5)
	for c := 0; c < 2; c++ {
		g.AddConnection(edge(in, c, gainNode.ID, c))
		g.AddConnection(edge(gainNode.ID, c, out, c))
	}
	input := [][]float32{{1, 1, 1, 1}, {2, 2, 2, 2}}
	output := [][]float32{make([]float32, 4), make([]float32, 4)}
	g.Render(input, output, nil)
	if output[0][0] != 0.5 || output[1][3] != 1 {
		t.Fatalf("unexpected output %v", output)
	}
	gainNode.SetBypassed(true)
	g.Render(input, output, nil)
	if output[0][0] != 1 || output[1][3] != 2 {
		t.Fatalf("bypassed gain should pass input through, got %v", output)
	}
}

func TestRenderMidi(t *testing.T) {
	g := vm.NewGraph(44100)
	in := addNode(t, g, &vm.MidiInput{})
	out := addNode(t, g, &vm.MidiOutput{})
	g.AddConnection(edge(in, vm.MidiChannel, out, vm.MidiChannel))
	g.SendMidi(midi.NoteOn(0, 60, 100))
	msgs := g.Render(nil, nil, nil)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 midi message, got %v", msgs)
	}
	var ch, key, vel uint8
	if !msgs[0].GetNoteOn(&ch, &key, &vel) || key != 60 {
		t.Fatalf("unexpected message %v", msgs[0])
	}
}

func TestRefreshLayoutPrunesEdges(t *testing.T) {
	g := vm.NewGraph(44100)
	src := addNode(t, g, vm.NewGain(2))
	dstNode, _ := g.AddNode(vm.NewGain(2), 0)
	g.AddConnection(edge(src, 0, dstNode.ID, 0))
	g.AddConnection(edge(src, 1, dstNode.ID, 1))
	dstNode.Processor.(*vm.Gain).SetChannels(1)
	removed := g.RefreshLayout(dstNode.ID)
	if len(removed) != 1 || removed[0] != edge(src, 1, dstNode.ID, 1) {
		t.Fatalf("unexpected removed edges %v", removed)
	}
}

func TestParameterDirty(t *testing.T) {
	p := vm.NewParameter("gain", "Gain", 0, 2, 1)
	p.SetFromHost(1.5)
	if p.TakeDirty() {
		t.Fatalf("host changes should not mark the parameter dirty")
	}
	p.Set(3)
	if !p.TakeDirty() || p.TakeDirty() {
		t.Fatalf("TakeDirty should report the flag exactly once")
	}
	if p.Value() != 2 {
		t.Fatalf("value should be clamped to 2, got %v", p.Value())
	}
}

func TestRegistry(t *testing.T) {
	r := vm.NewRegistry()
	d, ok := r.Lookup("sine-bank")
	if !ok || d.Name != "Sine Bank" || d.Inputs != 0 || d.Outputs != 2 {
		t.Fatalf("unexpected description %+v", d)
	}
	if _, err := r.Instantiate("nope"); !errors.Is(err, vm.ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
	p, err := r.Instantiate("mixer-channel")
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	p.Parameters()[0].SetFromHost(0.25)
	data, err := p.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	q, _ := r.Instantiate("mixer-channel")
	if err := q.SetState(data); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if q.Parameters()[0].Value() != 0.25 {
		t.Fatalf("state was not restored")
	}
}
