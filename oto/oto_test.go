package oto

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vsariola/soundmachine/vm"
)

type constant struct {
	vm.ParamProcessor
	value float32
}

func (c *constant) Layout() vm.Layout { return vm.Layout{Outputs: []string{"Mono"}} }

func (c *constant) Process(b *vm.Block) {
	for i := range b.Audio[0] {
		b.Audio[0][i] = c.value
	}
}

func floats(b []byte) []float32 {
	var ret []float32
	for len(b) >= 4 {
		ret = append(ret, math.Float32frombits(binary.LittleEndian.Uint32(b)))
		b = b[4:]
	}
	return ret
}

func TestInterleave(t *testing.T) {
	got := floats(interleaveFloat32LE(nil, [][]float32{{1, 2}, {3, 4}}))
	if diff := cmp.Diff([]float32{1, 3, 2, 4}, got); diff != "" {
		t.Errorf("samples (-want +got):\n%s", diff)
	}
}

func TestReaderRendersGraph(t *testing.T) {
	g := vm.NewGraph(44100)
	src, err := g.AddNode(&constant{value: 0.25}, 0)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	out, err := g.AddNode(&vm.AudioOutput{Channels: 2}, 0)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if !g.AddConnection(vm.Edge{Source: vm.Endpoint{Node: src.ID}, Destination: vm.Endpoint{Node: out.ID, Channel: 1}}) {
		t.Fatalf("could not connect")
	}
	r := newGraphReader(g, 4)
	// 6 frames spans two blocks
	p := make([]byte, 6*channelCount*4)
	n, err := r.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read = %d, %v, want %d, nil", n, err, len(p))
	}
	want := []float32{0, 0.25, 0, 0.25, 0, 0.25, 0, 0.25, 0, 0.25, 0, 0.25}
	if diff := cmp.Diff(want, floats(p)); diff != "" {
		t.Errorf("samples (-want +got):\n%s", diff)
	}
	if len(r.pending) != 2*channelCount*4 {
		t.Errorf("%d bytes pending, want the rest of the block", len(r.pending))
	}
}
