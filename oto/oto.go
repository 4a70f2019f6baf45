// Package oto plays the output of a processor graph on the default audio
// device.
package oto

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/soundmachine/vm"
	"gitlab.com/gomidi/midi/v2"
)

const channelCount = 2

type (
	Output struct {
		context *oto.Context
		player  *oto.Player
	}

	// graphReader renders the graph block by block and hands out the result
	// as interleaved float32 bytes.
	graphReader struct {
		graph   *vm.Graph
		in, out [][]float32
		midiOut []midi.Message
		buf     []byte
		pending []byte
	}
)

// Open starts playing graph. The hardware input of the graph stays silent.
func Open(graph *vm.Graph, sampleRate float64, blockSize int) (*Output, error) {
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(sampleRate),
		ChannelCount: channelCount,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	r := newGraphReader(graph, blockSize)
	player := context.NewPlayer(r)
	player.Play()
	return &Output{context: context, player: player}, nil
}

func newGraphReader(graph *vm.Graph, blockSize int) *graphReader {
	r := &graphReader{graph: graph}
	for range channelCount {
		r.in = append(r.in, make([]float32, blockSize))
		r.out = append(r.out, make([]float32, blockSize))
	}
	return r
}

func (r *graphReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			r.midiOut = r.graph.Render(r.in, r.out, r.midiOut[:0])
			r.buf = interleaveFloat32LE(r.buf[:0], r.out)
			r.pending = r.buf
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

var _ io.Reader = (*graphReader)(nil)

// Close stops the playback.
func (o *Output) Close() error {
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	if err := o.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}
