// Package vm implements the runtime audio graph: processor instances
// connected by channel edges, rendered block by block on the audio goroutine.
package vm

import (
	"math"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

type (
	// NodeID is the handle of a node in a Graph.
	NodeID uint32

	Endpoint struct {
		Node    NodeID
		Channel int
	}

	// Edge connects an output channel of one node to an input channel of
	// another. MIDI edges use MidiChannel on both ends.
	Edge struct {
		Source, Destination Endpoint
	}

	// Layout describes the channels of a processor instance.
	Layout struct {
		Inputs       []string
		Outputs      []string
		AcceptsMidi  bool
		ProducesMidi bool
	}

	// Block is the buffer a processor renders in place. Audio has
	// max(inputs, outputs) channels; on entry the first channels hold the
	// input, on return the first channels hold the output. Midi is processed
	// in place too.
	Block struct {
		Audio [][]float32
		Midi  []midi.Message
	}

	// Processor is a runtime processor instance. Process is called on the
	// audio goroutine; everything else on the owning goroutine.
	Processor interface {
		Layout() Layout
		Parameters() []*Parameter
		Process(b *Block)
		State() ([]byte, error)
		SetState(data []byte) error
	}

	// LayoutNotifier is implemented by processors whose channel layout can
	// change after instantiation.
	LayoutNotifier interface {
		SetLayoutListener(f func())
	}

	// Parameter is an automatable float value shared between the owning
	// goroutine and the audio goroutine. The value is stored as atomic bits,
	// so readers may see a stale value but never a torn one.
	Parameter struct {
		ID      string
		Name    string
		Min     float32
		Max     float32
		Default float32

		bits   atomic.Uint32
		dirty  atomic.Bool
		notify atomic.Pointer[func()]
	}
)

// MidiChannel is the channel index that marks an endpoint as MIDI.
const MidiChannel = 0x1000

func (e Edge) IsMidi() bool { return e.Source.Channel == MidiChannel }

func NewParameter(id, name string, min, max, def float32) *Parameter {
	p := &Parameter{ID: id, Name: name, Min: min, Max: max, Default: def}
	p.bits.Store(math.Float32bits(def))
	return p
}

func (p *Parameter) Value() float32 { return math.Float32frombits(p.bits.Load()) }

// Set changes the value from the audio side (automation, MIDI learn) and marks
// the parameter dirty, so that the host copies it back to the project. The
// notify function is called when the flag goes from clean to dirty.
func (p *Parameter) Set(v float32) {
	p.bits.Store(math.Float32bits(p.clamp(v)))
	if !p.dirty.Swap(true) {
		if f := p.notify.Load(); f != nil {
			(*f)()
		}
	}
}

// SetNotify sets the function called when the parameter becomes dirty. It is
// called on the goroutine calling Set, typically the audio goroutine, so it
// must not block.
func (p *Parameter) SetNotify(f func()) {
	if f == nil {
		p.notify.Store(nil)
		return
	}
	p.notify.Store(&f)
}

// SetFromHost changes the value without marking the parameter dirty.
func (p *Parameter) SetFromHost(v float32) {
	p.bits.Store(math.Float32bits(p.clamp(v)))
}

// TakeDirty clears the dirty flag and reports whether it was set.
func (p *Parameter) TakeDirty() bool { return p.dirty.CompareAndSwap(true, false) }

func (p *Parameter) clamp(v float32) float32 {
	if p.Max > p.Min {
		return min(max(v, p.Min), p.Max)
	}
	return v
}
