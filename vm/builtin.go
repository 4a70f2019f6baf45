package vm

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
	"gopkg.in/yaml.v3"
)

type (
	// ParamProcessor implements the parameter and state plumbing shared by
	// the built-in processors. State is the parameter values as YAML.
	ParamProcessor struct {
		params []*Parameter
	}

	passthrough struct {
		ParamProcessor
		layout Layout
	}

	// AudioInput, AudioOutput, MidiInput and MidiOutput are the endpoints
	// between the graph and the outside world; Graph.Render feeds and drains
	// them.
	AudioInput struct {
		ParamProcessor
		Channels int
	}

	AudioOutput struct {
		ParamProcessor
		Channels int
	}

	MidiInput struct {
		ParamProcessor
		DeviceName string
	}

	MidiOutput struct {
		ParamProcessor
		DeviceName string
	}

	// Gain multiplies all channels by the gain parameter. The channel count
	// can be changed at runtime with SetChannels.
	Gain struct {
		ParamProcessor
		channels int
		onLayout func()
	}

	Balance struct {
		ParamProcessor
	}

	MixerChannel struct {
		ParamProcessor
	}

	// SineBank is a MIDI driven generator with one sine oscillator per held
	// note.
	SineBank struct {
		ParamProcessor
		sampleRate float64
		phases     [128]float64
		held       [128]float32
	}
)

func (p *ParamProcessor) Parameters() []*Parameter { return p.params }

func (p *ParamProcessor) Parameter(id string) *Parameter {
	for _, param := range p.params {
		if param.ID == id {
			return param
		}
	}
	return nil
}

func (p *ParamProcessor) State() ([]byte, error) {
	values := map[string]float32{}
	for _, param := range p.params {
		values[param.ID] = param.Value()
	}
	return yaml.Marshal(values)
}

func (p *ParamProcessor) SetState(data []byte) error {
	var values map[string]float32
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("could not decode processor state: %w", err)
	}
	for id, v := range values {
		if param := p.Parameter(id); param != nil {
			param.SetFromHost(v)
		}
	}
	return nil
}

func channelNames(n int) []string {
	switch n {
	case 1:
		return []string{"Mono"}
	case 2:
		return []string{"Left", "Right"}
	}
	ret := make([]string, n)
	for i := range ret {
		ret[i] = fmt.Sprintf("Channel %d", i+1)
	}
	return ret
}

func newPassthrough(channels int, acceptsMidi, producesMidi bool) func() (Processor, error) {
	return func() (Processor, error) {
		return &passthrough{layout: Layout{
			Inputs:       channelNames(channels),
			Outputs:      channelNames(channels),
			AcceptsMidi:  acceptsMidi,
			ProducesMidi: producesMidi,
		}}, nil
	}
}

func (p *passthrough) Layout() Layout { return p.layout }
func (p *passthrough) Process(*Block) {}

func (p *AudioInput) Layout() Layout { return Layout{Outputs: channelNames(p.Channels)} }
func (p *AudioInput) Process(*Block) {}

func (p *AudioOutput) Layout() Layout { return Layout{Inputs: channelNames(p.Channels)} }
func (p *AudioOutput) Process(*Block) {}

func (p *MidiInput) Layout() Layout { return Layout{ProducesMidi: true} }
func (p *MidiInput) Process(*Block) {}

func (p *MidiOutput) Layout() Layout { return Layout{AcceptsMidi: true} }
func (p *MidiOutput) Process(*Block) {}

func NewGain(channels int) *Gain {
	return &Gain{
		ParamProcessor: ParamProcessor{params: []*Parameter{NewParameter("gain", "Gain", 0, 2, 1)}},
		channels:       channels,
	}
}

func (p *Gain) Layout() Layout {
	return Layout{Inputs: channelNames(p.channels), Outputs: channelNames(p.channels)}
}

func (p *Gain) SetLayoutListener(f func()) { p.onLayout = f }

// SetChannels changes the channel count and notifies the layout listener.
func (p *Gain) SetChannels(n int) {
	if n == p.channels {
		return
	}
	p.channels = n
	if p.onLayout != nil {
		p.onLayout()
	}
}

func (p *Gain) Process(b *Block) {
	g := p.params[0].Value()
	for _, c := range b.Audio {
		vek32.MulNumber_Inplace(c, g)
	}
}

func NewBalance() *Balance {
	return &Balance{ParamProcessor{params: []*Parameter{NewParameter("balance", "Balance", -1, 1, 0)}}}
}

func (p *Balance) Layout() Layout {
	return Layout{Inputs: channelNames(2), Outputs: channelNames(2)}
}

func (p *Balance) Process(b *Block) {
	bal := p.params[0].Value()
	if len(b.Audio) < 2 {
		return
	}
	vek32.MulNumber_Inplace(b.Audio[0], min(1, 1-bal))
	vek32.MulNumber_Inplace(b.Audio[1], min(1, 1+bal))
}

func NewMixerChannel() *MixerChannel {
	return &MixerChannel{ParamProcessor{params: []*Parameter{
		NewParameter("gain", "Gain", 0, 2, 1),
		NewParameter("balance", "Balance", -1, 1, 0),
	}}}
}

func (p *MixerChannel) Layout() Layout {
	return Layout{Inputs: channelNames(2), Outputs: channelNames(2), AcceptsMidi: true}
}

func (p *MixerChannel) Process(b *Block) {
	if len(b.Audio) < 2 {
		return
	}
	g, bal := p.params[0].Value(), p.params[1].Value()
	vek32.MulNumber_Inplace(b.Audio[0], g*min(1, 1-bal))
	vek32.MulNumber_Inplace(b.Audio[1], g*min(1, 1+bal))
}

func NewSineBank() *SineBank {
	return &SineBank{
		ParamProcessor: ParamProcessor{params: []*Parameter{NewParameter("level", "Level", 0, 1, 0.5)}},
		sampleRate:     44100,
	}
}

func (p *SineBank) Prepare(sampleRate float64) {
	if sampleRate > 0 {
		p.sampleRate = sampleRate
	}
}

func (p *SineBank) Layout() Layout {
	return Layout{Outputs: channelNames(2), AcceptsMidi: true}
}

func (p *SineBank) Process(b *Block) {
	for _, msg := range b.Midi {
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			p.held[key] = float32(vel) / 127
		case msg.GetNoteEnd(&ch, &key):
			p.held[key] = 0
		}
	}
	b.Midi = b.Midi[:0]
	if len(b.Audio) == 0 {
		return
	}
	out := b.Audio[0]
	level := p.params[0].Value()
	for key, amp := range p.held {
		if amp == 0 {
			continue
		}
		step := 2 * math.Pi * 440 * math.Pow(2, float64(key-69)/12) / p.sampleRate
		for i := range out {
			out[i] += level * amp * float32(math.Sin(p.phases[key]))
			p.phases[key] += step
		}
		p.phases[key] = math.Mod(p.phases[key], 2*math.Pi)
	}
	for _, c := range b.Audio[1:] {
		copy(c, out)
	}
}
