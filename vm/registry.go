package vm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type (
	// Kind tells the host how a processor takes part in routing.
	Kind int

	// Description identifies an instantiable processor type.
	Description struct {
		ID      string
		Name    string
		Kind    Kind
		Inputs  int // audio inputs of a fresh instance
		Outputs int
		New     func() (Processor, error)
	}

	// Registry maps processor ids to descriptions. It stands in for plugin
	// discovery: the host only ever instantiates what has been registered.
	Registry struct {
		descriptions map[string]Description
		order        []string
		caser        cases.Caser
	}
)

const (
	KindPlugin Kind = iota
	KindTrackInput
	KindTrackOutput
	KindAudioInput
	KindAudioOutput
	KindMidiInput
	KindMidiOutput
)

const (
	TrackInputID  = "track-input"
	TrackOutputID = "track-output"
	AudioInputID  = "audio-input"
	AudioOutputID = "audio-output"
	MidiInputID   = "midi-input"
	MidiOutputID  = "midi-output"
)

var ErrUnknownProcessor = errors.New("unknown processor")

func (k Kind) IsTrackIO() bool { return k == KindTrackInput || k == KindTrackOutput }

func (k Kind) IsExternalIO() bool {
	return k == KindAudioInput || k == KindAudioOutput || k == KindMidiInput || k == KindMidiOutput
}

// NewRegistry returns a registry with the built-in processors.
func NewRegistry() *Registry {
	r := &Registry{descriptions: map[string]Description{}, caser: cases.Title(language.English)}
	r.Register(Description{ID: TrackInputID, Kind: KindTrackInput, New: newPassthrough(2, true, true)})
	r.Register(Description{ID: TrackOutputID, Kind: KindTrackOutput, New: newPassthrough(2, true, false)})
	r.Register(Description{ID: AudioInputID, Kind: KindAudioInput, New: func() (Processor, error) { return &AudioInput{Channels: 2}, nil }})
	r.Register(Description{ID: AudioOutputID, Kind: KindAudioOutput, New: func() (Processor, error) { return &AudioOutput{Channels: 2}, nil }})
	r.Register(Description{ID: MidiInputID, Kind: KindMidiInput, New: func() (Processor, error) { return &MidiInput{}, nil }})
	r.Register(Description{ID: MidiOutputID, Kind: KindMidiOutput, New: func() (Processor, error) { return &MidiOutput{}, nil }})
	r.Register(Description{ID: "gain", New: func() (Processor, error) { return NewGain(2), nil }})
	r.Register(Description{ID: "balance", New: func() (Processor, error) { return NewBalance(), nil }})
	r.Register(Description{ID: "mixer-channel", New: func() (Processor, error) { return NewMixerChannel(), nil }})
	r.Register(Description{ID: "sine-bank", New: func() (Processor, error) { return NewSineBank(), nil }})
	return r
}

// Register adds or replaces a description. An empty name is derived from the
// id, and the channel counts are probed from a fresh instance.
func (r *Registry) Register(d Description) {
	if d.Name == "" {
		d.Name = r.caser.String(strings.ReplaceAll(d.ID, "-", " "))
	}
	if d.New != nil && d.Inputs == 0 && d.Outputs == 0 {
		if p, err := d.New(); err == nil && p != nil {
			l := p.Layout()
			d.Inputs, d.Outputs = len(l.Inputs), len(l.Outputs)
		}
	}
	if _, ok := r.descriptions[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.descriptions[d.ID] = d
}

func (r *Registry) Lookup(id string) (Description, bool) {
	d, ok := r.descriptions[id]
	return d, ok
}

// Descriptions returns all descriptions in registration order.
func (r *Registry) Descriptions() []Description {
	ret := make([]Description, 0, len(r.order))
	for _, id := range r.order {
		ret = append(ret, r.descriptions[id])
	}
	return ret
}

func (r *Registry) Instantiate(id string) (Processor, error) {
	d, ok := r.descriptions[id]
	if !ok || d.New == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
	}
	p, err := d.New()
	if err != nil {
		return nil, fmt.Errorf("could not instantiate %s: %w", d.Name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("could not instantiate %s: %w", d.Name, ErrNilInstance)
	}
	return p, nil
}
