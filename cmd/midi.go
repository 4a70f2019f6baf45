package cmd

import "gitlab.com/gomidi/midi/v2"

// MidiInput delivers the messages of a hardware MIDI input device.
type MidiInput interface {
	Devices() []string
	Open(prefix string, sink func(midi.Message) bool) error
	Close()
}
