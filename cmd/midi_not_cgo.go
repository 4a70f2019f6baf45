//go:build !cgo

package cmd

import (
	"errors"

	"gitlab.com/gomidi/midi/v2"
)

type nullMidiInput struct{}

func NewMidiInput() MidiInput {
	// with no cgo, we cannot use MIDI, so return a null input
	return nullMidiInput{}
}

func (nullMidiInput) Devices() []string { return nil }
func (nullMidiInput) Close()            {}

func (nullMidiInput) Open(string, func(midi.Message) bool) error {
	return errors.New("MIDI input is not available in builds without cgo")
}
