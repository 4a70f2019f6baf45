//go:build cgo

package cmd

import "github.com/vsariola/soundmachine/tracker/gomidi"

func NewMidiInput() MidiInput {
	return gomidi.NewInput()
}
