// Package gomidi feeds a hardware MIDI input into the processor graph. It
// needs cgo for the rtmidi driver.
package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var errNoDriver = errors.New("no MIDI driver available")

type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

// NewInput opens the driver. If that fails, Open always returns an error.
func NewInput() *Input {
	m := &Input{}
	// there's not much we can do if this fails, so just use m.driver = nil to
	// indicate no driver available
	m.driver, _ = rtmididrv.New()
	return m
}

// Devices lists the names of the input devices.
func (m *Input) Devices() []string {
	if m.driver == nil {
		return nil
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return nil
	}
	ret := make([]string, 0, len(ins))
	for _, in := range ins {
		ret = append(ret, in.String())
	}
	return ret
}

// Open listens to the first device whose name starts with prefix, closing the
// one opened before. Every message received is passed to sink on the driver
// goroutine.
func (m *Input) Open(prefix string, sink func(midi.Message) bool) error {
	if m.driver == nil {
		return errNoDriver
	}
	ins, err := m.driver.Ins()
	if err != nil {
		return fmt.Errorf("could not list MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), prefix) {
			continue
		}
		m.closeInput()
		if err := in.Open(); err != nil {
			return fmt.Errorf("opening MIDI input failed: %w", err)
		}
		stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) { sink(msg) })
		if err != nil {
			in.Close()
			return fmt.Errorf("listening to MIDI input failed: %w", err)
		}
		m.in, m.stop = in, stop
		return nil
	}
	return fmt.Errorf("no MIDI input starting with %q", prefix)
}

func (m *Input) closeInput() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	if m.in != nil && m.in.IsOpen() {
		m.in.Close()
	}
	m.in = nil
}

func (m *Input) Close() {
	if m.driver == nil {
		return
	}
	m.closeInput()
	m.driver.Close()
}
