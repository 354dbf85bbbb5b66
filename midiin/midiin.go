// Package midiin forwards MIDI note events from a hardware input port to a
// keyboard processor.
package midiin

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/flowtone/flowtone/processors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

// Open connects the first MIDI input port whose name starts with namePrefix
// (any port when empty) to the keyboard. The listener runs on the driver's
// goroutine and feeds the keyboard's non-blocking event channel, so a slow
// engine never backs up into the MIDI stack.
func Open(namePrefix string, kb *processors.Keyboard) (*Input, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("cannot open MIDI driver: %v", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("cannot list MIDI inputs: %v", err)
	}
	var in drivers.In
	for _, candidate := range ins {
		if namePrefix == "" || strings.HasPrefix(candidate.String(), namePrefix) {
			in = candidate
			break
		}
	}
	if in == nil {
		driver.Close()
		return nil, fmt.Errorf("no MIDI input port matching %q", namePrefix)
	}
	if err := in.Open(); err != nil {
		driver.Close()
		return nil, fmt.Errorf("cannot open MIDI input %q: %v", in.String(), err)
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		var channel, key, velocity uint8
		switch {
		case msg.GetNoteOn(&channel, &key, &velocity):
			if velocity == 0 {
				kb.NoteOff(int(key))
				return
			}
			kb.NoteOn(int(key), KeyFrequency(int(key)))
		case msg.GetNoteOff(&channel, &key, &velocity):
			kb.NoteOff(int(key))
		}
	})
	if err != nil {
		in.Close()
		driver.Close()
		return nil, fmt.Errorf("cannot listen to MIDI input %q: %v", in.String(), err)
	}
	return &Input{driver: driver, in: in, stop: stop}, nil
}

// Port returns the name of the connected input port.
func (i *Input) Port() string { return i.in.String() }

func (i *Input) Close() error {
	i.stop()
	i.in.Close()
	return i.driver.Close()
}

// KeyFrequency converts a MIDI key number to its equal temperament
// frequency, with A4 (key 69) at 440 Hz.
func KeyFrequency(key int) float32 {
	return 440 * math32.Exp2(float32(key-69)/12)
}
