// Package processors implements the built-in sound processor kinds: wave
// generators, mixers, keyboards and the audio output. Each kind registers
// itself with the topology under its serialization name and implements the
// engine's runtime contract.
package processors

import (
	"github.com/flowtone/flowtone"
	"github.com/viterin/vek/vek32"
)

func init() {
	flowtone.RegisterKind("wavegen", func() flowtone.ProcessorKind { return NewWaveGenerator() })
	flowtone.RegisterKind("mixer", func() flowtone.ProcessorKind { return NewMixer() })
	flowtone.RegisterKind("keyboard", func() flowtone.ProcessorKind { return NewKeyboard() })
	flowtone.RegisterKind("output", func() flowtone.ProcessorKind { return NewOutput() })
}

func addChunk(dst, src *flowtone.Chunk) {
	vek32.Add_Inplace(dst.L[:], src.L[:])
	vek32.Add_Inplace(dst.R[:], src.R[:])
}
