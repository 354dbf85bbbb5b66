// Package oto plays engine output through the system audio device using
// ebitengine/oto. The device pulls samples from an internal reader; chunks
// arriving from the engine are queued in a small channel, and underruns play
// silence instead of stalling the device.
package oto

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/flowtone/flowtone"
)

// queuedChunks is how many chunks may sit between the engine and the device
// before WriteChunk blocks, i.e. roughly 185 ms of slack.
const queuedChunks = 8

const bytesPerChunk = flowtone.ChunkSize * 2 * 4 // stereo float32

type OtoContext struct {
	ctx *oto.Context
}

// NewContext initializes the audio device at the engine's sample rate.
func NewContext() (*OtoContext, error) {
	op := &oto.NewContextOptions{
		SampleRate:   flowtone.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %v", err)
	}
	<-ready
	return &OtoContext{ctx: ctx}, nil
}

// Output starts a player and returns the sink the engine writes to.
func (c *OtoContext) Output() flowtone.AudioSink {
	s := &OtoOutput{data: make(chan []byte, queuedChunks)}
	s.pool.New = func() any { return make([]byte, bytesPerChunk) }
	s.player = c.ctx.NewPlayer(s)
	s.player.Play()
	return s
}

// oto v3 has no context close; players are closed individually.
func (c *OtoContext) Close() error { return nil }

type OtoOutput struct {
	player  *oto.Player
	data    chan []byte
	current []byte
	pending []byte
	pool    sync.Pool
}

// WriteChunk converts a chunk to interleaved little-endian float32 and
// queues it for the device. It blocks only when the queue is full, which
// paces a producer that runs ahead of the device clock.
func (o *OtoOutput) WriteChunk(c *flowtone.Chunk) error {
	buf := o.pool.Get().([]byte)
	for i := 0; i < flowtone.ChunkSize; i++ {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(c.L[i]))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(c.R[i]))
	}
	o.data <- buf
	return nil
}

// Read feeds the device, substituting silence when no chunk is queued.
func (o *OtoOutput) Read(p []byte) (int, error) {
	if len(o.pending) == 0 {
		select {
		case buf := <-o.data:
			o.current = buf
			o.pending = buf
		default:
			for i := range p {
				p[i] = 0
			}
			return len(p), nil
		}
	}
	n := copy(p, o.pending)
	o.pending = o.pending[n:]
	if len(o.pending) == 0 {
		o.pool.Put(o.current)
		o.current = nil
	}
	return n, nil
}

func (o *OtoOutput) Close() error {
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %v", err)
	}
	return nil
}
