package flowtone

// ChunkSize is the fixed number of stereo frames processed per engine cycle.
// Every compiled node produces exactly one chunk per cycle; the engine
// deadline is derived from ChunkSize / SampleRate.
const ChunkSize = 1024

// SampleRate is the fixed sample rate of the engine, in frames per second.
const SampleRate = 44100

// Chunk is one engine cycle worth of stereo audio. Chunks are passed around
// by pointer and reused; they are never allocated in the audio hot path.
type Chunk struct {
	L [ChunkSize]float32
	R [ChunkSize]float32
}

// Clear zeroes both channels.
func (c *Chunk) Clear() {
	c.L = [ChunkSize]float32{}
	c.R = [ChunkSize]float32{}
}

// CopyFrom copies the contents of src into c.
func (c *Chunk) CopyFrom(src *Chunk) {
	c.L = src.L
	c.R = src.R
}
