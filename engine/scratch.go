package engine

import (
	"math/bits"

	"github.com/flowtone/flowtone"
)

// Scratch is the reuse pool for transient per-cycle float buffers. Buffers
// are bucketed by the next power of two of their requested size; releasing a
// buffer returns it to its bucket with capacity preserved, so after a bucket
// has warmed up no further heap allocation happens for that size class.
//
// A Scratch belongs to exactly one processing goroutine for its lifetime and
// is deliberately not safe for concurrent use.
type Scratch struct {
	buckets [33][][]float32
	allocs  int
}

// NewScratch returns an empty arena.
func NewScratch() *Scratch {
	return &Scratch{}
}

// Borrow returns a float buffer of length n, backed by a capacity of at
// least the next power of two. The contents are unspecified; callers
// overwrite before reading. The buffer must be given back with Release
// before the end of the current processing cycle.
func (s *Scratch) Borrow(n int) []float32 {
	if n == 0 {
		return nil
	}
	b := bits.Len(uint(n - 1))
	if free := s.buckets[b]; len(free) > 0 {
		buf := free[len(free)-1]
		s.buckets[b] = free[:len(free)-1]
		return buf[:n]
	}
	s.allocs++
	return make([]float32, 1<<b)[:n]
}

// Release returns a borrowed buffer to its size-class bucket. The caller
// must not use the buffer afterwards.
func (s *Scratch) Release(buf []float32) {
	c := cap(buf)
	if c == 0 {
		return
	}
	if c&(c-1) != 0 {
		panic("engine: released buffer was not borrowed from this arena")
	}
	b := bits.Len(uint(c - 1))
	s.buckets[b] = append(s.buckets[b], buf[:0])
}

// Allocations returns how many buffers the arena has allocated from the heap
// so far. After warm-up the count stays constant; tests use this to verify
// reuse.
func (s *Scratch) Allocations() int { return s.allocs }

// chunkPool is the same reuse idea for whole stereo chunks, which inputs use
// to evaluate their targets without allocating in the hot path.
type chunkPool struct {
	free   []*flowtone.Chunk
	allocs int
}

func (p *chunkPool) borrow() *flowtone.Chunk {
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		return c
	}
	p.allocs++
	return &flowtone.Chunk{}
}

func (p *chunkPool) release(c *flowtone.Chunk) {
	p.free = append(p.free, c)
}
