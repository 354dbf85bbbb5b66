package engine

import (
	"fmt"

	"github.com/flowtone/flowtone"
)

// Context carries everything a node needs while producing one chunk: the
// scratch arena, the chunk pool, the current cycle number, the audio sink
// and the stack of argument bindings pushed by processors for the benefit of
// the expressions below them. One Context lives for the whole lifetime of an
// engine and is only ever touched by the processing goroutine.
type Context struct {
	scratch *Scratch
	chunks  chunkPool
	chunk   uint64
	sink    flowtone.AudioSink
	args    []argBinding
}

type argBinding struct {
	loc    flowtone.ArgumentLocation
	scalar float32
	array  []float32
}

func newContext(sink flowtone.AudioSink) *Context {
	return &Context{scratch: NewScratch(), sink: sink}
}

// Scratch exposes the arena, e.g. for checking its allocation count.
func (c *Context) Scratch() *Scratch { return c.scratch }

// BorrowSlice and ReleaseSlice expose the scratch arena to compiled
// functions.
func (c *Context) BorrowSlice(n int) []float32 { return c.scratch.Borrow(n) }

func (c *Context) ReleaseSlice(buf []float32) { c.scratch.Release(buf) }

// BorrowChunk returns a chunk for intermediate audio, reusing earlier ones
// where possible. The contents are unspecified.
func (c *Context) BorrowChunk() *flowtone.Chunk { return c.chunks.borrow() }

func (c *Context) ReleaseChunk(chunk *flowtone.Chunk) { c.chunks.release(chunk) }

// Sink returns the destination the output processor writes finished chunks
// to. It is nil when the engine runs without one.
func (c *Context) Sink() flowtone.AudioSink { return c.sink }

// CurrentChunk returns the number of the cycle being processed, starting at
// 1 for the first chunk after the engine starts.
func (c *Context) CurrentChunk() uint64 { return c.chunk }

// PushScalar binds a scalar value to an argument location for the duration
// of the processor's downstream evaluation. Bindings nest; the most recent
// one for a location wins.
func (c *Context) PushScalar(loc flowtone.ArgumentLocation, v float32) {
	c.args = append(c.args, argBinding{loc: loc, scalar: v})
}

// PushArray binds a per-sample array to an argument location. The slice must
// stay valid until the matching Pop.
func (c *Context) PushArray(loc flowtone.ArgumentLocation, values []float32) {
	c.args = append(c.args, argBinding{loc: loc, array: values})
}

// Pop removes the most recent binding.
func (c *Context) Pop() {
	if len(c.args) == 0 {
		panic("engine: argument binding stack underflow")
	}
	c.args = c.args[:len(c.args)-1]
}

// ScalarArgument looks up the innermost binding for loc. Finding an array
// where a scalar was compiled in means the translation declared on the
// argument disagrees with what the processor pushed, which is a programming
// error.
func (c *Context) ScalarArgument(loc flowtone.ArgumentLocation) (float32, bool) {
	for i := len(c.args) - 1; i >= 0; i-- {
		if c.args[i].loc == loc {
			if c.args[i].array != nil {
				panic(fmt.Sprintf("engine: argument %d of processor %d was pushed as an array but read as a scalar", loc.Argument, loc.Processor))
			}
			return c.args[i].scalar, true
		}
	}
	return 0, false
}

// ArrayArgument looks up the innermost array binding for loc.
func (c *Context) ArrayArgument(loc flowtone.ArgumentLocation) ([]float32, bool) {
	for i := len(c.args) - 1; i >= 0; i-- {
		if c.args[i].loc == loc {
			if c.args[i].array == nil {
				panic(fmt.Sprintf("engine: argument %d of processor %d was pushed as a scalar but read as an array", loc.Argument, loc.Processor))
			}
			return c.args[i].array, true
		}
	}
	return nil, false
}

// scopedContext enforces the scope an expression declared at build time:
// reading an argument the expression did not list is a bug in the processor
// implementation, not a runtime condition, so it panics.
type scopedContext struct {
	ctx   *Context
	scope flowtone.ExpressionScope
}

func (s *scopedContext) BorrowSlice(n int) []float32 { return s.ctx.BorrowSlice(n) }

func (s *scopedContext) ReleaseSlice(buf []float32) { s.ctx.ReleaseSlice(buf) }

func (s *scopedContext) ScalarArgument(loc flowtone.ArgumentLocation) (float32, bool) {
	if !s.scope.Visible(loc.Argument) {
		panic(fmt.Sprintf("engine: expression read argument %d outside its declared scope", loc.Argument))
	}
	return s.ctx.ScalarArgument(loc)
}

func (s *scopedContext) ArrayArgument(loc flowtone.ArgumentLocation) ([]float32, bool) {
	if !s.scope.Visible(loc.Argument) {
		panic(fmt.Sprintf("engine: expression read argument %d outside its declared scope", loc.Argument))
	}
	return s.ctx.ArrayArgument(loc)
}
