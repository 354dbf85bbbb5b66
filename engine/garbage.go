package engine

import (
	"io"
	"log/slog"
	"sync/atomic"
)

// Chute is the audio-thread half of the garbage channel. When an edit
// displaces a compiled node, a function or any other heap object, the audio
// goroutine tosses it down the chute instead of letting its last reference
// die on the hot path. The control thread later drains the other end and
// performs the actual cleanup there.
type Chute struct {
	ch      chan any
	dropped *atomic.Uint64
}

// Disposer is the control-thread half. Clear drains everything the audio
// thread has tossed since the last call.
type Disposer struct {
	ch      chan any
	dropped *atomic.Uint64
}

// NewGarbage returns a connected chute and disposer with the given channel
// capacity.
func NewGarbage(capacity int) (*Chute, *Disposer) {
	ch := make(chan any, capacity)
	var dropped atomic.Uint64
	return &Chute{ch: ch, dropped: &dropped}, &Disposer{ch: ch, dropped: &dropped}
}

// Toss hands an object to the disposer without blocking. If the channel is
// full the object is dropped on the spot and a counter is bumped; the
// disposer logs the overflow on its next Clear.
func (c *Chute) Toss(x any) {
	if x == nil {
		return
	}
	select {
	case c.ch <- x:
	default:
		c.dropped.Add(1)
	}
}

// Clear drains all pending garbage, closing anything that implements
// io.Closer, and returns the number of objects disposed. Everything else is
// simply dropped here, on the control thread, where the garbage collector
// may take its time.
func (d *Disposer) Clear() int {
	n := 0
	for {
		select {
		case x := <-d.ch:
			if closer, ok := x.(io.Closer); ok {
				closer.Close()
			}
			n++
		default:
			if dropped := d.dropped.Swap(0); dropped > 0 {
				slog.Warn("garbage chute overflowed, objects were freed on the audio thread", "count", dropped)
			}
			return n
		}
	}
}
