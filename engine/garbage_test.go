package engine_test

import (
	"testing"

	"github.com/flowtone/flowtone/engine"
)

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestGarbageDisposal(t *testing.T) {
	chute, disposer := engine.NewGarbage(16)
	rec := &closeRecorder{}
	chute.Toss(rec)
	chute.Toss("some displaced value")
	chute.Toss(nil)
	if got := disposer.Clear(); got != 2 {
		t.Errorf("Clear() disposed %d objects, want 2", got)
	}
	if !rec.closed {
		t.Error("disposer did not close a tossed io.Closer")
	}
	if got := disposer.Clear(); got != 0 {
		t.Errorf("second Clear() disposed %d objects, want 0", got)
	}
}

func TestGarbageOverflowDropsInPlace(t *testing.T) {
	chute, disposer := engine.NewGarbage(1)
	chute.Toss(1)
	chute.Toss(2)
	chute.Toss(3)
	if got := disposer.Clear(); got != 1 {
		t.Errorf("Clear() disposed %d objects, want 1", got)
	}
}
