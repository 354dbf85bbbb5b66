package engine_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
)

// missCounter counts deadline warnings emitted by the processing goroutine
// and swallows everything else.
type missCounter struct {
	n *atomic.Int64
}

func (h missCounter) Enabled(context.Context, slog.Level) bool { return true }

func (h missCounter) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "processing deadline missed" {
		h.n.Add(1)
	}
	return nil
}

func (h missCounter) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h missCounter) WithGroup(string) slog.Handler { return h }

type nopState struct{}

func (nopState) StartOver() {}

// slowKind stalls the processing loop for the first few chunks, then runs
// instantly.
type slowKind struct {
	remaining *atomic.Int64
	stall     time.Duration
}

func (slowKind) Name() string { return "slow" }

func (slowKind) IsStatic() bool { return true }

func (slowKind) Allocate(*engine.Node) engine.State { return nopState{} }

func (k slowKind) Process(_ engine.State, _ *engine.Node, _ *engine.Context, dst *flowtone.Chunk) {
	dst.Clear()
	if k.remaining.Add(-1) >= 0 {
		time.Sleep(k.stall)
	}
}

func TestDeadlineMissWarnsOncePerStretch(t *testing.T) {
	var misses atomic.Int64
	prev := slog.Default()
	slog.SetDefault(slog.New(missCounter{n: &misses}))
	defer slog.SetDefault(prev)

	chunkDuration := time.Second * flowtone.ChunkSize / flowtone.SampleRate
	var remaining atomic.Int64
	remaining.Store(2)

	g := flowtone.NewGraph()
	g.AddProcessor(slowKind{remaining: &remaining, stall: 2 * chunkDuration})
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	e, handle := engine.New(engine.Config{})
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Start()
	time.Sleep(8 * chunkDuration)
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}

	if remaining.Load() > 0 {
		t.Fatal("engine did not process both stalling chunks")
	}
	if got := misses.Load(); got != 1 {
		t.Errorf("logged %d deadline warnings for one stretch of lateness, want 1", got)
	}
}
