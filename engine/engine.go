// Package engine compiles sound graphs into a live state graph and
// processes it in real time. A running engine owns one processing goroutine;
// the control side holds a Handle, publishes topology changes through
// Handle.Update and never touches the compiled graph directly. All
// communication between the two sides goes through bounded channels that the
// processing goroutine never blocks on.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/expr"
)

// DefaultQueueCapacity is the default size of the edit queue and the garbage
// chute. Plenty for interactive editing; a single Update that produces more
// edits than this is a bug in the caller, not a load condition.
const DefaultQueueCapacity = 1024

// chunkDuration is how much playback time one chunk covers.
const chunkDuration = time.Second * flowtone.ChunkSize / flowtone.SampleRate

// ErrEngineStopped is returned by Handle.Update after the processing
// goroutine has exited.
var ErrEngineStopped = errors.New("engine has stopped")

// Config carries the engine construction parameters. The zero value of every
// field is usable; a nil Sink simply discards nothing and produces nothing
// audible.
type Config struct {
	// Sink receives the chunks the output processor produces.
	Sink flowtone.AudioSink

	// QueueCapacity bounds the edit queue. 0 means DefaultQueueCapacity.
	QueueCapacity int

	// GarbageCapacity bounds the garbage chute. 0 means
	// DefaultQueueCapacity.
	GarbageCapacity int

	// DebugValidation interleaves structural consistency checks with the
	// edits of every update. Meant for tests; the checks traverse the whole
	// state graph on the processing goroutine.
	DebugValidation bool
}

// Engine runs the state graph. Construct with New, then either Start for
// real-time processing or Render for offline processing.
type Engine struct {
	cfg         Config
	graph       *StateGraph
	ctx         *Context
	edits       chan Edit
	chute       *Chute
	keepRunning atomic.Bool
	started     atomic.Bool
	finished    chan struct{}
}

// Handle is the control-thread side of an engine.
type Handle struct {
	engine   *Engine
	cache    *expr.Cache
	disposer *Disposer
	topology *flowtone.Graph
}

// New creates an engine and its control handle. The engine starts with an
// empty state graph; publish a topology with Handle.Update.
func New(cfg Config) (*Engine, *Handle) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.GarbageCapacity <= 0 {
		cfg.GarbageCapacity = DefaultQueueCapacity
	}
	chute, disposer := NewGarbage(cfg.GarbageCapacity)
	e := &Engine{
		cfg:      cfg,
		graph:    NewStateGraph(chute),
		ctx:      newContext(cfg.Sink),
		edits:    make(chan Edit, cfg.QueueCapacity),
		chute:    chute,
		finished: make(chan struct{}),
	}
	e.keepRunning.Store(true)
	h := &Handle{
		engine:   e,
		cache:    expr.NewCache(),
		disposer: disposer,
		topology: flowtone.NewGraph(),
	}
	return e, h
}

// Start spawns the processing goroutine. The goroutine paces itself to one
// chunk per chunkDuration and keeps running until the handle is closed.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		panic("engine: started twice")
	}
	go e.run()
}

// Render processes n chunks synchronously on the calling goroutine, without
// deadline pacing, draining pending edits before each chunk just like the
// real-time loop does. It must not be mixed with Start.
func (e *Engine) Render(n int) {
	if e.started.Load() {
		panic("engine: Render on a started engine")
	}
	for i := 0; i < n; i++ {
		e.cycle()
	}
}

// StateGraph exposes the compiled graph. Only the processing goroutine may
// touch it while the engine runs; callers use it for offline inspection and
// through DebugInspection edits.
func (e *Engine) StateGraph() *StateGraph { return e.graph }

// Context exposes the processing context, under the same ownership rule as
// StateGraph.
func (e *Engine) Context() *Context { return e.ctx }

func (e *Engine) run() {
	defer close(e.finished)
	deadline := time.Now().Add(chunkDuration)
	late := false
	for e.keepRunning.Load() {
		e.cycle()
		now := time.Now()
		if now.Before(deadline) {
			late = false
			time.Sleep(deadline.Sub(now))
			deadline = deadline.Add(chunkDuration)
		} else {
			// Warn once per stretch of lateness, then resynchronize instead
			// of trying to catch up chunk by chunk.
			if !late {
				slog.Warn("processing deadline missed", "behind", now.Sub(deadline))
				late = true
			}
			deadline = now.Add(chunkDuration)
		}
	}
}

// cycle applies pending edits and processes one chunk. Every shared node is
// driven exactly once per cycle; nodes a keyboard or mixer reaches first
// through an input produce their chunk there and serve the cached copy to
// everyone else.
func (e *Engine) cycle() {
	e.drainEdits()
	e.ctx.chunk++
	for _, s := range e.graph.static {
		s.ProcessChunk(e.ctx)
	}
}

func (e *Engine) drainEdits() {
	for {
		select {
		case edit := <-e.edits:
			e.graph.MakeEdit(edit)
		default:
			return
		}
	}
}

// Update publishes a new topology. It validates the graph, takes an
// immutable snapshot, refreshes the function cache, compiles the static
// processors and enqueues the edit sequence that transforms the live state
// graph. The caller keeps ownership of g and may continue mutating it.
//
// Update never blocks on the processing goroutine. A full edit queue is a
// caller bug and panics; an engine whose goroutine has exited returns
// ErrEngineStopped.
func (h *Handle) Update(g *flowtone.Graph) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	select {
	case <-h.engine.finished:
		return ErrEngineStopped
	default:
	}
	snapshot := g.Copy()
	h.cache.Refresh(snapshot)
	c := NewCompiler(snapshot, h.cache)
	edits := DiffGraphs(h.topology, snapshot, c, h.engine.cfg.DebugValidation)
	for _, edit := range edits {
		if !trySend(h.engine.edits, edit) {
			select {
			case <-h.engine.finished:
				return ErrEngineStopped
			default:
			}
			panic("engine: edit queue full")
		}
	}
	h.topology = snapshot
	h.disposer.Clear()
	return nil
}

// Cache exposes the expression function cache, mainly for tests and
// diagnostics.
func (h *Handle) Cache() *expr.Cache { return h.cache }

// Topology returns the snapshot of the last successful Update.
func (h *Handle) Topology() *flowtone.Graph { return h.topology }

// Close stops the processing goroutine, waits for it to exit and drains the
// remaining garbage. Closing an engine that was never started just cleans
// up. Close is idempotent.
func (h *Handle) Close() error {
	e := h.engine
	e.keepRunning.Store(false)
	if e.started.Load() {
		if _, ok := timeoutReceive(e.finished, 3*time.Second); !ok {
			return errors.New("timed out waiting for the engine to stop")
		}
	}
	h.disposer.Clear()
	return nil
}

// trySend sends a value to a channel, returning false if the channel was
// full.
func trySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// timeoutReceive receives a value from a channel, returning ok=false if the
// timeout expires first.
func timeoutReceive[T any](c <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-c:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
