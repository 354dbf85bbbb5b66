package engine

import (
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/expr"
)

// Runner is the runtime side of a processor kind. Kinds registered with the
// topology must also implement Runner or the compiler panics.
type Runner interface {
	flowtone.ProcessorKind

	// Allocate returns fresh per-instance runtime state for a node compiled
	// from this kind. Static kinds are allocated once per compilation pass,
	// dynamic kinds once per reference.
	Allocate(n *Node) State

	// Process produces one chunk of audio into dst. Implementations pull
	// from n's compiled inputs, evaluate its expressions and push its
	// arguments around doing so.
	Process(state State, n *Node, ctx *Context, dst *flowtone.Chunk)
}

// State is a node's per-instance runtime state.
type State interface {
	// StartOver resets the state to its initial condition, e.g. when a new
	// note restarts the subgraph it drives.
	StartOver()
}

// Node is one compiled processor instance: the runner, its state and the
// compiled counterparts of the processor's components, in topology order.
type Node struct {
	id     flowtone.ProcessorID
	runner Runner
	state  State
	inputs []*CompiledInput
	exprs  []*CompiledExpression
	args   []*CompiledArgument
}

func (n *Node) ProcessorID() flowtone.ProcessorID { return n.id }

func (n *Node) NumInputs() int { return len(n.inputs) }

func (n *Node) Input(i int) *CompiledInput { return n.inputs[i] }

func (n *Node) Expression(i int) *CompiledExpression { return n.exprs[i] }

func (n *Node) Argument(i int) *CompiledArgument { return n.args[i] }

func (n *Node) process(ctx *Context, dst *flowtone.Chunk) {
	n.runner.Process(n.state, n, ctx, dst)
}

func (n *Node) startOver() {
	n.state.StartOver()
	for _, e := range n.exprs {
		e.StartOver()
	}
	for _, in := range n.inputs {
		for _, t := range in.branches {
			t.startOver()
		}
	}
}

// CompiledTarget is one branch of a compiled input: the thing Evaluate pulls
// a chunk from. An unconnected branch is an EmptyTarget; a connected one is
// a UniqueNode or a SharedNode depending on the target kind.
type CompiledTarget interface {
	// Evaluate produces the target's next chunk into dst.
	Evaluate(ctx *Context, dst *flowtone.Chunk)

	// TargetID returns the processor the target was compiled from, or
	// NoProcessor for an empty target.
	TargetID() flowtone.ProcessorID

	startOver()
}

// EmptyTarget produces silence.
type EmptyTarget struct{}

func (EmptyTarget) Evaluate(ctx *Context, dst *flowtone.Chunk) { dst.Clear() }

func (EmptyTarget) TargetID() flowtone.ProcessorID { return flowtone.NoProcessor }

func (EmptyTarget) startOver() {}

// UniqueNode wraps a node instantiated exclusively for one input branch.
// Evaluating it advances the node's own state.
type UniqueNode struct {
	node *Node
}

func (u *UniqueNode) Evaluate(ctx *Context, dst *flowtone.Chunk) { u.node.process(ctx, dst) }

func (u *UniqueNode) TargetID() flowtone.ProcessorID { return u.node.id }

func (u *UniqueNode) startOver() { u.node.startOver() }

// Node returns the wrapped instance, for restarting a voice's subgraph.
func (u *UniqueNode) Node() *Node { return u.node }

// SharedNode wraps the single live instance of a static processor. It is
// processed at most once per cycle; every referrer within that cycle reads
// the same cached chunk. The stamp records the cycle the cache belongs to;
// cycles start at 1, so a fresh node always processes on first use.
type SharedNode struct {
	node  *Node
	stamp uint64
	cache flowtone.Chunk
}

// ProcessChunk makes sure the node has produced its chunk for the current
// cycle. The engine calls this for every shared node each cycle; referrers
// reaching a shared node first call it implicitly through Evaluate.
func (s *SharedNode) ProcessChunk(ctx *Context) {
	if s.stamp != ctx.chunk {
		s.stamp = ctx.chunk
		s.node.process(ctx, &s.cache)
	}
}

func (s *SharedNode) Evaluate(ctx *Context, dst *flowtone.Chunk) {
	s.ProcessChunk(ctx)
	dst.CopyFrom(&s.cache)
}

func (s *SharedNode) TargetID() flowtone.ProcessorID { return s.node.id }

// Static processors keep running across note boundaries; restarting one
// referrer must not reset the stream the others hear.
func (s *SharedNode) startOver() {}

func (s *SharedNode) Node() *Node { return s.node }

// CompiledInput is the runtime counterpart of a sound input: an ordered list
// of compiled branch targets.
type CompiledInput struct {
	id         flowtone.SoundInputID
	owner      flowtone.ProcessorID
	chronicity flowtone.Chronicity
	branches   []CompiledTarget
}

func (in *CompiledInput) InputID() flowtone.SoundInputID { return in.id }

func (in *CompiledInput) NumBranches() int { return len(in.branches) }

func (in *CompiledInput) Branch(i int) CompiledTarget { return in.branches[i] }

// Evaluate pulls the next chunk from the given branch.
func (in *CompiledInput) Evaluate(branch int, ctx *Context, dst *flowtone.Chunk) {
	in.branches[branch].Evaluate(ctx, dst)
}

// StartOverBranch restarts the subgraph behind one branch, e.g. when a voice
// is retriggered. Shared targets ignore it.
func (in *CompiledInput) StartOverBranch(branch int) {
	in.branches[branch].startOver()
}

// CompiledExpression pairs an expression with the compiled function backing
// it. The function is nil when the cache had no artefact ready at
// compilation time; evaluation then fills the fallback value until the next
// topology update swaps in a compiled function.
type CompiledExpression struct {
	id       flowtone.ExpressionID
	fn       *expr.Function
	fallback float32
	sctx     scopedContext
}

func (e *CompiledExpression) ExpressionID() flowtone.ExpressionID { return e.id }

// Ready reports whether a compiled function is available.
func (e *CompiledExpression) Ready() bool { return e.fn != nil }

// Eval evaluates the expression into dst under the given discretization.
func (e *CompiledExpression) Eval(dst []float32, disc expr.Discretization, ctx *Context) {
	if e.fn == nil {
		for i := range dst {
			dst[i] = e.fallback
		}
		return
	}
	e.sctx.ctx = ctx
	e.fn.Eval(dst, disc, &e.sctx)
}

// EvalScalar evaluates the expression once.
func (e *CompiledExpression) EvalScalar(ctx *Context) float32 {
	if e.fn == nil {
		return e.fallback
	}
	e.sctx.ctx = ctx
	return e.fn.EvalScalar(&e.sctx)
}

func (e *CompiledExpression) StartOver() {
	if e.fn != nil {
		e.fn.StartOver()
	}
}

// CompiledArgument is the runtime handle a processor uses to push its
// argument values around input evaluation.
type CompiledArgument struct {
	loc         flowtone.ArgumentLocation
	translation flowtone.ArgumentTranslation
}

func (a *CompiledArgument) ArgumentID() flowtone.ArgumentID { return a.loc.Argument }

// PushScalar binds a scalar value; the matching Pop must run after the
// downstream evaluation completes.
func (a *CompiledArgument) PushScalar(ctx *Context, v float32) {
	if a.translation != flowtone.ScalarTranslation {
		panic("engine: scalar push on an array argument")
	}
	ctx.PushScalar(a.loc, v)
}

// PushArray binds a per-sample array.
func (a *CompiledArgument) PushArray(ctx *Context, values []float32) {
	if a.translation != flowtone.ArrayTranslation {
		panic("engine: array push on a scalar argument")
	}
	ctx.PushArray(a.loc, values)
}

func (a *CompiledArgument) Pop(ctx *Context) { ctx.Pop() }
