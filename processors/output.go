package processors

import (
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
)

// Output is the terminal processor: it pulls one chunk per cycle from its
// input and hands it to the engine's audio sink. It is static, so the whole
// graph upstream of it is driven exactly once per cycle.
type Output struct{}

func NewOutput() *Output { return &Output{} }

func (*Output) Name() string { return "output" }

func (*Output) IsStatic() bool { return true }

type outputState struct{}

func (outputState) StartOver() {}

func (*Output) Allocate(n *engine.Node) engine.State { return outputState{} }

func (*Output) Process(_ engine.State, n *engine.Node, ctx *engine.Context, dst *flowtone.Chunk) {
	n.Input(0).Evaluate(0, ctx, dst)
	if sink := ctx.Sink(); sink != nil {
		sink.WriteChunk(dst)
	}
}

// OutputIDs names the components AddOutput creates.
type OutputIDs struct {
	Processor flowtone.ProcessorID
	Input     flowtone.SoundInputID
}

// AddOutput adds an output processor with a single synchronous input.
func AddOutput(g *flowtone.Graph) OutputIDs {
	id := g.AddProcessor(NewOutput())
	input := g.AddInput(id, flowtone.Synchronous, flowtone.ArgumentScope{})
	return OutputIDs{Processor: id, Input: input}
}
