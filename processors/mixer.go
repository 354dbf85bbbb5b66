package processors

import (
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
)

// Mixer sums the branches of its input. It is dynamic: every place a mixer
// is referenced gets its own instance.
type Mixer struct{}

func NewMixer() *Mixer { return &Mixer{} }

func (*Mixer) Name() string { return "mixer" }

func (*Mixer) IsStatic() bool { return false }

type mixerState struct{}

func (mixerState) StartOver() {}

func (*Mixer) Allocate(n *engine.Node) engine.State { return mixerState{} }

func (*Mixer) Process(_ engine.State, n *engine.Node, ctx *engine.Context, dst *flowtone.Chunk) {
	dst.Clear()
	in := n.Input(0)
	tmp := ctx.BorrowChunk()
	for b := 0; b < in.NumBranches(); b++ {
		in.Evaluate(b, ctx, tmp)
		addChunk(dst, tmp)
	}
	ctx.ReleaseChunk(tmp)
}

// MixerIDs names the components AddMixer creates.
type MixerIDs struct {
	Processor flowtone.ProcessorID
	Input     flowtone.SoundInputID
}

// AddMixer adds a mixer whose input starts with the given number of
// unconnected branches.
func AddMixer(g *flowtone.Graph, branches int) MixerIDs {
	id := g.AddProcessor(NewMixer())
	input := g.AddInput(id, flowtone.Synchronous, flowtone.ArgumentScope{})
	if branches > 1 {
		g.SetBranchCount(input, branches)
	}
	return MixerIDs{Processor: id, Input: input}
}
