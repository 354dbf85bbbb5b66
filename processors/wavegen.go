package processors

import (
	"github.com/chewxy/math32"
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
	"github.com/flowtone/flowtone/expr"
)

// WaveGenerator produces a periodic waveform. Its frequency expression is
// evaluated per sample and integrated into a phase that wraps in [0, 1); the
// amplitude expression maps the phase to the output waveform through the
// phase argument. Dynamic, so every voice of a keyboard drives its own
// generator state.
type WaveGenerator struct{}

func NewWaveGenerator() *WaveGenerator { return &WaveGenerator{} }

func (*WaveGenerator) Name() string { return "wavegen" }

func (*WaveGenerator) IsStatic() bool { return false }

type waveGeneratorState struct {
	phase float32
}

func (s *waveGeneratorState) StartOver() { s.phase = 0 }

func (*WaveGenerator) Allocate(n *engine.Node) engine.State { return &waveGeneratorState{} }

func (*WaveGenerator) Process(state engine.State, n *engine.Node, ctx *engine.Context, dst *flowtone.Chunk) {
	st := state.(*waveGeneratorState)
	freq := ctx.BorrowSlice(flowtone.ChunkSize)
	phase := ctx.BorrowSlice(flowtone.ChunkSize)
	amp := ctx.BorrowSlice(flowtone.ChunkSize)

	n.Expression(0).Eval(freq, expr.SampleTemporal(), ctx)
	p := st.phase
	for i := range phase {
		phase[i] = p
		p += freq[i] / flowtone.SampleRate
		p -= math32.Floor(p)
	}
	st.phase = p

	n.Argument(0).PushArray(ctx, phase)
	n.Expression(1).Eval(amp, expr.SampleTemporal(), ctx)
	n.Argument(0).Pop(ctx)

	copy(dst.L[:], amp)
	copy(dst.R[:], amp)

	ctx.ReleaseSlice(amp)
	ctx.ReleaseSlice(phase)
	ctx.ReleaseSlice(freq)
}

// WaveGeneratorIDs names the components AddWaveGenerator creates.
type WaveGeneratorIDs struct {
	Processor flowtone.ProcessorID
	Frequency flowtone.ExpressionID
	Amplitude flowtone.ExpressionID
	Phase     flowtone.ArgumentID
}

// AddWaveGenerator adds a wave generator whose frequency defaults to 440 Hz
// and whose amplitude defaults to a sine of the phase.
func AddWaveGenerator(g *flowtone.Graph) (WaveGeneratorIDs, error) {
	id := g.AddProcessor(NewWaveGenerator())
	phaseArg := g.AddArgument(id, flowtone.ArrayTranslation)

	freqBody := flowtone.ExprGraph{Result: flowtone.ExprInput{Default: 440}}
	freq, err := g.AddExpression(id, freqBody, nil, flowtone.ExpressionScope{}, 440)
	if err != nil {
		return WaveGeneratorIDs{}, err
	}

	var ampBody flowtone.ExprGraph
	param := ampBody.AddNode(flowtone.ExprParameter)
	turns := ampBody.AddConstant(2 * math32.Pi)
	radians := ampBody.AddNode(flowtone.ExprMul)
	ampBody.Connect(radians, 0, param)
	ampBody.Connect(radians, 1, turns)
	sine := ampBody.AddNode(flowtone.ExprSin)
	ampBody.Connect(sine, 0, radians)
	ampBody.Result = flowtone.ExprInput{Node: sine}
	mapping := flowtone.ParameterMapping{
		param: {Processor: id, Argument: phaseArg},
	}
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{phaseArg}}
	amp, err := g.AddExpression(id, ampBody, mapping, scope, 0)
	if err != nil {
		return WaveGeneratorIDs{}, err
	}

	return WaveGeneratorIDs{Processor: id, Frequency: freq, Amplitude: amp, Phase: phaseArg}, nil
}
