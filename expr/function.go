package expr

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/flowtone/flowtone"
	"github.com/viterin/vek/vek32"
)

// Discretization is the temporal interpretation of adjacent slots of an
// evaluated buffer: not temporal at all, or spaced timeStep seconds apart.
type Discretization struct {
	temporal bool
	timeStep float32
}

// None returns the context-free discretization; time-dependent nodes hold
// their state under it.
func None() Discretization { return Discretization{} }

// Temporal returns a discretization with the given spacing in seconds.
func Temporal(timeStep float32) Discretization {
	return Discretization{temporal: true, timeStep: timeStep}
}

// SampleTemporal spaces adjacent slots one sample period apart.
func SampleTemporal() Discretization {
	return Temporal(1.0 / flowtone.SampleRate)
}

// ChunkTemporal spaces adjacent slots one whole processing chunk apart.
func ChunkTemporal() Discretization {
	return Temporal(float32(flowtone.ChunkSize) / flowtone.SampleRate)
}

// TimeStep returns the slot spacing in seconds, or 0 if not temporal.
func (d Discretization) TimeStep() float32 {
	if !d.temporal {
		return 0
	}
	return d.timeStep
}

// Context supplies a compiled function with scratch memory and with the
// argument values its parameters are bound to. The engine's processing
// context implements it.
type Context interface {
	BorrowSlice(n int) []float32
	ReleaseSlice(b []float32)
	ScalarArgument(loc flowtone.ArgumentLocation) (float32, bool)
	ArrayArgument(loc flowtone.ArgumentLocation) ([]float32, bool)
}

// Function is one callable instance of a compiled expression: the shared
// immutable artefact plus this site's argument bindings and private
// persistent state (init flag and state variables). The same artefact may
// run with independent state at many graph sites.
type Function struct {
	art         *Artefact
	locations   []flowtone.ArgumentLocation
	state       []float32
	initialized bool
	regs        [][]float32
}

func newFunction(art *Artefact, locations []flowtone.ArgumentLocation) *Function {
	if len(locations) != len(art.slots) {
		panic(fmt.Sprintf("expr: artefact has %d parameter slots, got %d locations", len(art.slots), len(locations)))
	}
	return &Function{
		art:       art,
		locations: locations,
		state:     make([]float32, art.numState),
		regs:      make([][]float32, 0, art.numRegs),
	}
}

// Artefact returns the shared compiled artefact backing this function.
func (f *Function) Artefact() *Artefact { return f.art }

// StartOver resets the function's persistent state without recompiling; the
// state variables are reinitialized on the next evaluation.
func (f *Function) StartOver() { f.initialized = false }

// EvalScalar evaluates the expression once, context-free.
func (f *Function) EvalScalar(ctx Context) float32 {
	var out [1]float32
	f.Eval(out[:], None(), ctx)
	return out[0]
}

// Eval evaluates the expression into dst, one value per slot, under the
// given discretization. Scratch registers are borrowed from the context; no
// heap allocation happens after the function's first use.
func (f *Function) Eval(dst []float32, disc Discretization, ctx Context) {
	n := len(dst)
	if n == 0 {
		return
	}
	if !f.initialized {
		for i := range f.state {
			f.state[i] = 0
		}
		for _, i := range f.art.seedState {
			f.state[i] = math.Float32frombits(1)
		}
		f.initialized = true
	}
	regs := f.regs[:0]
	for i := 0; i < f.art.numRegs; i++ {
		regs = append(regs, ctx.BorrowSlice(n))
	}
	dt := disc.TimeStep()
	for _, ins := range f.art.code {
		d := regs[ins.dst]
		switch ins.op {
		case opConstant:
			fill(d, ins.value)
		case opParameter:
			f.loadParameter(d, ins.index, ctx)
		case opAdd:
			vek32.Add_Into(d, regs[ins.a], regs[ins.b])
		case opSub:
			vek32.Sub_Into(d, regs[ins.a], regs[ins.b])
		case opMul:
			vek32.Mul_Into(d, regs[ins.a], regs[ins.b])
		case opDiv:
			vek32.Div_Into(d, regs[ins.a], regs[ins.b])
		case opNeg:
			vek32.Neg_Into(d, regs[ins.a])
		case opAbs:
			vek32.Abs_Into(d, regs[ins.a])
		case opMin:
			vek32.Minimum_Into(d, regs[ins.a], regs[ins.b])
		case opMax:
			vek32.Maximum_Into(d, regs[ins.a], regs[ins.b])
		case opClamp:
			vek32.Maximum_Into(d, regs[ins.a], regs[ins.b])
			vek32.Minimum_Inplace(d, regs[ins.c])
		case opSin:
			vek32.Sin_Into(d, regs[ins.a])
		case opCos:
			vek32.Cos_Into(d, regs[ins.a])
		case opExp2:
			// vek32 has no base-2 exponential, so lower to exp(x*ln 2).
			vek32.MulNumber_Into(d, regs[ins.a], math32.Ln2)
			vek32.Exp_Inplace(d)
		case opPow:
			vek32.Pow_Into(d, regs[ins.a], regs[ins.b])
		case opNoise:
			seed := math.Float32bits(f.state[ins.index])
			for j := range d {
				seed *= 16007
				d[j] = float32(int32(seed)) / -2147483648.0
			}
			f.state[ins.index] = math.Float32frombits(seed)
		case opSmooth:
			y := f.state[ins.index]
			x, k := regs[ins.a], regs[ins.b]
			for j := range d {
				y += k[j] * (x[j] - y)
				d[j] = y
			}
			f.state[ins.index] = y
		case opPhasor:
			phase := f.state[ins.index]
			freq := regs[ins.a]
			for j := range d {
				phase += freq[j] * dt
				phase -= math32.Floor(phase)
				d[j] = phase
			}
			f.state[ins.index] = phase
		default:
			panic(fmt.Sprintf("expr: invalid opcode %d", ins.op))
		}
	}
	copy(dst, regs[f.art.result])
	for _, r := range regs {
		ctx.ReleaseSlice(r)
	}
	f.regs = regs[:0]
}

func (f *Function) loadParameter(dst []float32, index uint16, ctx Context) {
	loc := f.locations[index]
	if f.art.slots[index].array {
		arr, ok := ctx.ArrayArgument(loc)
		if !ok {
			panic(fmt.Sprintf("expr: array argument %d of processor %d read but not pushed", loc.Argument, loc.Processor))
		}
		m := copy(dst, arr)
		// An argument array shorter than the evaluation holds its last value.
		var last float32
		if m > 0 {
			last = arr[m-1]
		}
		for i := m; i < len(dst); i++ {
			dst[i] = last
		}
		return
	}
	v, ok := ctx.ScalarArgument(loc)
	if !ok {
		panic(fmt.Sprintf("expr: scalar argument %d of processor %d read but not pushed", loc.Argument, loc.Processor))
	}
	fill(dst, v)
}

func fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
