package expr_test

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/expr"
)

type generatorKind struct{}

func (generatorKind) Name() string { return "generator" }

func (generatorKind) IsStatic() bool { return false }

// evalContext is a minimal expr.Context for evaluating functions outside the
// engine.
type evalContext struct {
	scalars map[flowtone.ArgumentLocation]float32
	arrays  map[flowtone.ArgumentLocation][]float32
}

func (c *evalContext) BorrowSlice(n int) []float32 { return make([]float32, n) }

func (c *evalContext) ReleaseSlice([]float32) {}

func (c *evalContext) ScalarArgument(loc flowtone.ArgumentLocation) (float32, bool) {
	v, ok := c.scalars[loc]
	return v, ok
}

func (c *evalContext) ArrayArgument(loc flowtone.ArgumentLocation) ([]float32, bool) {
	v, ok := c.arrays[loc]
	return v, ok
}

// compile adds the expression to the graph and compiles it through a fresh
// cache, returning a ready function.
func compile(t *testing.T, g *flowtone.Graph, owner flowtone.ProcessorID, body flowtone.ExprGraph, mapping flowtone.ParameterMapping, scope flowtone.ExpressionScope) *expr.Function {
	t.Helper()
	id, err := g.AddExpression(owner, body, mapping, scope, 0)
	if err != nil {
		t.Fatalf("AddExpression: %v", err)
	}
	cache := expr.NewCache()
	cache.Refresh(g)
	fn, ok := cache.RequestFunction(g, g.Expression(id), expr.ModeNormal)
	if !ok {
		t.Fatal("RequestFunction missed after Refresh")
	}
	return fn
}

func TestEvalArithmetic(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	arg := g.AddArgument(owner, flowtone.ScalarTranslation)

	// (p + 2) * 3
	var body flowtone.ExprGraph
	p := body.AddNode(flowtone.ExprParameter)
	two := body.AddConstant(2)
	sum := body.AddNode(flowtone.ExprAdd)
	body.Connect(sum, 0, p)
	body.Connect(sum, 1, two)
	three := body.AddConstant(3)
	prod := body.AddNode(flowtone.ExprMul)
	body.Connect(prod, 0, sum)
	body.Connect(prod, 1, three)
	body.Result = flowtone.ExprInput{Node: prod}

	loc := flowtone.ArgumentLocation{Processor: owner, Argument: arg}
	mapping := flowtone.ParameterMapping{p: loc}
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{arg}}
	fn := compile(t, g, owner, body, mapping, scope)

	ctx := &evalContext{scalars: map[flowtone.ArgumentLocation]float32{loc: 5}}
	dst := make([]float32, 4)
	fn.Eval(dst, expr.None(), ctx)
	for i, v := range dst {
		if v != 21 {
			t.Errorf("dst[%d] = %v, want 21", i, v)
		}
	}
}

func TestEvalExp2(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	arg := g.AddArgument(owner, flowtone.ScalarTranslation)

	var body flowtone.ExprGraph
	p := body.AddNode(flowtone.ExprParameter)
	e2 := body.AddNode(flowtone.ExprExp2)
	body.Connect(e2, 0, p)
	body.Result = flowtone.ExprInput{Node: e2}

	loc := flowtone.ArgumentLocation{Processor: owner, Argument: arg}
	mapping := flowtone.ParameterMapping{p: loc}
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{arg}}
	fn := compile(t, g, owner, body, mapping, scope)

	cases := []struct{ in, want float32 }{
		{0, 1},
		{3, 8},
		{-1, 0.5},
		{0.5, math32.Sqrt2},
	}
	for _, c := range cases {
		ctx := &evalContext{scalars: map[flowtone.ArgumentLocation]float32{loc: c.in}}
		dst := make([]float32, 4)
		fn.Eval(dst, expr.None(), ctx)
		for i, v := range dst {
			if math32.Abs(v-c.want) > 1e-3*c.want+1e-4 {
				t.Errorf("exp2(%v): dst[%d] = %v, want %v", c.in, i, v, c.want)
			}
		}
	}
}

func TestEvalUnconnectedResultUsesDefault(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	body := flowtone.ExprGraph{Result: flowtone.ExprInput{Default: 7}}
	fn := compile(t, g, owner, body, nil, flowtone.ExpressionScope{})
	if got := fn.EvalScalar(&evalContext{}); got != 7 {
		t.Errorf("EvalScalar() = %v, want 7", got)
	}
}

func TestEvalClamp(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	arg := g.AddArgument(owner, flowtone.ArrayTranslation)

	var body flowtone.ExprGraph
	p := body.AddNode(flowtone.ExprParameter)
	clamp := body.AddNode(flowtone.ExprClamp, 0, 0, 1)
	body.Connect(clamp, 0, p)
	body.Result = flowtone.ExprInput{Node: clamp}

	loc := flowtone.ArgumentLocation{Processor: owner, Argument: arg}
	mapping := flowtone.ParameterMapping{p: loc}
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{arg}}
	fn := compile(t, g, owner, body, mapping, scope)

	ctx := &evalContext{arrays: map[flowtone.ArgumentLocation][]float32{
		loc: {-1, 0.25, 0.5, 2},
	}}
	dst := make([]float32, 4)
	fn.Eval(dst, expr.None(), ctx)
	want := []float32{0, 0.25, 0.5, 1}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestPhasorAdvancesAndRestarts(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	var body flowtone.ExprGraph
	freq := body.AddConstant(flowtone.SampleRate / 4)
	phasor := body.AddNode(flowtone.ExprPhasor)
	body.Connect(phasor, 0, freq)
	body.Result = flowtone.ExprInput{Node: phasor}
	fn := compile(t, g, owner, body, nil, flowtone.ExpressionScope{})

	// the phase advances a quarter turn per sample and wraps in [0, 1)
	samePhase := func(a, b float32) bool {
		d := a - b
		for d < 0 {
			d++
		}
		for d >= 1 {
			d--
		}
		return d < 1e-3 || d > 1-1e-3
	}
	ctx := &evalContext{}
	dst := make([]float32, 4)
	fn.Eval(dst, expr.SampleTemporal(), ctx)
	want := []float32{0.25, 0.5, 0.75, 0}
	for i := range want {
		if !samePhase(dst[i], want[i]) {
			t.Errorf("first eval: dst[%d] = %v, want %v", i, dst[i], want[i])
		}
		if dst[i] < 0 || dst[i] >= 1 {
			t.Errorf("dst[%d] = %v outside [0, 1)", i, dst[i])
		}
	}
	fn.StartOver()
	again := make([]float32, 4)
	fn.Eval(again, expr.SampleTemporal(), ctx)
	for i := range dst {
		if again[i] != dst[i] {
			t.Errorf("after StartOver: dst[%d] = %v, want %v", i, again[i], dst[i])
		}
	}
}

func TestSmoothTracksWithFullCoefficient(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	arg := g.AddArgument(owner, flowtone.ArrayTranslation)

	var body flowtone.ExprGraph
	p := body.AddNode(flowtone.ExprParameter)
	smooth := body.AddNode(flowtone.ExprSmooth, 0, 1)
	body.Connect(smooth, 0, p)
	body.Result = flowtone.ExprInput{Node: smooth}

	loc := flowtone.ArgumentLocation{Processor: owner, Argument: arg}
	mapping := flowtone.ParameterMapping{p: loc}
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{arg}}
	fn := compile(t, g, owner, body, mapping, scope)

	in := []float32{1, -2, 3, -4}
	ctx := &evalContext{arrays: map[flowtone.ArgumentLocation][]float32{loc: in}}
	dst := make([]float32, 4)
	fn.Eval(dst, expr.SampleTemporal(), ctx)
	for i := range in {
		if dst[i] != in[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], in[i])
		}
	}
}

func TestNoiseIsDeterministicPerInstance(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	var body flowtone.ExprGraph
	noise := body.AddNode(flowtone.ExprNoise)
	body.Result = flowtone.ExprInput{Node: noise}

	id, err := g.AddExpression(owner, body, nil, flowtone.ExpressionScope{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	cache := expr.NewCache()
	cache.Refresh(g)
	fn1, _ := cache.RequestFunction(g, g.Expression(id), expr.ModeNormal)
	fn2, _ := cache.RequestFunction(g, g.Expression(id), expr.ModeNormal)
	if fn1 == nil || fn2 == nil {
		t.Fatal("RequestFunction missed after Refresh")
	}
	if fn1.Artefact() != fn2.Artefact() {
		t.Error("instances of the same expression do not share an artefact")
	}

	ctx := &evalContext{}
	a := make([]float32, 16)
	b := make([]float32, 16)
	fn1.Eval(a, expr.SampleTemporal(), ctx)
	fn2.Eval(b, expr.SampleTemporal(), ctx)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("instances diverge at %d: %v vs %v", i, a[i], b[i])
		}
		if a[i] < -1 || a[i] > 1 {
			t.Fatalf("noise sample %d out of range: %v", i, a[i])
		}
	}
	fn1.StartOver()
	c := make([]float32, 16)
	fn1.Eval(c, expr.SampleTemporal(), ctx)
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("sequence does not repeat after StartOver at %d", i)
		}
	}
}

func TestCacheSharesArtefactAcrossSites(t *testing.T) {
	g := flowtone.NewGraph()
	p1 := g.AddProcessor(generatorKind{})
	p2 := g.AddProcessor(generatorKind{})
	a1 := g.AddArgument(p1, flowtone.ScalarTranslation)
	a2 := g.AddArgument(p2, flowtone.ScalarTranslation)

	build := func(extraNodes int) flowtone.ExprGraph {
		var body flowtone.ExprGraph
		// skew the node ids so only structure can match
		for i := 0; i < extraNodes; i++ {
			body.AddConstant(99)
		}
		p := body.AddNode(flowtone.ExprParameter)
		neg := body.AddNode(flowtone.ExprNeg)
		body.Connect(neg, 0, p)
		body.Result = flowtone.ExprInput{Node: neg}
		return body
	}

	loc1 := flowtone.ArgumentLocation{Processor: p1, Argument: a1}
	loc2 := flowtone.ArgumentLocation{Processor: p2, Argument: a2}
	body1 := build(0)
	body2 := build(3)
	id1, err := g.AddExpression(p1, body1, flowtone.ParameterMapping{body1.Nodes[0].ID: loc1},
		flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{a1}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := g.AddExpression(p2, body2, flowtone.ParameterMapping{body2.Nodes[3].ID: loc2},
		flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{a2}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	cache := expr.NewCache()
	cache.Refresh(g)
	if cache.Len() != 1 {
		t.Errorf("cache holds %d artefacts, want 1 (structure is shared)", cache.Len())
	}
	fn1, _ := cache.RequestFunction(g, g.Expression(id1), expr.ModeNormal)
	fn2, _ := cache.RequestFunction(g, g.Expression(id2), expr.ModeNormal)
	if fn1 == nil || fn2 == nil {
		t.Fatal("RequestFunction missed after Refresh")
	}
	if fn1.Artefact() != fn2.Artefact() {
		t.Error("structurally identical expressions compiled to different artefacts")
	}

	// each site still reads its own argument
	ctx := &evalContext{scalars: map[flowtone.ArgumentLocation]float32{loc1: 3, loc2: 8}}
	if got := fn1.EvalScalar(ctx); got != -3 {
		t.Errorf("site 1 = %v, want -3", got)
	}
	if got := fn2.EvalScalar(ctx); got != -8 {
		t.Errorf("site 2 = %v, want -8", got)
	}
}

func TestCacheMissQueuesAndRefreshCompiles(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	body := flowtone.ExprGraph{Result: flowtone.ExprInput{Default: 1}}
	id, err := g.AddExpression(owner, body, nil, flowtone.ExpressionScope{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	cache := expr.NewCache()
	if fn, ok := cache.RequestFunction(g, g.Expression(id), expr.ModeNormal); ok || fn != nil {
		t.Fatal("cold cache returned a function")
	}
	cache.Refresh(g)
	fn, ok := cache.RequestFunction(g, g.Expression(id), expr.ModeNormal)
	if !ok || fn == nil {
		t.Fatal("cache still misses after Refresh")
	}
	if got := fn.EvalScalar(&evalContext{}); got != 1 {
		t.Errorf("EvalScalar() = %v, want 1", got)
	}
}

func TestCacheEvictsRemovedExpressions(t *testing.T) {
	g := flowtone.NewGraph()
	owner := g.AddProcessor(generatorKind{})
	body := flowtone.ExprGraph{Result: flowtone.ExprInput{Default: 1}}
	id, err := g.AddExpression(owner, body, nil, flowtone.ExpressionScope{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	cache := expr.NewCache()
	cache.Refresh(g)
	if cache.Len() != 1 {
		t.Fatalf("cache holds %d artefacts, want 1", cache.Len())
	}
	g.RemoveExpression(id)
	cache.Refresh(g)
	if cache.Len() != 0 {
		t.Errorf("cache holds %d artefacts after eviction, want 0", cache.Len())
	}
}
