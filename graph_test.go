package flowtone_test

import (
	"errors"
	"testing"

	"github.com/flowtone/flowtone"
)

type testKind struct {
	name   string
	static bool
}

func (k testKind) Name() string { return k.name }

func (k testKind) IsStatic() bool { return k.static }

func TestConnectBranchRejectsCycle(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	b := g.AddProcessor(testKind{name: "b"})
	inA := g.AddInput(a, flowtone.Synchronous, flowtone.ArgumentScope{})
	inB := g.AddInput(b, flowtone.Synchronous, flowtone.ArgumentScope{})
	if err := g.ConnectInput(inA, b); err != nil {
		t.Fatalf("connecting a -> b failed: %v", err)
	}
	err := g.ConnectInput(inB, a)
	var cycleErr *flowtone.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("connecting b -> a returned %v, want *CycleError", err)
	}
	if len(cycleErr.Path) != 2 {
		t.Errorf("cycle path is %v, want 2 processors", cycleErr.Path)
	}
	// the rejected connection must leave the graph untouched
	if got := g.Input(inB).Branches[0]; got != flowtone.NoProcessor {
		t.Errorf("branch of b still targets %d after rejected connection", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("graph invalid after rejected connection: %v", err)
	}
}

func TestCuttingAnyCycleEdgeRestoresValidity(t *testing.T) {
	// a -> b -> c plus the edge that would close the loop; after rejecting
	// the loop, connecting c to a fresh processor instead must succeed.
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	b := g.AddProcessor(testKind{name: "b"})
	c := g.AddProcessor(testKind{name: "c"})
	inA := g.AddInput(a, flowtone.Synchronous, flowtone.ArgumentScope{})
	inB := g.AddInput(b, flowtone.Synchronous, flowtone.ArgumentScope{})
	inC := g.AddInput(c, flowtone.Synchronous, flowtone.ArgumentScope{})
	if err := g.ConnectInput(inA, b); err != nil {
		t.Fatal(err)
	}
	if err := g.ConnectInput(inB, c); err != nil {
		t.Fatal(err)
	}
	if err := g.ConnectInput(inC, a); err == nil {
		t.Fatal("closing the loop c -> a did not fail")
	}
	d := g.AddProcessor(testKind{name: "d"})
	if err := g.ConnectInput(inC, d); err != nil {
		t.Fatalf("connecting c -> d after rejected cycle failed: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("graph invalid: %v", err)
	}
}

func TestRemoveProcessorDetachesBranches(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	b := g.AddProcessor(testKind{name: "b"})
	inA := g.AddInput(a, flowtone.Synchronous, flowtone.ArgumentScope{})
	inB := g.AddInput(b, flowtone.Synchronous, flowtone.ArgumentScope{})
	if err := g.ConnectInput(inA, b); err != nil {
		t.Fatal(err)
	}
	g.RemoveProcessor(b)
	if got := g.Input(inA).Branches[0]; got != flowtone.NoProcessor {
		t.Errorf("branch of a targets %d after removing b, want NoProcessor", got)
	}
	if g.Input(inB) != nil {
		t.Error("input of b survived its owner")
	}
	if err := g.Validate(); err != nil {
		t.Errorf("graph invalid after removal: %v", err)
	}
}

func TestSetBranchCount(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	b := g.AddProcessor(testKind{name: "b"})
	in := g.AddInput(a, flowtone.Independent, flowtone.ArgumentScope{})
	g.SetBranchCount(in, 4)
	if got := len(g.Input(in).Branches); got != 4 {
		t.Fatalf("input has %d branches, want 4", got)
	}
	if err := g.ConnectBranch(in, 3, b); err != nil {
		t.Fatal(err)
	}
	g.SetBranchCount(in, 2)
	if got := len(g.Input(in).Branches); got != 2 {
		t.Fatalf("input has %d branches after shrink, want 2", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("graph invalid after shrink: %v", err)
	}
}

func TestAddExpressionRejectsUnboundParameter(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	var body flowtone.ExprGraph
	param := body.AddNode(flowtone.ExprParameter)
	body.Result = flowtone.ExprInput{Node: param}
	_, err := g.AddExpression(a, body, nil, flowtone.ExpressionScope{}, 0)
	var scopeErr *flowtone.ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("got %v, want *ScopeError", err)
	}
}

func TestAddExpressionRejectsOutOfScopeBinding(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	arg := g.AddArgument(a, flowtone.ScalarTranslation)
	var body flowtone.ExprGraph
	param := body.AddNode(flowtone.ExprParameter)
	body.Result = flowtone.ExprInput{Node: param}
	mapping := flowtone.ParameterMapping{param: {Processor: a, Argument: arg}}
	_, err := g.AddExpression(a, body, mapping, flowtone.ExpressionScope{}, 0)
	var scopeErr *flowtone.ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("got %v, want *ScopeError", err)
	}
	// with the argument in scope the same expression is accepted
	scope := flowtone.ExpressionScope{Arguments: []flowtone.ArgumentID{arg}}
	if _, err := g.AddExpression(a, body, mapping, scope, 0); err != nil {
		t.Fatalf("in-scope binding rejected: %v", err)
	}
}

func TestAddExpressionRejectsCyclicBody(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	var body flowtone.ExprGraph
	n1 := body.AddNode(flowtone.ExprAdd)
	n2 := body.AddNode(flowtone.ExprAdd)
	body.Connect(n1, 0, n2)
	body.Connect(n2, 0, n1)
	body.Result = flowtone.ExprInput{Node: n1}
	_, err := g.AddExpression(a, body, nil, flowtone.ExpressionScope{}, 0)
	var cycleErr *flowtone.ExprCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("got %v, want *ExprCycleError", err)
	}
}

func TestAddExpressionRejectsDanglingReferences(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})

	body := flowtone.ExprGraph{Result: flowtone.ExprInput{Node: 999}}
	_, err := g.AddExpression(a, body, nil, flowtone.ExpressionScope{}, 0)
	var refErr *flowtone.ExprRefError
	if !errors.As(err, &refErr) {
		t.Fatalf("got %v, want *ExprRefError", err)
	}
	if refErr.Node != 0 || refErr.Reference != 999 {
		t.Errorf("reported node %d -> %d, want result -> 999", refErr.Node, refErr.Reference)
	}

	var body2 flowtone.ExprGraph
	sine := body2.AddNode(flowtone.ExprSin)
	body2.Node(sine).Inputs[0] = flowtone.ExprInput{Node: 777}
	body2.Result = flowtone.ExprInput{Node: sine}
	_, err = g.AddExpression(a, body2, nil, flowtone.ExpressionScope{}, 0)
	if !errors.As(err, &refErr) {
		t.Fatalf("got %v, want *ExprRefError", err)
	}
	if refErr.Node != sine || refErr.Reference != 777 {
		t.Errorf("reported node %d -> %d, want %d -> 777", refErr.Node, refErr.Reference, sine)
	}

	if err := g.Validate(); err != nil {
		t.Errorf("rejected expressions left the graph invalid: %v", err)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	g := flowtone.NewGraph()
	a := g.AddProcessor(testKind{name: "a"})
	b := g.AddProcessor(testKind{name: "b"})
	in := g.AddInput(a, flowtone.Synchronous, flowtone.ArgumentScope{})
	if err := g.ConnectInput(in, b); err != nil {
		t.Fatal(err)
	}
	snapshot := g.Copy()
	g.DisconnectBranch(in, 0)
	g.RemoveProcessor(b)
	if got := snapshot.Input(in).Branches[0]; got != b {
		t.Errorf("snapshot branch targets %d, want %d", got, b)
	}
	if snapshot.Processor(b) == nil {
		t.Error("snapshot lost processor b")
	}
	if err := snapshot.Validate(); err != nil {
		t.Errorf("snapshot invalid: %v", err)
	}
}

func TestStaticProcessorIDs(t *testing.T) {
	g := flowtone.NewGraph()
	g.AddProcessor(testKind{name: "a"})
	s1 := g.AddProcessor(testKind{name: "s", static: true})
	g.AddProcessor(testKind{name: "b"})
	s2 := g.AddProcessor(testKind{name: "s", static: true})
	ids := g.StaticProcessorIDs()
	if len(ids) != 2 || ids[0] != s1 || ids[1] != s2 {
		t.Errorf("StaticProcessorIDs() = %v, want [%d %d]", ids, s1, s2)
	}
}
