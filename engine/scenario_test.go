package engine_test

import (
	"testing"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
	"github.com/flowtone/flowtone/expr"
	"github.com/flowtone/flowtone/processors"
)

func TestCompilerStaticSingleton(t *testing.T) {
	g := flowtone.NewGraph()
	kb := processors.AddKeyboard(g, 1)
	mix := processors.AddMixer(g, 1)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	c := engine.NewCompiler(g, expr.NewCache())
	first := c.CompileProcessor(kb.Processor)
	second := c.CompileProcessor(kb.Processor)
	s1, ok1 := first.(*engine.SharedNode)
	s2, ok2 := second.(*engine.SharedNode)
	if !ok1 || !ok2 {
		t.Fatalf("static processor compiled to %T and %T, want *SharedNode", first, second)
	}
	if s1 != s2 {
		t.Error("two compilations of the same static processor yield distinct shared nodes")
	}

	d1 := c.CompileProcessor(mix.Processor)
	d2 := c.CompileProcessor(mix.Processor)
	u1, ok1 := d1.(*engine.UniqueNode)
	u2, ok2 := d2.(*engine.UniqueNode)
	if !ok1 || !ok2 {
		t.Fatalf("dynamic processor compiled to %T and %T, want *UniqueNode", d1, d2)
	}
	if u1 == u2 || u1.Node() == u2.Node() {
		t.Error("two compilations of the same dynamic processor share an instance")
	}

	if target := c.CompileProcessor(flowtone.NoProcessor); target != engine.CompiledTarget(engine.EmptyTarget{}) {
		t.Errorf("unconnected target compiled to %T, want EmptyTarget", target)
	}
}

func TestEmptyTopologyYieldsEmptyStateGraph(t *testing.T) {
	e, handle := engine.New(engine.Config{DebugValidation: true})
	if err := handle.Update(flowtone.NewGraph()); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	if got := len(e.StateGraph().StaticNodes()); got != 0 {
		t.Errorf("state graph holds %d static nodes, want 0", got)
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSingleStaticProcessorYieldsSingleNode(t *testing.T) {
	g := flowtone.NewGraph()
	out := processors.AddOutput(g)
	e, handle := engine.New(engine.Config{DebugValidation: true})
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	nodes := e.StateGraph().StaticNodes()
	if len(nodes) != 1 {
		t.Fatalf("state graph holds %d static nodes, want 1", len(nodes))
	}
	if got := nodes[0].Node().ProcessorID(); got != out.Processor {
		t.Errorf("static node has processor id %d, want %d", got, out.Processor)
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRemovingDynamicTargetEmptiesBranch(t *testing.T) {
	g := flowtone.NewGraph()
	out := processors.AddOutput(g)
	mix := processors.AddMixer(g, 1)
	if err := g.ConnectInput(out.Input, mix.Processor); err != nil {
		t.Fatal(err)
	}
	e, handle := engine.New(engine.Config{DebugValidation: true})
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	outNode := e.StateGraph().StaticNodes()[0].Node()
	u, ok := outNode.Input(0).Branch(0).(*engine.UniqueNode)
	if !ok {
		t.Fatalf("branch holds %T, want *UniqueNode", outNode.Input(0).Branch(0))
	}
	if got := u.Node().ProcessorID(); got != mix.Processor {
		t.Errorf("branch wraps processor %d, want %d", got, mix.Processor)
	}

	g.RemoveProcessor(mix.Processor)
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	outNode = e.StateGraph().StaticNodes()[0].Node()
	if _, ok := outNode.Input(0).Branch(0).(engine.EmptyTarget); !ok {
		t.Errorf("branch holds %T after target removal, want EmptyTarget", outNode.Input(0).Branch(0))
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTwoStaticReferrersShareOneNode(t *testing.T) {
	g := flowtone.NewGraph()
	kb := processors.AddKeyboard(g, 1)
	outA := processors.AddOutput(g)
	outB := processors.AddOutput(g)
	if err := g.ConnectInput(outA.Input, kb.Processor); err != nil {
		t.Fatal(err)
	}
	if err := g.ConnectInput(outB.Input, kb.Processor); err != nil {
		t.Fatal(err)
	}
	e, handle := engine.New(engine.Config{DebugValidation: true})
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)

	branches := map[flowtone.ProcessorID]engine.CompiledTarget{}
	var keyboardShared *engine.SharedNode
	for _, s := range e.StateGraph().StaticNodes() {
		if s.Node().ProcessorID() == kb.Processor {
			keyboardShared = s
			continue
		}
		branches[s.Node().ProcessorID()] = s.Node().Input(0).Branch(0)
	}
	if keyboardShared == nil {
		t.Fatal("keyboard has no top-level shared node")
	}
	if len(branches) != 2 {
		t.Fatalf("found %d referring outputs, want 2", len(branches))
	}
	for id, target := range branches {
		if target != engine.CompiledTarget(keyboardShared) {
			t.Errorf("output %d does not resolve to the keyboard's shared node", id)
		}
	}

	// removing one referrer leaves the shared node in place
	g.RemoveProcessor(outB.Processor)
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	found := false
	for _, s := range e.StateGraph().StaticNodes() {
		if s.Node().ProcessorID() == kb.Processor {
			found = true
		}
	}
	if !found {
		t.Error("keyboard's shared node vanished with one of its referrers")
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMakeEditBranchOperations(t *testing.T) {
	g := flowtone.NewGraph()
	kb := processors.AddKeyboard(g, 2)
	e, handle := engine.New(engine.Config{DebugValidation: true})
	if err := handle.Update(g); err != nil {
		t.Fatal(err)
	}
	e.Render(1)
	sg := e.StateGraph()
	node := sg.StaticNodes()[0].Node()
	if got := node.Input(0).NumBranches(); got != 2 {
		t.Fatalf("keyboard input has %d branches, want 2", got)
	}

	sg.MakeEdit(engine.AddInputBranch{Input: kb.Input, Index: 1, Target: engine.EmptyTarget{}})
	if got := node.Input(0).NumBranches(); got != 3 {
		t.Fatalf("keyboard input has %d branches after add, want 3", got)
	}
	sg.MakeEdit(engine.ReplaceInputBranch{Input: kb.Input, Index: 0, Target: engine.EmptyTarget{}})
	if _, ok := node.Input(0).Branch(0).(engine.EmptyTarget); !ok {
		t.Errorf("branch 0 holds %T after replace, want EmptyTarget", node.Input(0).Branch(0))
	}
	sg.MakeEdit(engine.RemoveInputBranch{Input: kb.Input, Index: 2})
	if got := node.Input(0).NumBranches(); got != 2 {
		t.Fatalf("keyboard input has %d branches after remove, want 2", got)
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
}
