package engine

import (
	"fmt"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/expr"
)

// Compiler turns topology processors into compiled nodes. One Compiler is
// used per compilation pass over a single topology snapshot; within a pass
// every static processor compiles to exactly one SharedNode, which all
// referrers receive, while dynamic processors get a fresh UniqueNode per
// reference.
//
// The compiler runs on the control thread. Functions come from the
// expression cache without compiling anything here; a cache miss leaves the
// compiled expression falling back to its default value until the next
// update.
type Compiler struct {
	graph  *flowtone.Graph
	cache  *expr.Cache
	shared map[flowtone.ProcessorID]*SharedNode
}

// NewCompiler returns a compiler for one pass over g.
func NewCompiler(g *flowtone.Graph, cache *expr.Cache) *Compiler {
	return &Compiler{graph: g, cache: cache, shared: map[flowtone.ProcessorID]*SharedNode{}}
}

// CompileProcessor compiles the target of an input branch. NoProcessor
// yields an empty target; unknown ids panic, since the topology was
// validated before the pass started.
func (c *Compiler) CompileProcessor(id flowtone.ProcessorID) CompiledTarget {
	if id == flowtone.NoProcessor {
		return EmptyTarget{}
	}
	p := c.graph.Processor(id)
	if p == nil {
		panic(fmt.Sprintf("engine: compiling unknown processor %d", id))
	}
	if p.Kind.IsStatic() {
		if s, ok := c.shared[id]; ok {
			return s
		}
		s := &SharedNode{node: c.compileNode(p)}
		c.shared[id] = s
		return s
	}
	return &UniqueNode{node: c.compileNode(p)}
}

func (c *Compiler) compileNode(p *flowtone.Processor) *Node {
	runner, ok := p.Kind.(Runner)
	if !ok {
		panic(fmt.Sprintf("engine: processor kind %q does not implement engine.Runner", p.Kind.Name()))
	}
	n := &Node{id: p.ID, runner: runner}
	for _, inputID := range p.Inputs {
		in := c.graph.Input(inputID)
		ci := &CompiledInput{id: in.ID, owner: in.Owner, chronicity: in.Chronicity}
		for _, target := range in.Branches {
			ci.branches = append(ci.branches, c.CompileProcessor(target))
		}
		n.inputs = append(n.inputs, ci)
	}
	for _, exprID := range p.Expressions {
		n.exprs = append(n.exprs, c.compileExpression(c.graph.Expression(exprID)))
	}
	for _, argID := range p.Arguments {
		a := c.graph.Argument(argID)
		n.args = append(n.args, &CompiledArgument{
			loc:         flowtone.ArgumentLocation{Processor: a.Owner, Argument: a.ID},
			translation: a.Translation,
		})
	}
	n.state = runner.Allocate(n)
	return n
}

func (c *Compiler) compileExpression(e *flowtone.Expression) *CompiledExpression {
	fn, _ := c.cache.RequestFunction(c.graph, e, expr.ModeNormal)
	return &CompiledExpression{
		id:       e.ID,
		fn:       fn,
		fallback: e.Fallback,
		sctx:     scopedContext{scope: e.Scope},
	}
}
