package flowtone

import (
	"fmt"
	"sort"
)

// Graph is the topology of the sound graph: the control-thread-owned
// description that the engine compiles into its executable counterpart. A
// Graph is mutated only through its methods; every structural mutation is
// validated before it is committed, so a Graph the engine is handed is always
// internally consistent and acyclic.
type Graph struct {
	processors  map[ProcessorID]*Processor
	inputs      map[SoundInputID]*SoundInput
	expressions map[ExpressionID]*Expression
	arguments   map[ArgumentID]*Argument
	nextID      int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		processors:  map[ProcessorID]*Processor{},
		inputs:      map[SoundInputID]*SoundInput{},
		expressions: map[ExpressionID]*Expression{},
		arguments:   map[ArgumentID]*Argument{},
	}
}

// Copy makes a deep copy of the graph. Kind instances are shared between the
// copies: they are stateless capability objects owned by the topology object,
// and sharing keeps them stable across the snapshots handed to the engine.
func (g *Graph) Copy() *Graph {
	c := NewGraph()
	c.nextID = g.nextID
	for id, p := range g.processors {
		cp := p.Copy()
		c.processors[id] = &cp
	}
	for id, in := range g.inputs {
		ci := in.Copy()
		c.inputs[id] = &ci
	}
	for id, e := range g.expressions {
		ce := e.Copy()
		c.expressions[id] = &ce
	}
	for id, a := range g.arguments {
		ca := *a
		c.arguments[id] = &ca
	}
	return c
}

func (g *Graph) allocID() int {
	g.nextID++
	return g.nextID
}

// Processor returns the processor with the given id, or nil.
func (g *Graph) Processor(id ProcessorID) *Processor { return g.processors[id] }

// Input returns the sound input with the given id, or nil.
func (g *Graph) Input(id SoundInputID) *SoundInput { return g.inputs[id] }

// Expression returns the expression with the given id, or nil.
func (g *Graph) Expression(id ExpressionID) *Expression { return g.expressions[id] }

// Argument returns the argument with the given id, or nil.
func (g *Graph) Argument(id ArgumentID) *Argument { return g.arguments[id] }

// ProcessorIDs returns the ids of all processors, sorted for deterministic
// iteration.
func (g *Graph) ProcessorIDs() []ProcessorID {
	ids := make([]ProcessorID, 0, len(g.processors))
	for id := range g.processors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StaticProcessorIDs returns the ids of all static processors, sorted.
func (g *Graph) StaticProcessorIDs() []ProcessorID {
	ids := make([]ProcessorID, 0, len(g.processors))
	for id, p := range g.processors {
		if p.Kind.IsStatic() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ExpressionIDs returns the ids of all expressions, sorted.
func (g *Graph) ExpressionIDs() []ExpressionID {
	ids := make([]ExpressionID, 0, len(g.expressions))
	for id := range g.expressions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddProcessor adds a processor of the given kind and returns its id.
func (g *Graph) AddProcessor(kind ProcessorKind) ProcessorID {
	id := ProcessorID(g.allocID())
	g.processors[id] = &Processor{ID: id, Kind: kind}
	return id
}

// RemoveProcessor removes a processor, its components, and every connection
// to it. Branches of other processors' inputs that targeted it become
// unconnected. Removing an unknown id panics: ids are never guessed, so a
// stale id is a programming error.
func (g *Graph) RemoveProcessor(id ProcessorID) {
	p := g.mustProcessor(id)
	for _, in := range g.inputs {
		for i, target := range in.Branches {
			if target == id {
				in.Branches[i] = NoProcessor
			}
		}
	}
	for _, inputID := range p.Inputs {
		delete(g.inputs, inputID)
	}
	for _, exprID := range p.Expressions {
		delete(g.expressions, exprID)
	}
	for _, argID := range p.Arguments {
		delete(g.arguments, argID)
	}
	delete(g.processors, id)
}

// AddInput adds a sound input to a processor, with a single unconnected
// branch, and returns its id.
func (g *Graph) AddInput(owner ProcessorID, chronicity Chronicity, scope ArgumentScope) SoundInputID {
	p := g.mustProcessor(owner)
	id := SoundInputID(g.allocID())
	g.inputs[id] = &SoundInput{
		ID:         id,
		Owner:      owner,
		Branches:   []ProcessorID{NoProcessor},
		Chronicity: chronicity,
		Scope:      scope,
	}
	p.Inputs = append(p.Inputs, id)
	return id
}

// RemoveInput removes a sound input from its owner.
func (g *Graph) RemoveInput(id SoundInputID) {
	in := g.mustInput(id)
	p := g.mustProcessor(in.Owner)
	for i, inputID := range p.Inputs {
		if inputID == id {
			p.Inputs = append(p.Inputs[:i], p.Inputs[i+1:]...)
			break
		}
	}
	delete(g.inputs, id)
}

// SetBranchCount resizes an input's branch list. New branches start
// unconnected; removed branches are simply dropped.
func (g *Graph) SetBranchCount(id SoundInputID, count int) {
	in := g.mustInput(id)
	if count < 0 {
		panic("flowtone: negative branch count")
	}
	for len(in.Branches) < count {
		in.Branches = append(in.Branches, NoProcessor)
	}
	in.Branches = in.Branches[:count]
}

// ConnectBranch points branch index of the given input at a target
// processor. Returns a *CycleError and leaves the graph unchanged if the
// connection would make the sound graph cyclic.
func (g *Graph) ConnectBranch(id SoundInputID, index int, target ProcessorID) error {
	in := g.mustInput(id)
	g.mustProcessor(target)
	prev := in.Branches[index]
	in.Branches[index] = target
	if cycle := g.findCycle(); cycle != nil {
		in.Branches[index] = prev
		return &CycleError{Path: cycle}
	}
	return nil
}

// ConnectInput is shorthand for connecting branch 0 of a single-branch input.
func (g *Graph) ConnectInput(id SoundInputID, target ProcessorID) error {
	return g.ConnectBranch(id, 0, target)
}

// DisconnectBranch makes branch index of the given input unconnected.
func (g *Graph) DisconnectBranch(id SoundInputID, index int) {
	in := g.mustInput(id)
	in.Branches[index] = NoProcessor
}

// AddExpression adds an expression to a processor. The body is validated
// (acyclic, every parameter node bound, every binding within scope and
// resolving to a live argument) before the expression is committed; on
// rejection the graph is unchanged and a typed error identifies the problem.
func (g *Graph) AddExpression(owner ProcessorID, body ExprGraph, mapping ParameterMapping, scope ExpressionScope, fallback float32) (ExpressionID, error) {
	p := g.mustProcessor(owner)
	e := &Expression{Owner: owner, Body: body, Mapping: mapping, Scope: scope, Fallback: fallback}
	if err := g.checkExpression(e); err != nil {
		return 0, err
	}
	id := ExpressionID(g.allocID())
	e.ID = id
	g.expressions[id] = e
	p.Expressions = append(p.Expressions, id)
	return id, nil
}

// SetExpressionBody replaces the body and mapping of an existing expression,
// subject to the same validation as AddExpression.
func (g *Graph) SetExpressionBody(id ExpressionID, body ExprGraph, mapping ParameterMapping) error {
	e := g.mustExpression(id)
	candidate := *e
	candidate.Body = body
	candidate.Mapping = mapping
	if err := g.checkExpression(&candidate); err != nil {
		return err
	}
	e.Body = body
	e.Mapping = mapping
	return nil
}

// SetExpressionScope replaces the declared scope of an existing expression,
// subject to the same validation as AddExpression.
func (g *Graph) SetExpressionScope(id ExpressionID, scope ExpressionScope) error {
	e := g.mustExpression(id)
	candidate := *e
	candidate.Scope = scope
	if err := g.checkExpression(&candidate); err != nil {
		return err
	}
	e.Scope = scope
	return nil
}

// RemoveExpression removes an expression from its owner.
func (g *Graph) RemoveExpression(id ExpressionID) {
	e := g.mustExpression(id)
	p := g.mustProcessor(e.Owner)
	for i, exprID := range p.Expressions {
		if exprID == id {
			p.Expressions = append(p.Expressions[:i], p.Expressions[i+1:]...)
			break
		}
	}
	delete(g.expressions, id)
}

// AddArgument adds an argument to a processor and returns its id.
func (g *Graph) AddArgument(owner ProcessorID, translation ArgumentTranslation) ArgumentID {
	p := g.mustProcessor(owner)
	id := ArgumentID(g.allocID())
	g.arguments[id] = &Argument{ID: id, Owner: owner, Translation: translation}
	p.Arguments = append(p.Arguments, id)
	return id
}

// RemoveArgument removes an argument from its owner. Expressions still
// mapping to it must be removed or remapped first; a dangling mapping is
// caught by Validate.
func (g *Graph) RemoveArgument(id ArgumentID) {
	a := g.arguments[id]
	if a == nil {
		panic(fmt.Sprintf("flowtone: removing nonexistent argument %d", id))
	}
	p := g.mustProcessor(a.Owner)
	for i, argID := range p.Arguments {
		if argID == id {
			p.Arguments = append(p.Arguments[:i], p.Arguments[i+1:]...)
			break
		}
	}
	delete(g.arguments, id)
}

func (g *Graph) mustProcessor(id ProcessorID) *Processor {
	p := g.processors[id]
	if p == nil {
		panic(fmt.Sprintf("flowtone: no processor with id %d", id))
	}
	return p
}

func (g *Graph) mustInput(id SoundInputID) *SoundInput {
	in := g.inputs[id]
	if in == nil {
		panic(fmt.Sprintf("flowtone: no sound input with id %d", id))
	}
	return in
}

func (g *Graph) mustExpression(id ExpressionID) *Expression {
	e := g.expressions[id]
	if e == nil {
		panic(fmt.Sprintf("flowtone: no expression with id %d", id))
	}
	return e
}
