package flowtone

import (
	"fmt"
	"strings"
)

// CycleError reports a cycle in the sound graph. The path lists the
// processors on the cycle, in connection order; cutting any single edge of
// the path renders the graph acyclic again.
type CycleError struct {
	Path []ProcessorID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "sound graph contains a cycle: " + strings.Join(parts, " -> ")
}

// ExprCycleError reports a cycle in an expression graph.
type ExprCycleError struct {
	Path []ExprNodeID
}

func (e *ExprCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "expression graph contains a cycle: " + strings.Join(parts, " -> ")
}

// ExprRefError reports an expression input that references a node not
// present in the body. Node is the referencing node, or zero when the
// reference is the body's result.
type ExprRefError struct {
	Node      ExprNodeID
	Reference ExprNodeID
}

func (e *ExprRefError) Error() string {
	if e.Node == 0 {
		return fmt.Sprintf("expression result references nonexistent node %d", e.Reference)
	}
	return fmt.Sprintf("node %d references nonexistent node %d", e.Node, e.Reference)
}

// ScopeError reports an expression whose parameter mapping points outside
// the expression's declared scope, or at a location that does not resolve.
type ScopeError struct {
	Parameter ExprNodeID
	Location  ArgumentLocation
	Reason    string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("parameter %d cannot bind to argument %d of processor %d: %s",
		e.Parameter, e.Location.Argument, e.Location.Processor, e.Reason)
}

// findCycle runs a depth-first search over the sound graph, following input
// branches, and returns the first cycle found as a path of processor ids, or
// nil if the graph is acyclic. Dangling branch targets panic: a committed
// graph never contains them.
func (g *Graph) findCycle() []ProcessorID {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[ProcessorID]int, len(g.processors))
	var path []ProcessorID
	var cycle []ProcessorID
	var visit func(id ProcessorID) bool
	visit = func(id ProcessorID) bool {
		switch state[id] {
		case onPath:
			for i, p := range path {
				if p == id {
					cycle = append(cycle, path[i:]...)
					return true
				}
			}
			panic("flowtone: processor on path but not in path slice")
		case done:
			return false
		}
		state[id] = onPath
		path = append(path, id)
		p := g.processors[id]
		if p == nil {
			panic(fmt.Sprintf("flowtone: input branch targets nonexistent processor %d", id))
		}
		for _, inputID := range p.Inputs {
			in := g.inputs[inputID]
			if in == nil {
				panic(fmt.Sprintf("flowtone: processor %d lists nonexistent input %d", id, inputID))
			}
			for _, target := range in.Branches {
				if target == NoProcessor {
					continue
				}
				if visit(target) {
					return true
				}
			}
		}
		state[id] = done
		path = path[:len(path)-1]
		return false
	}
	for _, id := range g.ProcessorIDs() {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// FindExprCycle returns the first cycle in an expression graph as a path of
// node ids, or nil if the graph is acyclic.
func FindExprCycle(g *ExprGraph) []ExprNodeID {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[ExprNodeID]int, len(g.Nodes))
	var path []ExprNodeID
	var cycle []ExprNodeID
	var visit func(id ExprNodeID) bool
	visit = func(id ExprNodeID) bool {
		switch state[id] {
		case onPath:
			for i, p := range path {
				if p == id {
					cycle = append(cycle, path[i:]...)
					return true
				}
			}
			panic("flowtone: node on path but not in path slice")
		case done:
			return false
		}
		state[id] = onPath
		path = append(path, id)
		n := g.Node(id)
		if n == nil {
			panic(fmt.Sprintf("flowtone: expression input references nonexistent node %d", id))
		}
		for _, in := range n.Inputs {
			if in.Node == 0 {
				continue
			}
			if visit(in.Node) {
				return true
			}
		}
		state[id] = done
		path = path[:len(path)-1]
		return false
	}
	for i := range g.Nodes {
		if state[g.Nodes[i].ID] == unvisited && visit(g.Nodes[i].ID) {
			return cycle
		}
	}
	return nil
}

// checkExpression validates an expression against the graph before it is
// committed: every node reference resolving, acyclic body, every parameter
// node bound, every binding within the declared scope and resolving to a
// live argument of matching owner. References are checked first so the
// cycle search never follows a dangling input.
func (g *Graph) checkExpression(e *Expression) error {
	for i := range e.Body.Nodes {
		n := &e.Body.Nodes[i]
		for _, in := range n.Inputs {
			if in.Node != 0 && e.Body.Node(in.Node) == nil {
				return &ExprRefError{Node: n.ID, Reference: in.Node}
			}
		}
	}
	if r := e.Body.Result.Node; r != 0 && e.Body.Node(r) == nil {
		return &ExprRefError{Reference: r}
	}
	if cycle := FindExprCycle(&e.Body); cycle != nil {
		return &ExprCycleError{Path: cycle}
	}
	for i := range e.Body.Nodes {
		n := &e.Body.Nodes[i]
		if len(n.Inputs) != n.Kind.Arity() {
			return fmt.Errorf("node %d (%v) has %d inputs, want %d", n.ID, n.Kind, len(n.Inputs), n.Kind.Arity())
		}
		if n.Kind != ExprParameter {
			continue
		}
		loc, ok := e.Mapping[n.ID]
		if !ok {
			return &ScopeError{Parameter: n.ID, Reason: "parameter has no binding in the mapping"}
		}
		arg := g.arguments[loc.Argument]
		if arg == nil {
			return &ScopeError{Parameter: n.ID, Location: loc, Reason: "argument does not exist"}
		}
		if arg.Owner != loc.Processor {
			return &ScopeError{Parameter: n.ID, Location: loc, Reason: "argument belongs to a different processor"}
		}
		if !e.Scope.Visible(loc.Argument) {
			return &ScopeError{Parameter: n.ID, Location: loc, Reason: "argument is not in the expression's scope"}
		}
	}
	return nil
}

// Validate checks the whole graph. Internal-consistency violations (dangling
// component references in a committed graph) panic, as they indicate a bug in
// the mutation API rather than a user mistake; cycles are returned as a
// *CycleError since the caller can recover by rejecting the mutation that
// introduced them.
func (g *Graph) Validate() error {
	for id, p := range g.processors {
		if p.ID != id {
			panic(fmt.Sprintf("flowtone: processor stored under id %d reports id %d", id, p.ID))
		}
		for _, inputID := range p.Inputs {
			in := g.inputs[inputID]
			if in == nil {
				panic(fmt.Sprintf("flowtone: processor %d lists nonexistent input %d", id, inputID))
			}
			if in.Owner != id {
				panic(fmt.Sprintf("flowtone: input %d owned by %d but listed by %d", inputID, in.Owner, id))
			}
		}
		for _, exprID := range p.Expressions {
			e := g.expressions[exprID]
			if e == nil {
				panic(fmt.Sprintf("flowtone: processor %d lists nonexistent expression %d", id, exprID))
			}
			if e.Owner != id {
				panic(fmt.Sprintf("flowtone: expression %d owned by %d but listed by %d", exprID, e.Owner, id))
			}
		}
		for _, argID := range p.Arguments {
			a := g.arguments[argID]
			if a == nil {
				panic(fmt.Sprintf("flowtone: processor %d lists nonexistent argument %d", id, argID))
			}
			if a.Owner != id {
				panic(fmt.Sprintf("flowtone: argument %d owned by %d but listed by %d", argID, a.Owner, id))
			}
		}
	}
	for id, in := range g.inputs {
		if g.processors[in.Owner] == nil {
			panic(fmt.Sprintf("flowtone: input %d owned by nonexistent processor %d", id, in.Owner))
		}
		for _, target := range in.Branches {
			if target != NoProcessor && g.processors[target] == nil {
				panic(fmt.Sprintf("flowtone: input %d targets nonexistent processor %d", id, target))
			}
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return &CycleError{Path: cycle}
	}
	for _, e := range g.expressions {
		if err := g.checkExpression(e); err != nil {
			return fmt.Errorf("expression %d: %w", e.ID, err)
		}
	}
	return nil
}
