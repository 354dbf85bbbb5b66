package engine

import (
	"github.com/flowtone/flowtone"
)

// StateGraphMatches reports whether a state graph is structurally consistent
// with a topology: every static processor has exactly one live shared node
// and vice versa, no shared node serves two processors, and every node's
// compiled inputs, branches, expressions and arguments line up with the
// topology components of its processor. Used by the debug inspections that
// updates interleave with structural edits.
func StateGraphMatches(sg *StateGraph, g *flowtone.Graph) bool {
	staticIDs := map[flowtone.ProcessorID]bool{}
	for _, id := range g.StaticProcessorIDs() {
		staticIDs[id] = true
	}
	seenShared := map[flowtone.ProcessorID]*SharedNode{}
	for _, s := range sg.static {
		if !staticIDs[s.node.id] {
			return false
		}
		if _, dup := seenShared[s.node.id]; dup {
			return false
		}
		seenShared[s.node.id] = s
	}
	if len(seenShared) != len(staticIDs) {
		return false
	}

	ok := true
	shared := map[*SharedNode]flowtone.ProcessorID{}
	seen := map[*Node]bool{}
	var checkTarget func(t CompiledTarget, want flowtone.ProcessorID)
	checkNode := func(n *Node) bool {
		p := g.Processor(n.id)
		if p == nil {
			return false
		}
		if len(n.inputs) != len(p.Inputs) || len(n.exprs) != len(p.Expressions) || len(n.args) != len(p.Arguments) {
			return false
		}
		for i, ci := range n.inputs {
			in := g.Input(p.Inputs[i])
			if in == nil || ci.id != in.ID || len(ci.branches) != len(in.Branches) {
				return false
			}
			for b, target := range ci.branches {
				checkTarget(target, in.Branches[b])
			}
		}
		for i, ce := range n.exprs {
			if ce.id != p.Expressions[i] {
				return false
			}
		}
		for i, ca := range n.args {
			if ca.loc.Argument != p.Arguments[i] || ca.loc.Processor != n.id {
				return false
			}
		}
		return true
	}
	checkTarget = func(t CompiledTarget, want flowtone.ProcessorID) {
		if t.TargetID() != want {
			ok = false
			return
		}
		var node *Node
		switch t := t.(type) {
		case *SharedNode:
			// A shared node must be the one registered for its processor,
			// and a static target in the topology must compile to a shared
			// node.
			if !staticIDs[t.node.id] || seenShared[t.node.id] != t {
				ok = false
				return
			}
			if prev, dup := shared[t]; dup {
				if prev != want {
					ok = false
				}
				return
			}
			shared[t] = want
			node = t.node
		case *UniqueNode:
			if staticIDs[t.node.id] {
				ok = false
				return
			}
			node = t.node
		case EmptyTarget:
			return
		default:
			ok = false
			return
		}
		if seen[node] {
			return
		}
		seen[node] = true
		if !checkNode(node) {
			ok = false
		}
	}
	for _, s := range sg.static {
		checkTarget(s, s.node.id)
	}
	return ok
}
