package engine

import (
	"fmt"

	"github.com/flowtone/flowtone"
)

// StateGraph is the compiled graph the audio goroutine processes: the set of
// live shared nodes, one per static processor, and everything hanging under
// them. All mutation happens through MakeEdit on the audio goroutine itself,
// between chunks, so processing never observes a half-applied edit.
type StateGraph struct {
	static []*SharedNode
	chute  *Chute
}

// NewStateGraph returns an empty state graph that disposes displaced objects
// through the given chute.
func NewStateGraph(chute *Chute) *StateGraph {
	return &StateGraph{chute: chute}
}

// StaticNodes returns the live shared nodes in insertion order.
func (sg *StateGraph) StaticNodes() []*SharedNode { return sg.static }

// Edit is one atomic mutation of the state graph. Edits are produced on the
// control thread by diffing topology snapshots and applied in order on the
// audio goroutine.
type Edit interface {
	apply(sg *StateGraph)
}

// AddStaticProcessor inserts a freshly compiled shared node. The node's id
// must not already be present.
type AddStaticProcessor struct {
	Node *SharedNode
}

func (e AddStaticProcessor) apply(sg *StateGraph) {
	for _, s := range sg.static {
		if s.node.id == e.Node.node.id {
			panic(fmt.Sprintf("engine: static processor %d added twice", e.Node.node.id))
		}
	}
	sg.static = append(sg.static, e.Node)
}

// RemoveStaticProcessor removes the shared node with the given id and tosses
// it down the chute. Exactly one node must match.
type RemoveStaticProcessor struct {
	ID flowtone.ProcessorID
}

func (e RemoveStaticProcessor) apply(sg *StateGraph) {
	for i, s := range sg.static {
		if s.node.id == e.ID {
			sg.static = append(sg.static[:i], sg.static[i+1:]...)
			sg.chute.Toss(s)
			return
		}
	}
	panic(fmt.Sprintf("engine: removing unknown static processor %d", e.ID))
}

// AddInputBranch inserts a target at Index into every live instance of the
// given input. At most one instance may be live when Target is a compiled
// node; a unique node cannot be shared between instances.
type AddInputBranch struct {
	Input  flowtone.SoundInputID
	Index  int
	Target CompiledTarget
}

func (e AddInputBranch) apply(sg *StateGraph) {
	n := sg.editInputs(e.Input, e.Target, func(in *CompiledInput, target CompiledTarget) {
		in.branches = append(in.branches, nil)
		copy(in.branches[e.Index+1:], in.branches[e.Index:])
		in.branches[e.Index] = target
	})
	if n == 0 {
		panic(fmt.Sprintf("engine: input %d has no live instance", e.Input))
	}
}

// RemoveInputBranch erases the branch at Index from every live instance of
// the input, tossing the displaced targets.
type RemoveInputBranch struct {
	Input flowtone.SoundInputID
	Index int
}

func (e RemoveInputBranch) apply(sg *StateGraph) {
	n := sg.editInputs(e.Input, nil, func(in *CompiledInput, _ CompiledTarget) {
		old := in.branches[e.Index]
		in.branches = append(in.branches[:e.Index], in.branches[e.Index+1:]...)
		sg.chute.Toss(old)
	})
	if n == 0 {
		panic(fmt.Sprintf("engine: input %d has no live instance", e.Input))
	}
}

// ReplaceInputBranch swaps the target at Index in every live instance of the
// input, tossing the displaced targets.
type ReplaceInputBranch struct {
	Input  flowtone.SoundInputID
	Index  int
	Target CompiledTarget
}

func (e ReplaceInputBranch) apply(sg *StateGraph) {
	n := sg.editInputs(e.Input, e.Target, func(in *CompiledInput, target CompiledTarget) {
		old := in.branches[e.Index]
		in.branches[e.Index] = target
		sg.chute.Toss(old)
	})
	if n == 0 {
		panic(fmt.Sprintf("engine: input %d has no live instance", e.Input))
	}
}

// DebugInspection runs an arbitrary check against the state graph between
// other edits. Update interleaves these with structural edits when debug
// validation is on.
type DebugInspection struct {
	Fn func(sg *StateGraph)
}

func (e DebugInspection) apply(sg *StateGraph) { e.Fn(sg) }

// MakeEdit applies one edit. Called on the audio goroutine between chunks.
func (sg *StateGraph) MakeEdit(e Edit) { e.apply(sg) }

// editInputs applies fn to every live compiled instance of the given input
// and returns how many instances it touched. A non-empty target can only go
// to a single instance; compiled nodes are exclusively owned, so finding a
// second instance is an internal inconsistency.
func (sg *StateGraph) editInputs(id flowtone.SoundInputID, target CompiledTarget, fn func(in *CompiledInput, target CompiledTarget)) int {
	n := 0
	sg.forEachNode(func(node *Node) {
		for _, in := range node.inputs {
			if in.id != id {
				continue
			}
			if n > 0 && target != nil {
				if _, empty := target.(EmptyTarget); !empty {
					panic(fmt.Sprintf("engine: input %d is instantiated more than once, cannot share a compiled target", id))
				}
			}
			fn(in, target)
			n++
		}
	})
	return n
}

// forEachNode visits every live node exactly once, following unique branches
// and shared nodes alike.
func (sg *StateGraph) forEachNode(visit func(*Node)) {
	seen := map[*Node]bool{}
	var walk func(t CompiledTarget)
	walk = func(t CompiledTarget) {
		var node *Node
		switch t := t.(type) {
		case *SharedNode:
			node = t.node
		case *UniqueNode:
			node = t.node
		default:
			return
		}
		if seen[node] {
			return
		}
		seen[node] = true
		visit(node)
		for _, in := range node.inputs {
			for _, branch := range in.branches {
				walk(branch)
			}
		}
	}
	for _, s := range sg.static {
		walk(s)
	}
}
