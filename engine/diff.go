package engine

import (
	"fmt"

	"github.com/flowtone/flowtone"
)

// DiffGraphs produces the edit sequence that transforms a state graph built
// from the previous topology into one matching the next. The baseline
// strategy removes every old static processor and re-adds every new one,
// compiled against the new snapshot; since static nodes are the roots of the
// state graph, this replaces the whole compiled structure in one batch of
// edits while the audio goroutine keeps running between them.
//
// With debug on, inspection edits are interleaved that assert the graph is
// empty after the removals and structurally matches the new topology after
// the additions.
func DiffGraphs(before, after *flowtone.Graph, c *Compiler, debug bool) []Edit {
	var edits []Edit
	for _, id := range before.StaticProcessorIDs() {
		edits = append(edits, RemoveStaticProcessor{ID: id})
	}
	if debug {
		edits = append(edits, DebugInspection{Fn: func(sg *StateGraph) {
			if len(sg.static) != 0 {
				panic(fmt.Sprintf("engine: %d static nodes left after removal edits", len(sg.static)))
			}
		}})
	}
	for _, id := range after.StaticProcessorIDs() {
		target := c.CompileProcessor(id)
		s, ok := target.(*SharedNode)
		if !ok {
			panic(fmt.Sprintf("engine: static processor %d compiled to a non-shared node", id))
		}
		edits = append(edits, AddStaticProcessor{Node: s})
	}
	if debug {
		edits = append(edits, DebugInspection{Fn: func(sg *StateGraph) {
			if !StateGraphMatches(sg, after) {
				panic("engine: state graph does not match topology after update")
			}
		}})
	}
	return edits
}
