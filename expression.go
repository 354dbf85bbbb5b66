package flowtone

// ExprNodeID identifies a node inside one expression graph. IDs are unique
// within the graph only; 0 marks an unconnected expression input.
type ExprNodeID int

// ExprNodeKind enumerates the expression node types. The set is closed: the
// expression compiler lowers each kind to a fixed bytecode sequence, so new
// kinds require a matching opcode.
type ExprNodeKind uint8

const (
	// ExprConstant produces its Value.
	ExprConstant ExprNodeKind = iota

	// ExprParameter reads a graph parameter, bound to a processor argument
	// through the expression's parameter mapping.
	ExprParameter

	ExprAdd
	ExprSub
	ExprMul
	ExprDiv
	ExprNeg
	ExprAbs
	ExprMin
	ExprMax

	// ExprClamp clamps its first input between the second (low) and third
	// (high) inputs.
	ExprClamp

	ExprSin
	ExprCos
	ExprExp2
	ExprPow

	// ExprNoise produces white noise in [-1, 1). One state variable (the
	// random seed).
	ExprNoise

	// ExprSmooth is a one-pole smoother: y += k*(x-y) per slot, with inputs
	// (x, k). One state variable (y).
	ExprSmooth

	// ExprPhasor accumulates its input as cycles per second into a phase in
	// [0, 1), advancing by in*dt per slot under temporal discretization and
	// holding when the evaluation is context-free. One state variable.
	ExprPhasor

	numExprKinds
)

var exprKindNames = [numExprKinds]string{
	ExprConstant:  "constant",
	ExprParameter: "parameter",
	ExprAdd:       "add",
	ExprSub:       "sub",
	ExprMul:       "mul",
	ExprDiv:       "div",
	ExprNeg:       "neg",
	ExprAbs:       "abs",
	ExprMin:       "min",
	ExprMax:       "max",
	ExprClamp:     "clamp",
	ExprSin:       "sin",
	ExprCos:       "cos",
	ExprExp2:      "exp2",
	ExprPow:       "pow",
	ExprNoise:     "noise",
	ExprSmooth:    "smooth",
	ExprPhasor:    "phasor",
}

var exprKindArities = [numExprKinds]int{
	ExprConstant:  0,
	ExprParameter: 0,
	ExprAdd:       2,
	ExprSub:       2,
	ExprMul:       2,
	ExprDiv:       2,
	ExprNeg:       1,
	ExprAbs:       1,
	ExprMin:       2,
	ExprMax:       2,
	ExprClamp:     3,
	ExprSin:       1,
	ExprCos:       1,
	ExprExp2:      1,
	ExprPow:       2,
	ExprNoise:     0,
	ExprSmooth:    2,
	ExprPhasor:    1,
}

var exprKindStateVars = [numExprKinds]int{
	ExprNoise:  1,
	ExprSmooth: 1,
	ExprPhasor: 1,
}

func (k ExprNodeKind) String() string {
	if int(k) >= len(exprKindNames) {
		return "invalid"
	}
	return exprKindNames[k]
}

// Arity returns the number of inputs a node of this kind has.
func (k ExprNodeKind) Arity() int { return exprKindArities[k] }

// StateVars returns how many persistent per-instance state variables a node
// of this kind consumes.
func (k ExprNodeKind) StateVars() int { return exprKindStateVars[k] }

// ExprKindByName returns the node kind with the given serialized name.
func ExprKindByName(name string) (ExprNodeKind, bool) {
	for k, n := range exprKindNames {
		if n == name {
			return ExprNodeKind(k), true
		}
	}
	return 0, false
}

type (
	// ExprGraph is the body of a processor expression: a small DAG of
	// expression nodes. The graph is evaluated at its Result input.
	ExprGraph struct {
		Nodes  []ExprNode
		Result ExprInput
	}

	// ExprNode is one node of an expression graph.
	ExprNode struct {
		ID     ExprNodeID
		Kind   ExprNodeKind
		Value  float32 // constant value, used by ExprConstant only
		Inputs []ExprInput
	}

	// ExprInput is one input slot of an expression node (or the graph
	// result). Node == 0 means the slot is unconnected and evaluates to
	// Default.
	ExprInput struct {
		Node    ExprNodeID
		Default float32
	}

	// ParameterMapping binds the parameter nodes of an expression graph to
	// processor argument locations. Every ExprParameter node in the graph
	// must have a binding.
	ParameterMapping map[ExprNodeID]ArgumentLocation

	// ArgumentLocation names one argument of one processor.
	ArgumentLocation struct {
		Processor ProcessorID
		Argument  ArgumentID
	}

	// Expression is a per-sample or per-chunk computed value belonging to a
	// processor: an expression graph plus the mapping of its parameters to
	// arguments, the scope it may read, and a fallback value used while no
	// compiled function is available yet.
	Expression struct {
		ID       ExpressionID
		Owner    ProcessorID
		Body     ExprGraph
		Mapping  ParameterMapping
		Scope    ExpressionScope
		Fallback float32
	}
)

// Copy makes a deep copy of an expression graph.
func (g *ExprGraph) Copy() ExprGraph {
	nodes := make([]ExprNode, len(g.Nodes))
	for i, n := range g.Nodes {
		inputs := make([]ExprInput, len(n.Inputs))
		copy(inputs, n.Inputs)
		nodes[i] = ExprNode{ID: n.ID, Kind: n.Kind, Value: n.Value, Inputs: inputs}
	}
	return ExprGraph{Nodes: nodes, Result: g.Result}
}

// Node returns the node with the given id, or nil if the graph has none.
func (g *ExprGraph) Node(id ExprNodeID) *ExprNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NextNodeID returns an id one past the largest in use, for building graphs
// incrementally.
func (g *ExprGraph) NextNodeID() ExprNodeID {
	max := ExprNodeID(0)
	for i := range g.Nodes {
		if g.Nodes[i].ID > max {
			max = g.Nodes[i].ID
		}
	}
	return max + 1
}

// AddNode appends a node with a fresh id and returns the id. All inputs start
// unconnected with the given defaults.
func (g *ExprGraph) AddNode(kind ExprNodeKind, defaults ...float32) ExprNodeID {
	id := g.NextNodeID()
	inputs := make([]ExprInput, kind.Arity())
	for i := range inputs {
		if i < len(defaults) {
			inputs[i].Default = defaults[i]
		}
	}
	g.Nodes = append(g.Nodes, ExprNode{ID: id, Kind: kind, Inputs: inputs})
	return id
}

// AddConstant appends a constant node and returns its id.
func (g *ExprGraph) AddConstant(value float32) ExprNodeID {
	id := g.NextNodeID()
	g.Nodes = append(g.Nodes, ExprNode{ID: id, Kind: ExprConstant, Value: value})
	return id
}

// Connect wires the output of node src to input slot index of node dst.
func (g *ExprGraph) Connect(dst ExprNodeID, index int, src ExprNodeID) {
	n := g.Node(dst)
	if n == nil {
		panic("flowtone: connecting to a nonexistent expression node")
	}
	n.Inputs[index].Node = src
}

// Copy makes a deep copy of an expression.
func (e *Expression) Copy() Expression {
	mapping := make(ParameterMapping, len(e.Mapping))
	for k, v := range e.Mapping {
		mapping[k] = v
	}
	scope := make([]ArgumentID, len(e.Scope.Arguments))
	copy(scope, e.Scope.Arguments)
	return Expression{
		ID:       e.ID,
		Owner:    e.Owner,
		Body:     e.Body.Copy(),
		Mapping:  mapping,
		Scope:    ExpressionScope{Arguments: scope},
		Fallback: e.Fallback,
	}
}
