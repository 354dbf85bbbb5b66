package flowtone

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// The serialized graph format is a flat document of components referencing
// each other by id, mirroring the in-memory structure. Component order within
// a processor follows file order.

type (
	graphFile struct {
		Processors  []processorDef  `yaml:"processors"`
		Inputs      []inputDef      `yaml:"inputs,omitempty"`
		Expressions []expressionDef `yaml:"expressions,omitempty"`
		Arguments   []argumentDef   `yaml:"arguments,omitempty"`
	}

	processorDef struct {
		ID   ProcessorID `yaml:"id"`
		Kind string      `yaml:"kind"`
	}

	inputDef struct {
		ID          SoundInputID  `yaml:"id"`
		Owner       ProcessorID   `yaml:"owner"`
		Branches    []ProcessorID `yaml:"branches,flow"`
		Independent bool          `yaml:"independent,omitempty"`
		Scope       []ArgumentID  `yaml:"scope,flow,omitempty"`
	}

	expressionDef struct {
		ID       ExpressionID `yaml:"id"`
		Owner    ProcessorID  `yaml:"owner"`
		Nodes    []nodeDef    `yaml:"nodes"`
		Result   exprInputDef `yaml:"result"`
		Mapping  []mappingDef `yaml:"mapping,omitempty"`
		Scope    []ArgumentID `yaml:"scope,flow,omitempty"`
		Fallback float32      `yaml:"fallback,omitempty"`
	}

	nodeDef struct {
		ID     ExprNodeID     `yaml:"id"`
		Kind   string         `yaml:"kind"`
		Value  float32        `yaml:"value,omitempty"`
		Inputs []exprInputDef `yaml:"inputs,flow,omitempty"`
	}

	exprInputDef struct {
		Node    ExprNodeID `yaml:"node,omitempty"`
		Default float32    `yaml:"default,omitempty"`
	}

	mappingDef struct {
		Parameter ExprNodeID  `yaml:"parameter"`
		Processor ProcessorID `yaml:"processor"`
		Argument  ArgumentID  `yaml:"argument"`
	}

	argumentDef struct {
		ID    ArgumentID  `yaml:"id"`
		Owner ProcessorID `yaml:"owner"`
		Array bool        `yaml:"array,omitempty"`
	}
)

// MarshalYAML serializes the graph as a flat component document.
func (g *Graph) MarshalYAML() (interface{}, error) {
	var f graphFile
	for _, id := range g.ProcessorIDs() {
		p := g.processors[id]
		f.Processors = append(f.Processors, processorDef{ID: id, Kind: p.Kind.Name()})
		for _, inputID := range p.Inputs {
			in := g.inputs[inputID]
			f.Inputs = append(f.Inputs, inputDef{
				ID:          in.ID,
				Owner:       in.Owner,
				Branches:    in.Branches,
				Independent: in.Chronicity == Independent,
				Scope:       in.Scope.Arguments,
			})
		}
		for _, exprID := range p.Expressions {
			e := g.expressions[exprID]
			def := expressionDef{
				ID:       e.ID,
				Owner:    e.Owner,
				Result:   exprInputDef{Node: e.Body.Result.Node, Default: e.Body.Result.Default},
				Scope:    e.Scope.Arguments,
				Fallback: e.Fallback,
			}
			for _, n := range e.Body.Nodes {
				nd := nodeDef{ID: n.ID, Kind: n.Kind.String(), Value: n.Value}
				for _, in := range n.Inputs {
					nd.Inputs = append(nd.Inputs, exprInputDef{Node: in.Node, Default: in.Default})
				}
				def.Nodes = append(def.Nodes, nd)
			}
			params := make([]ExprNodeID, 0, len(e.Mapping))
			for param := range e.Mapping {
				params = append(params, param)
			}
			sort.Slice(params, func(i, j int) bool { return params[i] < params[j] })
			for _, param := range params {
				loc := e.Mapping[param]
				def.Mapping = append(def.Mapping, mappingDef{Parameter: param, Processor: loc.Processor, Argument: loc.Argument})
			}
			f.Expressions = append(f.Expressions, def)
		}
		for _, argID := range p.Arguments {
			a := g.arguments[argID]
			f.Arguments = append(f.Arguments, argumentDef{ID: a.ID, Owner: a.Owner, Array: a.Translation == ArrayTranslation})
		}
	}
	return f, nil
}

// UnmarshalYAML reconstructs a graph from its serialized form and validates
// it; an invalid document is rejected as a whole.
func (g *Graph) UnmarshalYAML(value *yaml.Node) error {
	var f graphFile
	if err := value.Decode(&f); err != nil {
		return err
	}
	loaded := NewGraph()
	maxID := 0
	track := func(id int) {
		if id > maxID {
			maxID = id
		}
	}
	for _, def := range f.Processors {
		kind, ok := NewKind(def.Kind)
		if !ok {
			return fmt.Errorf("unknown processor kind %q", def.Kind)
		}
		if def.ID == NoProcessor {
			return fmt.Errorf("processor id 0 is reserved")
		}
		if loaded.processors[def.ID] != nil {
			return fmt.Errorf("duplicate processor id %d", def.ID)
		}
		loaded.processors[def.ID] = &Processor{ID: def.ID, Kind: kind}
		track(int(def.ID))
	}
	for _, def := range f.Arguments {
		owner := loaded.processors[def.Owner]
		if owner == nil {
			return fmt.Errorf("argument %d: unknown owner %d", def.ID, def.Owner)
		}
		translation := ScalarTranslation
		if def.Array {
			translation = ArrayTranslation
		}
		loaded.arguments[def.ID] = &Argument{ID: def.ID, Owner: def.Owner, Translation: translation}
		owner.Arguments = append(owner.Arguments, def.ID)
		track(int(def.ID))
	}
	for _, def := range f.Inputs {
		owner := loaded.processors[def.Owner]
		if owner == nil {
			return fmt.Errorf("input %d: unknown owner %d", def.ID, def.Owner)
		}
		chronicity := Synchronous
		if def.Independent {
			chronicity = Independent
		}
		branches := def.Branches
		if len(branches) == 0 {
			branches = []ProcessorID{NoProcessor}
		}
		for _, target := range branches {
			if target != NoProcessor && loaded.processors[target] == nil {
				return fmt.Errorf("input %d: unknown target %d", def.ID, target)
			}
		}
		loaded.inputs[def.ID] = &SoundInput{
			ID:         def.ID,
			Owner:      def.Owner,
			Branches:   branches,
			Chronicity: chronicity,
			Scope:      ArgumentScope{Arguments: def.Scope},
		}
		owner.Inputs = append(owner.Inputs, def.ID)
		track(int(def.ID))
	}
	for _, def := range f.Expressions {
		owner := loaded.processors[def.Owner]
		if owner == nil {
			return fmt.Errorf("expression %d: unknown owner %d", def.ID, def.Owner)
		}
		var body ExprGraph
		for _, nd := range def.Nodes {
			kind, ok := ExprKindByName(nd.Kind)
			if !ok {
				return fmt.Errorf("expression %d: unknown node kind %q", def.ID, nd.Kind)
			}
			n := ExprNode{ID: nd.ID, Kind: kind, Value: nd.Value}
			for _, in := range nd.Inputs {
				n.Inputs = append(n.Inputs, ExprInput{Node: in.Node, Default: in.Default})
			}
			for len(n.Inputs) < kind.Arity() {
				n.Inputs = append(n.Inputs, ExprInput{})
			}
			body.Nodes = append(body.Nodes, n)
		}
		body.Result = ExprInput{Node: def.Result.Node, Default: def.Result.Default}
		mapping := ParameterMapping{}
		for _, m := range def.Mapping {
			mapping[m.Parameter] = ArgumentLocation{Processor: m.Processor, Argument: m.Argument}
		}
		e := &Expression{
			ID:       def.ID,
			Owner:    def.Owner,
			Body:     body,
			Mapping:  mapping,
			Scope:    ExpressionScope{Arguments: def.Scope},
			Fallback: def.Fallback,
		}
		if err := loaded.checkExpression(e); err != nil {
			return fmt.Errorf("expression %d: %w", def.ID, err)
		}
		loaded.expressions[def.ID] = e
		owner.Expressions = append(owner.Expressions, def.ID)
		track(int(def.ID))
	}
	loaded.nextID = maxID
	if err := loaded.Validate(); err != nil {
		return err
	}
	*g = *loaded
	return nil
}
