package flowtone

import "fmt"

type (
	// ProcessorID identifies a sound processor in a Graph. The zero value
	// (NoProcessor) is never allocated to a processor and is used to mark an
	// unconnected input branch.
	ProcessorID int

	// SoundInputID identifies a sound input of a processor.
	SoundInputID int

	// ExpressionID identifies a processor expression.
	ExpressionID int

	// ArgumentID identifies a processor argument.
	ArgumentID int
)

// NoProcessor marks an input branch that is not connected to anything. An
// unconnected branch compiles to an empty target, which produces silence.
const NoProcessor ProcessorID = 0

// Chronicity tells how an input relates to its owner's notion of time.
type Chronicity uint8

const (
	// Synchronous inputs advance in lockstep with their owner.
	Synchronous Chronicity = iota

	// Independent inputs have their own timing, e.g. a key press that starts
	// mid-chunk or a clip playing at its own speed.
	Independent
)

// ArgumentTranslation tells how an argument value pushed by a processor is
// presented to the expressions that read it.
type ArgumentTranslation uint8

const (
	// ScalarTranslation arguments are a single float that is broadcast over
	// the whole evaluated buffer.
	ScalarTranslation ArgumentTranslation = iota

	// ArrayTranslation arguments are a float per output slot, e.g. the phase
	// array a wave generator publishes for its amplitude expression.
	ArrayTranslation
)

type (
	// Processor is one node of the sound graph: a processor kind plus the
	// ordered lists of its components. Components belong to exactly one
	// processor and are destroyed with it.
	Processor struct {
		ID          ProcessorID
		Kind        ProcessorKind
		Inputs      []SoundInputID
		Expressions []ExpressionID
		Arguments   []ArgumentID
	}

	// SoundInput is a connection point through which a processor pulls audio
	// from other processors. An input has one or more branches; most inputs
	// have exactly one, but keyed inputs (e.g. one branch per keyboard voice)
	// may have many. Each branch either targets a processor or is
	// unconnected (NoProcessor).
	SoundInput struct {
		ID         SoundInputID
		Owner      ProcessorID
		Branches   []ProcessorID
		Chronicity Chronicity
		Scope      ArgumentScope
	}

	// Argument is a value channel from a processor to the expressions
	// downstream of it: the processor pushes the argument's current value
	// around evaluating an input, and expressions whose scope includes the
	// argument may read it.
	Argument struct {
		ID          ArgumentID
		Owner       ProcessorID
		Translation ArgumentTranslation
	}

	// ArgumentScope declares which upstream arguments are visible to
	// expressions reached through a sound input.
	ArgumentScope struct {
		Arguments []ArgumentID
	}

	// ExpressionScope declares the set of arguments an expression may
	// legally read. Reads outside the scope are a programming error.
	ExpressionScope struct {
		Arguments []ArgumentID
	}
)

// ProcessorKind is the capability contract of a processor type, as far as the
// topology is concerned: a stable name for serialization and the
// static/dynamic distinction that decides how the processor is compiled.
// Kinds additionally implement the engine's runtime contract; the engine
// asserts this when compiling.
type ProcessorKind interface {
	// Name returns the kind name, always lowercase, used in serialized
	// graphs and error messages.
	Name() string

	// IsStatic reports whether all referrers of a processor of this kind
	// share one value stream (compiled to exactly one shared node), as
	// opposed to being instantiated independently per reference.
	IsStatic() bool
}

// Visible reports whether the scope admits reads of the given argument.
func (s ExpressionScope) Visible(id ArgumentID) bool {
	for _, a := range s.Arguments {
		if a == id {
			return true
		}
	}
	return false
}

// Copy makes a deep copy of a processor.
func (p *Processor) Copy() Processor {
	inputs := make([]SoundInputID, len(p.Inputs))
	copy(inputs, p.Inputs)
	expressions := make([]ExpressionID, len(p.Expressions))
	copy(expressions, p.Expressions)
	arguments := make([]ArgumentID, len(p.Arguments))
	copy(arguments, p.Arguments)
	return Processor{ID: p.ID, Kind: p.Kind, Inputs: inputs, Expressions: expressions, Arguments: arguments}
}

// Copy makes a deep copy of a sound input.
func (in *SoundInput) Copy() SoundInput {
	branches := make([]ProcessorID, len(in.Branches))
	copy(branches, in.Branches)
	scope := make([]ArgumentID, len(in.Scope.Arguments))
	copy(scope, in.Scope.Arguments)
	return SoundInput{ID: in.ID, Owner: in.Owner, Branches: branches, Chronicity: in.Chronicity, Scope: ArgumentScope{Arguments: scope}}
}

var kindFactories = map[string]func() ProcessorKind{}

// RegisterKind registers a processor kind factory under its name, for
// deserialization. Kinds register themselves in an init function; registering
// the same name twice panics.
func RegisterKind(name string, factory func() ProcessorKind) {
	if _, ok := kindFactories[name]; ok {
		panic(fmt.Sprintf("processor kind %q registered twice", name))
	}
	kindFactories[name] = factory
}

// NewKind constructs a fresh processor kind instance by name.
func NewKind(name string) (ProcessorKind, bool) {
	factory, ok := kindFactories[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}
