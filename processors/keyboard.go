package processors

import (
	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
)

// keyEventCapacity bounds the per-keyboard event channel. Events arriving
// while it is full are dropped; 64 is far more than a human plays between
// two chunks.
const keyEventCapacity = 64

// KeyEventKind tells whether a key went down or up.
type KeyEventKind uint8

const (
	KeyDown KeyEventKind = iota
	KeyUp
)

// KeyEvent is one key transition, identified by an arbitrary caller-chosen
// key number (e.g. a MIDI note).
type KeyEvent struct {
	Kind      KeyEventKind
	Key       int
	Frequency float32
}

// Keyboard drives a fixed set of voices from key events. Each branch of its
// keyed input is one voice; a key press claims a free voice (stealing the
// oldest when none is free), restarts the subgraph behind its branch and
// pushes the key's frequency for the expressions below.
//
// Events arrive through a bounded channel owned by the kind instance, so
// pressed notes survive recompilations of the state graph; only the voice
// assignments reset. The senders may live on any goroutine. Static, so all
// referrers hear the same voices.
type Keyboard struct {
	events chan KeyEvent
}

func NewKeyboard() *Keyboard {
	return &Keyboard{events: make(chan KeyEvent, keyEventCapacity)}
}

func (*Keyboard) Name() string { return "keyboard" }

func (*Keyboard) IsStatic() bool { return true }

// NoteOn queues a key press without blocking. Returns false if the event
// channel was full and the event was dropped.
func (k *Keyboard) NoteOn(key int, frequency float32) bool {
	return k.send(KeyEvent{Kind: KeyDown, Key: key, Frequency: frequency})
}

// NoteOff queues a key release without blocking.
func (k *Keyboard) NoteOff(key int) bool {
	return k.send(KeyEvent{Kind: KeyUp, Key: key})
}

func (k *Keyboard) send(e KeyEvent) bool {
	select {
	case k.events <- e:
		return true
	default:
		return false
	}
}

type voice struct {
	key       int
	frequency float32
	active    bool
	age       uint64
}

type keyboardState struct {
	voices  []voice
	counter uint64
}

func (s *keyboardState) StartOver() {
	for i := range s.voices {
		s.voices[i] = voice{}
	}
	s.counter = 0
}

func (k *Keyboard) Allocate(n *engine.Node) engine.State {
	return &keyboardState{voices: make([]voice, n.Input(0).NumBranches())}
}

func (k *Keyboard) Process(state engine.State, n *engine.Node, ctx *engine.Context, dst *flowtone.Chunk) {
	st := state.(*keyboardState)
	in := n.Input(0)
	st.drainEvents(k.events, in)

	dst.Clear()
	tmp := ctx.BorrowChunk()
	for i := range st.voices {
		v := &st.voices[i]
		if !v.active {
			continue
		}
		n.Argument(0).PushScalar(ctx, v.frequency)
		in.Evaluate(i, ctx, tmp)
		n.Argument(0).Pop(ctx)
		addChunk(dst, tmp)
	}
	ctx.ReleaseChunk(tmp)
}

func (st *keyboardState) drainEvents(events <-chan KeyEvent, in *engine.CompiledInput) {
	for {
		select {
		case e := <-events:
			switch e.Kind {
			case KeyDown:
				v := st.allocate()
				st.counter++
				st.voices[v] = voice{key: e.Key, frequency: e.Frequency, active: true, age: st.counter}
				in.StartOverBranch(v)
			case KeyUp:
				for i := range st.voices {
					if st.voices[i].active && st.voices[i].key == e.Key {
						st.voices[i].active = false
						break
					}
				}
			}
		default:
			return
		}
	}
}

// allocate picks a free voice, stealing the oldest active one when every
// voice is taken.
func (st *keyboardState) allocate() int {
	oldest := 0
	for i := range st.voices {
		if !st.voices[i].active {
			return i
		}
		if st.voices[i].age < st.voices[oldest].age {
			oldest = i
		}
	}
	return oldest
}

// KeyboardIDs names the components AddKeyboard creates.
type KeyboardIDs struct {
	Processor flowtone.ProcessorID
	Input     flowtone.SoundInputID
	Frequency flowtone.ArgumentID
}

// AddKeyboard adds a keyboard with the given polyphony. The frequency
// argument is in scope for expressions reached through the keyed input.
func AddKeyboard(g *flowtone.Graph, polyphony int) KeyboardIDs {
	id := g.AddProcessor(NewKeyboard())
	freqArg := g.AddArgument(id, flowtone.ScalarTranslation)
	scope := flowtone.ArgumentScope{Arguments: []flowtone.ArgumentID{freqArg}}
	input := g.AddInput(id, flowtone.Independent, scope)
	if polyphony > 1 {
		g.SetBranchCount(input, polyphony)
	}
	return KeyboardIDs{Processor: id, Input: input, Frequency: freqArg}
}
