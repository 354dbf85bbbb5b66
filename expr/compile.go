// Package expr compiles expression subgraphs into compiled functions that the
// engine can evaluate per sample or per chunk, and caches the compiled
// artefacts by structural content hash.
//
// An expression graph is lowered to a small register bytecode, executed a
// whole buffer at a time. Each register is a borrowed scratch slice; most
// opcodes map directly to a vectorized vek32 call, only the stateful opcodes
// (noise, smooth, phasor) run samplewise.
package expr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/flowtone/flowtone"
)

// Mode selects the compilation mode of an expression. Modes are part of the
// cache key: the same expression may be compiled differently for different
// uses.
type Mode uint8

const (
	// ModeNormal compiles the expression as written. Further modes (e.g. a
	// wavetable discretization of the phase axis) slot in here.
	ModeNormal Mode = iota
)

type opcode uint8

const (
	opConstant opcode = iota // dst <- value
	opParameter              // dst <- argument bound to slot index
	opAdd                    // dst <- a + b
	opSub
	opMul
	opDiv
	opNeg
	opAbs
	opMin
	opMax
	opClamp // dst <- min(max(a, b), c)
	opSin
	opCos
	opExp2
	opPow
	opNoise  // dst <- white noise; state[index] holds the seed bits
	opSmooth // dst <- one-pole smooth of a with coefficient b; state[index]
	opPhasor // dst <- running phase of frequency a; state[index]
)

type instr struct {
	op    opcode
	dst   uint16
	a     uint16
	b     uint16
	c     uint16
	value float32 // opConstant
	index uint16  // parameter slot or state variable index
}

type (
	// Artefact is the compiled form of one expression structure: the
	// bytecode, the parameter slot layout and the number of persistent state
	// variables. Artefacts are immutable and shared by pointer between the
	// cache entry and any number of live function instances; per-site state
	// lives in Function.
	Artefact struct {
		code      []instr
		numRegs   int
		numState  int
		seedState []int // state indices that are noise seeds
		slots     []slot
		result    uint16
		hash      uint64
		mode      Mode
	}

	// slot describes one parameter slot of the compiled code: how the bound
	// argument's value is translated into a buffer. The argument location
	// itself is per-site and lives in Function.
	slot struct {
		array bool
	}

	// analysis is the canonical traversal of one expression at one site:
	// the structural hash, and the per-slot argument locations that a
	// function instance compiled from this structure needs at this site.
	analysis struct {
		hash      uint64
		locations []flowtone.ArgumentLocation
	}
)

// Hash returns the structural content hash of the artefact.
func (a *Artefact) Hash() uint64 { return a.hash }

// NumStateVariables returns the number of persistent per-instance state
// variables the compiled code uses.
func (a *Artefact) NumStateVariables() int { return a.numState }

// analyze walks the expression in canonical (postorder from the result)
// order and produces the structural hash plus the site-specific argument
// locations in slot order. Two expressions with identical structure, node
// kinds, defaults and parameter translations hash identically regardless of
// their node ids or which topology they live in.
func analyze(g *flowtone.Graph, e *flowtone.Expression, mode Mode) analysis {
	d := xxhash.New()
	var locations []flowtone.ArgumentLocation
	canonical := map[flowtone.ExprNodeID]int{}
	nextIndex := 0

	var hashInput func(in flowtone.ExprInput)
	var hashNode func(id flowtone.ExprNodeID) int
	hashInput = func(in flowtone.ExprInput) {
		var buf [5]byte
		if in.Node == 0 {
			buf[0] = 0
			binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(in.Default))
			d.Write(buf[:])
			return
		}
		index := hashNode(in.Node)
		buf[0] = 1
		binary.LittleEndian.PutUint32(buf[1:], uint32(index))
		d.Write(buf[:])
	}
	hashNode = func(id flowtone.ExprNodeID) int {
		if index, ok := canonical[id]; ok {
			var buf [5]byte
			buf[0] = 2 // back-reference to an already hashed node
			binary.LittleEndian.PutUint32(buf[1:], uint32(index))
			d.Write(buf[:])
			return index
		}
		n := e.Body.Node(id)
		if n == nil {
			panic(fmt.Sprintf("expr: expression %d references nonexistent node %d", e.ID, id))
		}
		for _, in := range n.Inputs {
			hashInput(in)
		}
		var buf [6]byte
		buf[0] = 3
		buf[1] = byte(n.Kind)
		binary.LittleEndian.PutUint32(buf[2:], math.Float32bits(n.Value))
		d.Write(buf[:])
		if n.Kind == flowtone.ExprParameter {
			loc, ok := e.Mapping[id]
			if !ok {
				panic(fmt.Sprintf("expr: parameter node %d of expression %d has no binding", id, e.ID))
			}
			arg := g.Argument(loc.Argument)
			if arg == nil {
				panic(fmt.Sprintf("expr: expression %d maps parameter %d to nonexistent argument %d", e.ID, id, loc.Argument))
			}
			array := byte(0)
			if arg.Translation == flowtone.ArrayTranslation {
				array = 1
			}
			d.Write([]byte{4, array})
			locations = append(locations, loc)
		}
		canonical[id] = nextIndex
		nextIndex++
		return canonical[id]
	}
	hashInput(e.Body.Result)
	return analysis{hash: d.Sum64(), locations: locations}
}

// compiler lowers an analyzed expression to bytecode. Registers are assigned
// one per materialized value; expression graphs are small, so no register
// reuse is attempted.
type compiler struct {
	g    *flowtone.Graph
	e    *flowtone.Expression
	art  *Artefact
	regs map[flowtone.ExprNodeID]uint16
	slot map[flowtone.ExprNodeID]uint16
}

// Compile lowers an expression to an artefact. Compilation is infallible:
// malformed expressions are rejected by graph validation before they can
// reach the compiler, so any inconsistency found here panics.
func Compile(g *flowtone.Graph, e *flowtone.Expression, mode Mode) *Artefact {
	a := analyze(g, e, mode)
	c := &compiler{
		g:    g,
		e:    e,
		art:  &Artefact{hash: a.hash, mode: mode},
		regs: map[flowtone.ExprNodeID]uint16{},
		slot: map[flowtone.ExprNodeID]uint16{},
	}
	// Slot numbering must match the canonical traversal order of analyze, so
	// that Function locations line up with opParameter indices.
	c.art.result = c.emitInput(e.Body.Result)
	return c.art
}

func (c *compiler) newReg() uint16 {
	r := uint16(c.art.numRegs)
	c.art.numRegs++
	return r
}

func (c *compiler) newState() uint16 {
	s := uint16(c.art.numState)
	c.art.numState++
	return s
}

func (c *compiler) emitInput(in flowtone.ExprInput) uint16 {
	if in.Node == 0 {
		dst := c.newReg()
		c.art.code = append(c.art.code, instr{op: opConstant, dst: dst, value: in.Default})
		return dst
	}
	return c.emitNode(in.Node)
}

func (c *compiler) emitNode(id flowtone.ExprNodeID) uint16 {
	if reg, ok := c.regs[id]; ok {
		return reg
	}
	n := c.e.Body.Node(id)
	if n == nil {
		panic(fmt.Sprintf("expr: expression %d references nonexistent node %d", c.e.ID, id))
	}
	operands := make([]uint16, len(n.Inputs))
	for i, in := range n.Inputs {
		operands[i] = c.emitInput(in)
	}
	dst := c.newReg()
	ins := instr{dst: dst}
	for i, r := range operands {
		switch i {
		case 0:
			ins.a = r
		case 1:
			ins.b = r
		case 2:
			ins.c = r
		}
	}
	switch n.Kind {
	case flowtone.ExprConstant:
		ins.op = opConstant
		ins.value = n.Value
	case flowtone.ExprParameter:
		loc := c.e.Mapping[id]
		arg := c.g.Argument(loc.Argument)
		ins.op = opParameter
		ins.index = uint16(len(c.art.slots))
		c.art.slots = append(c.art.slots, slot{array: arg.Translation == flowtone.ArrayTranslation})
	case flowtone.ExprAdd:
		ins.op = opAdd
	case flowtone.ExprSub:
		ins.op = opSub
	case flowtone.ExprMul:
		ins.op = opMul
	case flowtone.ExprDiv:
		ins.op = opDiv
	case flowtone.ExprNeg:
		ins.op = opNeg
	case flowtone.ExprAbs:
		ins.op = opAbs
	case flowtone.ExprMin:
		ins.op = opMin
	case flowtone.ExprMax:
		ins.op = opMax
	case flowtone.ExprClamp:
		ins.op = opClamp
	case flowtone.ExprSin:
		ins.op = opSin
	case flowtone.ExprCos:
		ins.op = opCos
	case flowtone.ExprExp2:
		ins.op = opExp2
	case flowtone.ExprPow:
		ins.op = opPow
	case flowtone.ExprNoise:
		ins.op = opNoise
		ins.index = c.newState()
		c.art.seedState = append(c.art.seedState, int(ins.index))
	case flowtone.ExprSmooth:
		ins.op = opSmooth
		ins.index = c.newState()
	case flowtone.ExprPhasor:
		ins.op = opPhasor
		ins.index = c.newState()
	default:
		panic(fmt.Sprintf("expr: invalid node kind %d", n.Kind))
	}
	c.art.code = append(c.art.code, ins)
	c.regs[id] = dst
	return dst
}
