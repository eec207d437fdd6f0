package encoder

import "fmt"

// MaxStateDepth is the maximum nesting of Push.
const MaxStateDepth = 16

// State is the per-instruction state applied to every word emitted by an Encoder.
// It is a plain value: copying it snapshots it.
type State struct {
	ExecWidth int
	Quarter   QuarterControl
	Nib       int
	Predicate PredicateMode
	Inverse   bool
	FlagNr    int
	FlagSubNr int
	NoMask    bool
	Saturate  bool
	AccWrite  bool
}

// DefaultState returns the state an Encoder starts with for the given SIMD width.
func DefaultState(simdWidth int) State {
	return State{ExecWidth: simdWidth, Quarter: QuarterQ1}
}

// String implements fmt.Stringer.
func (s State) String() string {
	ret := fmt.Sprintf("(%d", s.ExecWidth)
	if s.ExecWidth == 8 && s.Quarter != QuarterQ1 {
		ret += fmt.Sprintf(",q%d", s.Quarter)
	}
	if s.Nib != 0 {
		ret += fmt.Sprintf(",n%d", s.Nib)
	}
	ret += ")"
	if s.Predicate != PredicateNone {
		inv := "+"
		if s.Inverse {
			inv = "-"
		}
		ret = fmt.Sprintf("(%sf%d.%d%s) %s", inv, s.FlagNr, s.FlagSubNr, s.Predicate.Suffix(), ret)
	}
	if s.NoMask {
		ret += "{nomask}"
	}
	return ret
}

// Push saves the current state. It must be paired with Pop.
func (e *Encoder) Push() {
	if e.depth == MaxStateDepth {
		panic(fmt.Sprintf("BUG: encoder state stack overflow (max depth %d)", MaxStateDepth))
	}
	e.stack[e.depth] = e.Curr
	e.depth++
}

// Pop restores the state saved by the matching Push.
func (e *Encoder) Pop() {
	if e.depth == 0 {
		panic("BUG: encoder state stack underflow")
	}
	e.depth--
	e.Curr = e.stack[e.depth]
}

// Depth returns the current nesting of Push.
func (e *Encoder) Depth() int {
	return e.depth
}
