package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoder_PatchJump(t *testing.T) {
	for _, tc := range []struct {
		name string
		// filler is the number of words between the reserved word and the target.
		filler    int
		backward  bool
		predicate PredicateMode
		// rewritten is true when the distance cannot be encoded in the JMPI immediate.
		rewritten bool
	}{
		{name: "short forward", filler: 3},
		{name: "short backward", filler: 3, backward: true},
		{name: "short predicated", filler: 10, predicate: PredicateAny8H},
		{name: "edge of range", filler: 16382},
		{name: "far forward", filler: 20000, rewritten: true},
		{name: "far backward", filler: 20000, backward: true, rewritten: true},
		{name: "far predicated", filler: 40000, predicate: PredicateAny16H, rewritten: true},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			e := New(Gen7, 16)
			filler := func() {
				for i := 0; i < tc.filler; i++ {
					e.Mov(Vec(3, TypeUD), ImmUD(uint32(i)))
				}
			}
			var target int
			if tc.backward {
				target = e.Len()
				filler()
			}
			e.Push()
			e.Curr.Predicate = tc.predicate
			slot := e.Jmpi()
			e.Pop()
			require.Equal(t, 2, e.Len()-slot.Pos())
			if !tc.backward {
				filler()
				target = e.Len()
			}
			e.Mov(Vec(4, TypeUD), ImmUD(7))

			e.PatchJump(slot, int32(target-slot.Pos()-1))
			words := e.Words()
			got, ok := JumpTarget(words, slot.Pos())
			require.True(t, ok)
			require.Equal(t, target, got)

			jmp := words[slot.Pos()]
			if tc.rewritten && tc.predicate == PredicateNone {
				require.Equal(t, OpAdd, jmp.Opcode())
			} else {
				require.Equal(t, OpJmpi, jmp.Opcode())
				require.Equal(t, 1, jmp.ExecWidth())
				require.True(t, jmp.NoMask())
			}
			reserved := words[slot.Pos()+1]
			if tc.rewritten && tc.predicate != PredicateNone {
				require.Equal(t, OpAdd, reserved.Opcode())
				pred, _ := reserved.Predicate()
				require.Equal(t, PredicateNone, pred)
				pred, inverse := jmp.Predicate()
				require.Equal(t, tc.predicate, pred)
				require.True(t, inverse)
			} else {
				require.Equal(t, OpNop, reserved.Opcode())
			}
		})
	}
}

func TestEncoder_PatchJump_errors(t *testing.T) {
	e := New(Gen7, 8)
	slot := e.Jmpi()
	e.words[slot.Pos()+1] = Word{}
	requireEncodingError(t, func() { e.PatchJump(slot, 1) })

	e = New(Gen7, 8)
	e.Nop()
	e.Nop()
	requireEncodingError(t, func() { e.PatchJump(JumpSlot{pos: 0}, 1) })
	requireEncodingError(t, func() { e.PatchJump(JumpSlot{pos: 1}, 1) })
}
