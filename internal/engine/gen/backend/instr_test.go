package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
)

func TestInstructionKindTables(t *testing.T) {
	for k := kindLabel; k < numInstructionKinds; k++ {
		require.NotEmpty(t, kindNames[k], "kind %d has no name", k)
		require.NotEqual(t, defKind(0), defKinds[k], "defKind for %s not defined", k)
		require.NotEqual(t, useKind(0), useKinds[k], "useKind for %s not defined", k)
	}
	require.Equal(t, "kind(255)", instructionKind(255).String())
}

func TestInstruction_defsUses(t *testing.T) {
	f := newFunction()
	f.reset("k", 16)
	a, b, d := f.allocateVReg(4), f.allocateVReg(4), f.allocateVReg(4)
	require.Equal(t, 2, a.Span())

	add := f.allocateInstruction(kindBinary)
	add.op = encoder.OpAdd
	add.dst[0], add.ndst = operandVReg(d, encoder.TypeD), 1
	add.src[0], add.src[1], add.nsrc = operandVReg(a, encoder.TypeD), operandReg(encoder.ImmD(1)), 2
	require.Equal(t, []regalloc.VReg{d}, add.Defs())
	require.Equal(t, []regalloc.VReg{a}, add.Uses())
	require.False(t, add.EarlyClobber())
	require.False(t, add.IsCopy())

	// A predicated write of a temporary does not care about the disabled lanes.
	add.state.Predicate = encoder.PredicateNormal
	require.Equal(t, []regalloc.VReg{a}, add.Uses())
	require.False(t, add.EarlyClobber())
	// A partial one keeps them.
	add.partial = true
	require.Equal(t, []regalloc.VReg{a, d}, add.Uses())
	require.True(t, add.EarlyClobber())
	add.AssignUses([]regalloc.VReg{a.SetRealReg(4), d.SetRealReg(6)})
	require.Equal(t, encoder.Vec(6, encoder.TypeD), add.dst[0].nr())

	imm := f.allocateInstruction(kindLoadInt64Imm)
	imm.dst[0], imm.ndst = operandVReg(d, encoder.TypeQ), 1
	require.Empty(t, imm.Uses())
	imm.partial = true
	require.Equal(t, []regalloc.VReg{d}, imm.Uses())

	mov := f.allocateInstruction(kindUnary)
	mov.op = encoder.OpMov
	mov.dst[0], mov.ndst = operandVReg(d, encoder.TypeD), 1
	mov.src[0], mov.nsrc = operandVReg(b, encoder.TypeD), 1
	require.True(t, mov.IsCopy())
	mov.src[0] = mov.src[0].negated()
	require.False(t, mov.IsCopy())

	mul := f.allocateInstruction(kindI64Mul)
	mul.dst[0], mul.ndst = operandVReg(d, encoder.TypeQ), 1
	mul.src[0], mul.src[1], mul.nsrc = operandVReg(a, encoder.TypeQ), operandVReg(b, encoder.TypeQ), 2
	tmp := f.allocateVReg(8)
	mul.tmp[0], mul.ntmp = operandVReg(tmp, encoder.TypeQ), 1
	require.Equal(t, []regalloc.VReg{d, tmp}, mul.Defs())
	require.True(t, mul.EarlyClobber())

	mul.AssignDefs([]regalloc.VReg{d.SetRealReg(10), tmp.SetRealReg(14)})
	require.Equal(t, encoder.Vec(10, encoder.TypeQ), mul.dst[0].nr())
	require.Equal(t, encoder.Vec(14, encoder.TypeQ), mul.tmp[0].nr())
	require.Panics(t, func() { mul.AssignUses([]regalloc.VReg{a, b, d}) })
}

func TestOperand_nr(t *testing.T) {
	v := regalloc.NewVReg(3, 1).SetRealReg(20)
	require.Equal(t, encoder.Vec(20, encoder.TypeF).Neg().AbsOf(),
		operand{kind: operandKindVReg, v: v, typ: encoder.TypeF, neg: true, abs: true}.nr())
	require.Equal(t, encoder.Null(encoder.TypeD), nullOperand(encoder.TypeD).nr())
	require.Equal(t, encoder.ImmUD(7), operandReg(encoder.ImmUD(7)).nr())
	require.Panics(t, func() { operandVReg(regalloc.NewVReg(4, 1), encoder.TypeD).nr() })
}
