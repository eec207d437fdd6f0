package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
)

func rpoIDs(f *function) (ids []int) {
	for b := f.ReversePostOrderBlockIteratorBegin(); b != nil; b = f.ReversePostOrderBlockIteratorNext() {
		ids = append(ids, b.ID())
	}
	return
}

func TestFunction_computeRPO(t *testing.T) {
	f := newFunction()
	f.reset("k", 8)
	// b0 -> b2 -> b1 <-> b4, b3 unreachable.
	b0, b1, b2, b3, b4 := f.newBlock(0), f.newBlock(1), f.newBlock(2), f.newBlock(3), f.newBlock(4)
	b0.addSucc(b2)
	b2.addSucc(b1)
	b1.addSucc(b4)
	b4.addSucc(b1)
	b4.addSucc(b1)
	_ = b3
	require.Len(t, b4.Succs(), 1)

	f.computeRPO()
	require.Equal(t, []int{0, 2, 1, 4, 3}, rpoIDs(f))

	f.reset("k", 8)
	require.Nil(t, rpoIDs(f))
	require.Nil(t, f.ReversePostOrderBlockIteratorBegin())
}

func TestFunction_spillCode(t *testing.T) {
	f := newFunction()
	f.reset("k", 16)
	b := f.newBlock(0)
	v := f.allocateVReg(4)
	def := f.allocateInstruction(kindUnary)
	def.op = encoder.OpMov
	def.dst[0], def.ndst = operandVReg(v, encoder.TypeD), 1
	def.src[0], def.nsrc = operandReg(encoder.ImmD(1)), 1
	b.append(def)
	use := f.allocateInstruction(kindUnary)
	use.op = encoder.OpNot
	use.dst[0], use.ndst = operandVReg(f.allocateVReg(4), encoder.TypeD), 1
	use.src[0], use.nsrc = operandVReg(v, encoder.TypeD), 1
	b.append(use)

	slot := v.SetRealReg(90)
	f.StoreRegisterAfter(slot, 4, def)
	f.ReloadRegisterBefore(slot, 4, use)
	require.Equal(t, 2, f.spillCode)

	var kinds []instructionKind
	for i := b.root; i != nil; i = i.next {
		kinds = append(kinds, i.kind)
	}
	require.Equal(t, []instructionKind{kindLabel, kindUnary, kindSpill, kindUnspill, kindUnary}, kinds)
	require.Equal(t, 2, def.next.elems)
	require.Equal(t, 4, def.next.offset)

	// The allocator never sees its own spill code.
	var seen []regalloc.Instr
	for i := b.InstrIteratorBegin(); i != nil; i = b.InstrIteratorNext() {
		seen = append(seen, i)
	}
	require.Equal(t, []regalloc.Instr{b.root, def, use}, seen)
	require.Equal(t, use, b.tail)
}
