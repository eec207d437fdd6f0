package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe/api"
)

func requireEncodingError(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		_, ok := r.(*api.EncodingError)
		require.True(t, ok, "expected *api.EncodingError but got %v", r)
	}()
	f()
}

func requireUnimplemented(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		_, ok := r.(*api.UnimplementedError)
		require.True(t, ok, "expected *api.UnimplementedError but got %v", r)
	}()
	f()
}

func TestEncoder_bytesSplitAtSIMD16(t *testing.T) {
	e := New(Gen7, 16)
	e.Add(Vec(10, TypeUB), Vec(11, TypeUB), Vec(12, TypeUB))
	require.Equal(t, 2, e.Len())
	for i, w := range e.Words() {
		require.Equal(t, 8, w.ExecWidth())
		require.Equal(t, QuarterControl(i)+QuarterQ1, w.Quarter())
		require.Equal(t, i*8, w.Dst().SubNr)
		require.Equal(t, i*8, w.Src0().SubNr)
	}

	e = New(Gen7, 16)
	e.Add(Vec(10, TypeD), Vec(12, TypeD), Vec(14, TypeD))
	require.Equal(t, 1, e.Len())
	require.Equal(t, 16, e.Words()[0].ExecWidth())
}

func TestEncoder_stateStack(t *testing.T) {
	e := New(Gen7, 16)
	for i := 0; i < MaxStateDepth; i++ {
		e.Push()
		e.Curr.ExecWidth = 1
	}
	require.Equal(t, MaxStateDepth, e.Depth())
	require.Panics(t, e.Push)
	for i := 0; i < MaxStateDepth; i++ {
		e.Pop()
	}
	require.Equal(t, DefaultState(16), e.Curr)
	require.Panics(t, e.Pop)
}

func TestEncoder_errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(e *Encoder)
	}{
		{name: "immediate destination", emit: func(e *Encoder) { e.Mov(ImmD(1), Vec(2, TypeD)) }},
		{name: "accumulator multiplicand", emit: func(e *Encoder) { e.Mul(Vec(2, TypeD), Acc(TypeD), Vec(3, TypeD)) }},
		{name: "register out of file", emit: func(e *Encoder) { e.Mov(Vec(GRFNum, TypeD), Vec(2, TypeD)) }},
		{name: "misaligned subregister", emit: func(e *Encoder) { e.Mov(Scalar(2, 2, TypeD), Vec(2, TypeD)) }},
		{name: "immediate then source", emit: func(e *Encoder) { e.Add(Vec(2, TypeD), ImmD(1), Vec(3, TypeD)) }},
		{name: "byte immediate", emit: func(e *Encoder) { e.Mov(Vec(2, TypeB), Reg{File: FileIMM, Type: TypeB, Width: 1}) }},
		{name: "invalid width", emit: func(e *Encoder) {
			e.Curr.ExecWidth = 4
			e.Mov(Vec(2, TypeD), Vec(3, TypeD))
		}},
		{name: "nibble at width 16", emit: func(e *Encoder) {
			e.Curr.Nib = 1
			e.Mov(Vec(2, TypeD), Vec(3, TypeD))
		}},
		{name: "mixed double add", emit: func(e *Encoder) { e.Add(Vec(2, TypeDF), Vec(4, TypeDF), Vec(6, TypeF)) }},
		{name: "64-bit immediate operand", emit: func(e *Encoder) {
			e.I64Add(Vec(2, TypeUQ), Vec(6, TypeUQ), Reg{File: FileIMM, Type: TypeUQ, Width: 1})
		}},
		{name: "scratch offset", emit: func(e *Encoder) { e.ScratchWrite(Vec(2, TypeUD), 17, 1) }},
		{name: "payload outside the register file", emit: func(e *Encoder) { e.UntypedRead(Vec(2, TypeUD), Null(TypeUD), 1, 1) }},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			requireEncodingError(t, func() { tc.emit(New(Gen7, 16)) })
		})
	}

	requireUnimplemented(t, func() { New(Gen7, 32) })
	requireUnimplemented(t, func() { New(Gen7, 8).Shl(Vec(2, TypeQ), Vec(6, TypeQ), Vec(10, TypeQ)) })
	requireUnimplemented(t, func() { New(Gen7, 8).I64MulHi(Vec(2, TypeQ), Vec(6, TypeQ), Vec(10, TypeQ), Vec(14, TypeQ), Vec(18, TypeQ)) })
	requireUnimplemented(t, func() { New(Gen7, 8).Cmp(CondEQ, Null(TypeUD), Vec(6, TypeQ), Vec(10, TypeQ)) })
	requireUnimplemented(t, func() { New(Gen7, 8).Math(MathSqrt, Vec(2, TypeDF), Vec(6, TypeDF), Null(TypeDF)) })
}

func TestEncoder_Math(t *testing.T) {
	e := New(Gen7, 16)
	e.Math(MathSqrt, Vec(10, TypeF), Vec(12, TypeF), Reg{})
	require.Equal(t, 1, e.Len())
	w := e.Words()[0]
	require.Equal(t, MathSqrt, w.MathFunction())
	src1, ok := w.Src1()
	require.True(t, ok)
	require.True(t, src1.IsNull())

	e = New(Gen7, 16)
	e.Math(MathIntDivQuotient, Vec(10, TypeD), Vec(12, TypeD), Vec(14, TypeD))
	require.Equal(t, 2, e.Len())
	require.Equal(t, QuarterQ2, e.Words()[1].Quarter())
}

func TestEncoder_Mad(t *testing.T) {
	e := New(Gen7, 8)
	e.Mad(Vec(10, TypeF), Vec(11, TypeF), Scalar(12, 4, TypeF), Vec(13, TypeF))
	require.Equal(t, 1, e.Len())
	w := e.Words()[0]
	require.True(t, w.IsThreeSource())
	require.Equal(t, 10, w.Dst().Nr)
	require.Equal(t, 11, w.Src0().Nr)
	src1, _ := w.Src1()
	require.Equal(t, 12, src1.Nr)
	require.Equal(t, 4, src1.SubNr)
	require.True(t, src1.IsScalar())
	require.Equal(t, 13, w.Src2().Nr)
	require.False(t, w.Src2().IsScalar())
}

func TestWordsFromBytes(t *testing.T) {
	e := New(Gen7, 8)
	e.Mov(Vec(2, TypeF), ImmF(1.5))
	e.Nop()
	words, err := WordsFromBytes(e.Bytes())
	require.NoError(t, err)
	require.Equal(t, e.Words(), words)

	_, err = WordsFromBytes(make([]byte, WordSize+1))
	require.Error(t, err)
}

func TestDisassemble(t *testing.T) {
	e := New(Gen7, 8)
	e.Push()
	e.Curr.Predicate = PredicateNormal
	e.Add(Vec(2, TypeF), Vec(3, TypeF), ImmF(2))
	e.Pop()
	e.EOT(127)
	out := Disassemble(e.Words())
	require.Contains(t, out, "(+f0.0) add (8,q1) r2.0")
	require.Contains(t, out, "r3.0<8;8,1>:f 2f")
	require.Contains(t, out, "EOT")

	t.Run("horizontal predicates", func(t *testing.T) {
		e := New(Gen7, 16)
		e.Push()
		e.Curr.Predicate, e.Curr.Inverse, e.Curr.FlagSubNr = PredicateAny16H, true, 1
		e.Jmpi()
		e.Curr.Predicate, e.Curr.Inverse = PredicateAny8H, false
		e.Jmpi()
		e.Pop()
		out := Disassemble(e.Words())
		require.Contains(t, out, "(-f0.1.any16h) jmpi (1)")
		require.Contains(t, out, "(+f0.1.any8h) jmpi (1)")

		s := DefaultState(8)
		s.Predicate = PredicateAll8H
		require.Equal(t, "(+f0.0.all8h) (8)", s.String())
	})
}
