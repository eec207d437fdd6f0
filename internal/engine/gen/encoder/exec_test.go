package encoder_test

import (
	"math"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/testing/gensim"
)

func TestEncoder_Add_dword(t *testing.T) {
	e := New(Gen7, 8)
	e.Add(Vec(10, TypeD), Vec(11, TypeD), ImmD(-3))
	require.Equal(t, 1, e.Len())

	w := e.Words()[0]
	require.Equal(t, OpAdd, w.Opcode())
	require.Equal(t, 8, w.ExecWidth())
	require.Equal(t, QuarterQ1, w.Quarter())
	require.Equal(t, 8, w.Channels())
	require.Equal(t, Vec(10, TypeD).Nr, w.Dst().Nr)
	src0 := w.Src0()
	require.Equal(t, 11, src0.Nr)
	require.Equal(t, 8, src0.Width)
	src1, ok := w.Src1()
	require.True(t, ok)
	require.True(t, src1.IsImm())
	require.Equal(t, int32(-3), int32(src1.Imm))

	m := &gensim.Machine{}
	for i := 0; i < 8; i++ {
		m.SetU32(11, i, uint32(i*10))
	}
	m.Run(e.Words())
	for i := 0; i < 8; i++ {
		require.Equal(t, int32(i*10-3), int32(m.U32(10, i)))
	}
}

func TestEncoder_doubles(t *testing.T) {
	for _, simd := range []int{8, 16} {
		simd := simd
		t.Run(fmtSIMD(simd), func(t *testing.T) {
			e := New(Gen7, simd)
			e.Add(Vec(20, TypeDF), Vec(10, TypeDF), Vec(14, TypeDF))
			e.Mul(Vec(24, TypeDF), Vec(20, TypeDF), Vec(10, TypeDF))
			require.Equal(t, simd/4*2, e.Len())
			for _, w := range e.Words() {
				require.Equal(t, 4, w.Channels())
			}

			m := &gensim.Machine{}
			rnd := rand.New(rand.NewSource(1))
			xs, ys := make([]float64, simd), make([]float64, simd)
			for i := 0; i < simd; i++ {
				xs[i], ys[i] = rnd.NormFloat64(), rnd.NormFloat64()
				m.SetU64(10, i, math.Float64bits(xs[i]))
				m.SetU64(14, i, math.Float64bits(ys[i]))
			}
			m.Run(e.Words())
			for i := 0; i < simd; i++ {
				require.Equal(t, xs[i]+ys[i], math.Float64frombits(m.U64(20, i)))
				require.Equal(t, (xs[i]+ys[i])*xs[i], math.Float64frombits(m.U64(24, i)))
			}
		})
	}
}

func fmtSIMD(simd int) string {
	if simd == 8 {
		return "simd8"
	}
	return "simd16"
}

var int64Samples = []uint64{
	0, 1, 0xffffffff, 0x100000000, math.MaxUint64, 0x8000000000000000, 0x7fffffffffffffff,
	0x123456789abcdef0, 0xfedcba9876543210, 0xffffffff00000001, 3, 0xdeadbeefcafebabe,
	0x00000001ffffffff, 42, 0x8000000080000000, 0x7fffffff7fffffff,
}

func TestEncoder_int64Arithmetic(t *testing.T) {
	x, y := Vec(10, TypeUQ), Vec(14, TypeUQ)
	tmp0, tmp1 := Vec(22, TypeUQ), Vec(26, TypeUQ)

	for _, tc := range []struct {
		name   string
		emit   func(e *Encoder, dst Reg)
		expect func(x, y uint64) uint64
	}{
		{
			name:   "add",
			emit:   func(e *Encoder, dst Reg) { e.I64Add(dst, x, y) },
			expect: func(x, y uint64) uint64 { return x + y },
		},
		{
			name:   "add via Add",
			emit:   func(e *Encoder, dst Reg) { e.Add(dst, x, y) },
			expect: func(x, y uint64) uint64 { return x + y },
		},
		{
			name:   "sub",
			emit:   func(e *Encoder, dst Reg) { e.I64Sub(dst, x, y) },
			expect: func(x, y uint64) uint64 { return x - y },
		},
		{
			name:   "mul",
			emit:   func(e *Encoder, dst Reg) { e.I64Mul(dst, x, y, tmp0) },
			expect: func(x, y uint64) uint64 { return x * y },
		},
		{
			name: "mul hi",
			emit: func(e *Encoder, dst Reg) { e.I64MulHi(dst, x, y, tmp0, tmp1) },
			expect: func(x, y uint64) uint64 {
				hi, _ := bits.Mul64(x, y)
				return hi
			},
		},
		{
			name:   "and",
			emit:   func(e *Encoder, dst Reg) { e.And(dst, x, y) },
			expect: func(x, y uint64) uint64 { return x & y },
		},
		{
			name:   "xor",
			emit:   func(e *Encoder, dst Reg) { e.Xor(dst, x, y) },
			expect: func(x, y uint64) uint64 { return x ^ y },
		},
		{
			name:   "not",
			emit:   func(e *Encoder, dst Reg) { e.Not(dst, x) },
			expect: func(x, _ uint64) uint64 { return ^x },
		},
	} {
		tc := tc
		for _, simd := range []int{8, 16} {
			t.Run(tc.name+"/"+fmtSIMD(simd), func(t *testing.T) {
				for _, alias := range []bool{false, true} {
					dst := Vec(18, TypeUQ)
					if alias {
						dst = x
					}
					e := New(Gen7, simd)
					tc.emit(e, dst)
					require.Zero(t, e.Depth())

					m := &gensim.Machine{}
					for i := 0; i < simd; i++ {
						m.SetU64(10, i, int64Samples[i])
						m.SetU64(14, i, int64Samples[(i*7+3)%len(int64Samples)])
					}
					m.Run(e.Words())
					for i := 0; i < simd; i++ {
						xv, yv := int64Samples[i], int64Samples[(i*7+3)%len(int64Samples)]
						require.Equal(t, tc.expect(xv, yv), m.U64(dst.Nr, i), "lane %d: %#x, %#x", i, xv, yv)
					}
				}
			})
		}
	}
}

func TestEncoder_int64Moves(t *testing.T) {
	e := New(Gen7, 16)
	e.Mov(Vec(20, TypeQ), Vec(10, TypeD))
	e.Mov(Vec(24, TypeUQ), Vec(12, TypeUD))
	e.Mov(Vec(28, TypeQ), ImmD(-5))
	e.Mov(Vec(32, TypeD), Vec(40, TypeQ))
	e.LoadInt64Imm(Vec(36, TypeQ), -0x123456789)

	m := &gensim.Machine{}
	vals := []int32{0, -1, 5, math.MinInt32, math.MaxInt32, -7, 100, -100, 1, 2, 3, 4, 5, 6, 7, 8}
	for i, v := range vals {
		m.SetU32(10, i, uint32(v))
		m.SetU32(12, i, uint32(v))
		m.SetU64(40, i, int64Samples[i])
	}
	m.Run(e.Words())
	for i, v := range vals {
		require.Equal(t, int64(v), int64(m.U64(20, i)))
		require.Equal(t, uint64(uint32(v)), m.U64(24, i))
		require.Equal(t, int64(-5), int64(m.U64(28, i)))
		require.Equal(t, uint32(int64Samples[i]), m.U32(32, i))
		require.Equal(t, int64(-0x123456789), int64(m.U64(36, i)))
	}
}

func TestEncoder_LoadDFImm(t *testing.T) {
	e := New(Gen75, 16)
	e.Push()
	e.Curr.Predicate = PredicateNormal
	e.LoadDFImm(Vec(20, TypeDF), Vec(30, TypeUD), math.Pi)
	e.Pop()

	// The staging words run on a single channel, the broadcast on four per word.
	require.Equal(t, 2+4, e.Len())
	for i, w := range e.Words() {
		pred, _ := w.Predicate()
		require.Equal(t, PredicateNone, pred, i)
		require.True(t, w.NoMask())
	}
	m := &gensim.Machine{}
	m.Run(e.Words())
	for i := 0; i < 16; i++ {
		require.Equal(t, math.Pi, math.Float64frombits(m.U64(20, i)))
	}
}

func TestEncoder_Cmp_Sel(t *testing.T) {
	e := New(Gen7, 16)
	e.Cmp(CondLT, Null(TypeD), Vec(10, TypeD), Vec(12, TypeD))
	require.Equal(t, 2, e.Len())
	e.Push()
	e.Curr.Predicate = PredicateNormal
	e.Sel(Vec(14, TypeD), Vec(10, TypeD), Vec(12, TypeD))
	e.Pop()
	e.SelCmp(CondGE, Vec(16, TypeD), Vec(10, TypeD), Vec(12, TypeD))

	m := &gensim.Machine{}
	for i := 0; i < 16; i++ {
		m.SetU32(10, i, uint32(int32(i-8)))
		m.SetU32(12, i, uint32(int32(8-i)))
	}
	m.Run(e.Words())
	for i := 0; i < 16; i++ {
		a, b := int32(i-8), int32(8-i)
		lo, hi := a, b
		if b < a {
			lo, hi = b, a
		}
		require.Equal(t, lo, int32(m.U32(14, i)), i)
		require.Equal(t, hi, int32(m.U32(16, i)), i)
	}
	require.Equal(t, uint16(0x00ff), m.Flag(0, 0))
}

func TestEncoder_predicatedCmp(t *testing.T) {
	// Channels disabled by the predicate keep their flag bits.
	e := New(Gen7, 8)
	e.Cmp(CondLT, Null(TypeUD), Vec(10, TypeUD), ImmUD(4))
	e.Push()
	e.Curr.Predicate = PredicateNormal
	e.Cmp(CondEQ, Null(TypeUD), Vec(10, TypeUD), ImmUD(1))
	e.Pop()

	m := &gensim.Machine{}
	for i := 0; i < 8; i++ {
		m.SetU32(10, i, uint32(i))
	}
	m.Run(e.Words())
	require.Equal(t, uint16(0b0000_0010), m.Flag(0, 0))
}

func TestEncoder_Read64(t *testing.T) {
	e := New(Gen7, 8)
	e.Read64(Vec(20, TypeDF), Vec(30, TypeUD), Vec(32, TypeUD), Vec(2, TypeUD), 9)
	words := e.Words()
	require.Equal(t, 7, len(words))
	send := words[4]
	require.Equal(t, OpSend, send.Opcode())
	require.Equal(t, 16, send.ExecWidth())
	require.Equal(t, 2, send.Message().MessageLength)
	require.Equal(t, 2, send.Message().ResponseLength)
	require.Equal(t, uint32(9), send.Message().BTI())
	require.Equal(t, 30, send.Src0().Nr)

	m := &gensim.Machine{}
	for i := 0; i < 8; i++ {
		m.SetU32(2, i, uint32(0x1000+i*12))
	}
	m.Run(words)
	for i := 0; i < 8; i++ {
		require.Equal(t, uint32(0x1000+i*12), m.U32(30, 2*i))
		require.Equal(t, uint32(0x1000+i*12+4), m.U32(30, 2*i+1))
	}
	require.Equal(t, 1, len(m.Sends))
	require.Equal(t, 4, m.Sends[0].Pos)
	require.Equal(t, uint32(0x1000+3*12+4), m.Sends[0].PayloadU32(0, 7))

	e = New(Gen7, 16)
	e.Read64(Vec(20, TypeDF), Vec(30, TypeUD), Vec(32, TypeUD), Vec(2, TypeUD), 9)
	require.Equal(t, 14, e.Len())
	last := e.Words()[13]
	require.Equal(t, QuarterQ2, last.Quarter())
	require.Equal(t, 1, last.Nib())
	require.Equal(t, 23, last.Dst().Nr)
}

func TestEncoder_Write64(t *testing.T) {
	e := New(Gen7, 8)
	e.Write64(Vec(40, TypeUD), Vec(2, TypeUD), Vec(10, TypeUQ), 3)
	words := e.Words()
	require.Equal(t, 8, len(words))
	require.Equal(t, OpSend, words[3].Opcode())
	require.Equal(t, OpSend, words[7].Opcode())
	require.Equal(t, 2, words[7].Message().MessageLength)

	m := &gensim.Machine{}
	for i := 0; i < 8; i++ {
		m.SetU32(2, i, uint32(0x2000+i*8))
		m.SetU64(10, i, uint64(i)<<32|uint64(0x100+i))
	}
	m.Run(words)
	for i := 0; i < 8; i++ {
		require.Equal(t, uint32(0x2000+i*8+4), m.U32(40, i))
		require.Equal(t, uint32(i), m.U32(41, i))
	}
	require.Equal(t, 2, len(m.Sends))

	e = New(Gen7, 16)
	e.Write64(Vec(40, TypeUD), Vec(2, TypeUD), Vec(10, TypeDF), 3)
	require.Equal(t, 12, e.Len())
	require.Equal(t, 4, e.Words()[5].Message().MessageLength)
}

func TestEncoder_EOT_execution(t *testing.T) {
	e := New(Gen7, 8)
	e.EOT(127)
	e.Mov(Vec(3, TypeUD), ImmUD(1))

	m := &gensim.Machine{}
	m.Run(e.Words())
	require.True(t, m.Ended)
	require.Equal(t, 1, len(m.Sends))
	require.Zero(t, m.U32(3, 0))
}

func TestEncoder_PatchJump_execution(t *testing.T) {
	// A predicated forward branch far enough to need the reserved word, run for both outcomes.
	e := New(Gen7, 8)
	e.Cmp(CondNE, Null(TypeUD), Vec(2, TypeUD), ImmUD(0))
	e.Push()
	e.Curr.Predicate = PredicateAny8H
	slot := e.Jmpi()
	e.Pop()
	for i := 0; i < 40000; i++ {
		e.Mov(Vec(3, TypeUD), ImmUD(1))
	}
	target := e.Len()
	e.Mov(Vec(4, TypeUD), ImmUD(7))
	e.PatchJump(slot, int32(target-slot.Pos()-1))

	for _, taken := range []bool{false, true} {
		m := &gensim.Machine{}
		if taken {
			m.SetU32(2, 5, 1)
		}
		m.Run(e.Words())
		require.Equal(t, uint32(7), m.U32(4, 0))
		if taken {
			require.Zero(t, m.U32(3, 0))
		} else {
			require.Equal(t, uint32(1), m.U32(3, 0))
		}
	}
}
