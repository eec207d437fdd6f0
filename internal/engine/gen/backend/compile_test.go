package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/ir"
)

func compileWords(t *testing.T, c *Compiler, fn *ir.Function) (*Output, []encoder.Word) {
	out, err := c.Compile(fn)
	require.NoError(t, err)
	words, err := encoder.WordsFromBytes(out.Code)
	require.NoError(t, err)
	require.Equal(t, out.Words, len(words))
	return out, words
}

func wordsOf(words []encoder.Word, op encoder.Opcode) (ret []encoder.Word) {
	for _, w := range words {
		if w.Opcode() == op {
			ret = append(ret, w)
		}
	}
	return
}

func TestCompiler_dwordAdd(t *testing.T) {
	fn, b, x, y := newKernel()
	fn.SIMDWidth = 8
	d := fn.NewRegister(ir.FamilyDWord)
	b.Binary(ir.OpcodeAdd, ir.TypeS32, d, x, y)
	b.Ret()

	c := NewCompiler(Options{})
	out, words := compileWords(t, c, fn)
	require.Equal(t, 8, out.SIMDWidth)
	require.Equal(t, uint32(32), out.CurbeSize)
	require.Equal(t, []Patch{
		{Type: api.CurbeKernelArgument, Sub: 0, Offset: 0},
		{Type: api.CurbeKernelArgument, Sub: 1, Offset: 4},
	}, out.Patches)
	require.False(t, out.Retried)

	// The return jump falls through to the epilogue.
	require.Len(t, words, 3)
	add := words[0]
	require.Equal(t, encoder.OpAdd, add.Opcode())
	require.Equal(t, 8, add.ExecWidth())
	require.Equal(t, encoder.QuarterQ1, add.Quarter())
	require.Equal(t, encoder.OpMov, words[1].Opcode())
	require.Equal(t, encoder.OpSend, words[2].Opcode())
	require.True(t, words[2].Message().EndOfThread)

	again, _ := compileWords(t, c, fn)
	require.Equal(t, out.Code, again.Code)
}

func TestCompiler_byteAddSplitsAtSIMD16(t *testing.T) {
	fn := ir.NewFunction("k")
	fn.SIMDWidth = 16
	p := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "p")
	x, y, d := fn.NewRegister(ir.FamilyByte), fn.NewRegister(ir.FamilyByte), fn.NewRegister(ir.FamilyByte)
	b := ir.NewBuilder(fn)
	b.Load(ir.TypeS8, ir.SpaceGlobal, false, p, x)
	b.Load(ir.TypeS8, ir.SpaceGlobal, false, p, y)
	b.Binary(ir.OpcodeAdd, ir.TypeS8, d, x, y)
	b.Ret()

	_, words := compileWords(t, NewCompiler(Options{}), fn)
	adds := wordsOf(words, encoder.OpAdd)
	require.Len(t, adds, 2)
	for i, w := range adds {
		require.Equal(t, 8, w.ExecWidth())
		require.Equal(t, encoder.QuarterQ1+encoder.QuarterControl(i), w.Quarter())
	}
}

func TestCompiler_longConditionalBranch(t *testing.T) {
	fn, b, x, y := newKernel()
	fn.SIMDWidth = 8
	p, d := fn.NewRegister(ir.FamilyBool), fn.NewRegister(ir.FamilyDWord)
	end := fn.NewLabel()
	b.Compare(ir.OpcodeLt, ir.TypeS32, p, x, y)
	b.BranchIf(p, end)
	b.Binary(ir.OpcodeAdd, ir.TypeS32, d, x, y)
	for i := 0; i < 40000; i++ {
		b.Binary(ir.OpcodeAdd, ir.TypeS32, d, d, y)
	}
	b.Label(end)
	b.Ret()

	_, words := compileWords(t, NewCompiler(Options{}), fn)
	pos := -1
	for i, w := range words {
		if w.Opcode() == encoder.OpJmpi {
			pos = i
			break
		}
	}
	require.NotEqual(t, -1, pos)

	// The far jump skips the IP add while a lane waits for the next block.
	jmp := words[pos]
	pred, inverse := jmp.Predicate()
	require.Equal(t, encoder.PredicateAny8H, pred)
	require.False(t, inverse)
	require.Equal(t, uint32(2), jmp.Imm())
	require.True(t, words[pos+1].IsIPAdd())

	// The target is the head of the last block: CMP of the block ip, MOV of the block ip, then
	// the epilogue.
	target, ok := encoder.JumpTarget(words, pos)
	require.True(t, ok)
	require.Equal(t, len(words)-4, target)
	require.Equal(t, encoder.OpCmp, words[target].Opcode())
}

func TestCompiler_stackPrologue(t *testing.T) {
	fn := ir.NewFunction("k")
	fn.SIMDWidth = 8
	fn.StackSize = 16
	d := fn.NewRegister(ir.FamilyDWord)
	b := ir.NewBuilder(fn)
	b.Load(ir.TypeS32, ir.SpacePrivate, true, ir.RegStackPointer, d)
	b.Ret()

	out, words := compileWords(t, NewCompiler(Options{}), fn)
	require.Equal(t, uint32(16), out.StackSize)
	require.Equal(t, int32(0), SearchPatch(out.Patches, api.CurbeLocalID, 0))
	require.Equal(t, int32(32), SearchPatch(out.Patches, api.CurbeStackBuffer, 0))
	require.Equal(t, encoder.OpMul, words[0].Opcode())
	require.True(t, words[0].NoMask())
	require.Equal(t, encoder.OpAdd, words[1].Opcode())
	require.True(t, words[1].NoMask())
}

// pressureKernel keeps n dword values live at once before summing them.
func pressureKernel(n int) *ir.Function {
	fn := ir.NewFunction("pressure")
	fn.SIMDWidth = 16
	p := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "p")
	x := fn.AddArgument(api.ArgValue, 4, 4, "x")
	b := ir.NewBuilder(fn)
	vs := make([]ir.Register, n)
	for i := range vs {
		c := fn.NewRegister(ir.FamilyDWord)
		vs[i] = fn.NewRegister(ir.FamilyDWord)
		b.LoadImm(c, ir.ImmediateS32(int32(i+1)))
		b.Binary(ir.OpcodeAdd, ir.TypeS32, vs[i], x, c)
	}
	s := fn.NewRegister(ir.FamilyDWord)
	b.Binary(ir.OpcodeAdd, ir.TypeS32, s, vs[0], vs[1])
	for _, v := range vs[2:] {
		b.Binary(ir.OpcodeAdd, ir.TypeS32, s, s, v)
	}
	b.Store(ir.TypeS32, ir.SpaceGlobal, true, p, s)
	b.Ret()
	return fn
}

func TestCompiler_spill(t *testing.T) {
	fn := pressureKernel(120)

	t.Run("spilling", func(t *testing.T) {
		out, words := compileWords(t, NewCompiler(Options{AllowSpilling: true}), fn)
		require.True(t, out.Retried)
		require.NotZero(t, out.Spilled)
		require.NotZero(t, out.ScratchSize)
		require.Zero(t, out.ScratchSize%encoder.GRFSize)
		require.Greater(t, len(wordsOf(words, encoder.OpSend)), 2)
	})
	t.Run("no spilling", func(t *testing.T) {
		_, err := NewCompiler(Options{}).Compile(fn)
		require.ErrorIs(t, err, api.ErrRegisterPressureExceeded)
		require.Contains(t, err.Error(), "kernel pressure")
	})
	t.Run("fits", func(t *testing.T) {
		out, _ := compileWords(t, NewCompiler(Options{}), pressureKernel(20))
		require.False(t, out.Retried)
		require.Zero(t, out.Spilled)
	})
}

func TestCompiler_errors(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		fn, b, x, y := newKernel()
		fn.SIMDWidth = 4
		b.Binary(ir.OpcodeAdd, ir.TypeS32, fn.NewRegister(ir.FamilyDWord), x, y)
		_, err := NewCompiler(Options{}).Compile(fn)
		var malformed *api.MalformedInstructionError
		require.ErrorAs(t, err, &malformed)
	})
	t.Run("simd override", func(t *testing.T) {
		fn, b, x, y := newKernel()
		b.Binary(ir.OpcodeAdd, ir.TypeS32, fn.NewRegister(ir.FamilyDWord), x, y)
		_, err := NewCompiler(Options{SIMDWidth: 32}).Compile(fn)
		var unimplemented *api.UnimplementedError
		require.ErrorAs(t, err, &unimplemented)
	})
	t.Run("unimplemented", func(t *testing.T) {
		fn, b, x, y := newKernel()
		a, c, d := fn.NewRegister(ir.FamilyWord), fn.NewRegister(ir.FamilyWord), fn.NewRegister(ir.FamilyWord)
		b.Convert(ir.TypeS16, ir.TypeS32, a, x)
		b.Convert(ir.TypeS16, ir.TypeS32, c, y)
		b.Binary(ir.OpcodeDiv, ir.TypeS16, d, a, c)
		_, err := NewCompiler(Options{}).Compile(fn)
		var unimplemented *api.UnimplementedError
		require.ErrorAs(t, err, &unimplemented)
		require.Contains(t, err.Error(), "kernel k")
	})
}
