package gbe

import (
	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/ir"
)

// binaryKernel stores x op y to the buffer out.
func binaryKernel(name string, op ir.Opcode, t ir.Type) *ir.Function {
	fn := ir.NewFunction(name)
	fn.SIMDWidth = 8
	x := fn.AddArgument(api.ArgValue, 4, 4, "x")
	y := fn.AddArgument(api.ArgValue, 4, 4, "y")
	out := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "out")
	d := fn.NewRegister(ir.FamilyDWord)
	b := ir.NewBuilder(fn)
	b.Binary(op, t, d, x, y)
	b.Store(t, ir.SpaceGlobal, true, out, d)
	b.Ret()
	return fn
}

// pressureKernel keeps n dword values live at once before summing them.
func pressureKernel(name string, n int) *ir.Function {
	fn := ir.NewFunction(name)
	fn.SIMDWidth = 16
	out := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "out")
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
	b.Store(ir.TypeS32, ir.SpaceGlobal, true, out, s)
	b.Ret()
	return fn
}

func testUnit(fns ...*ir.Function) *ir.Unit {
	return &ir.Unit{Name: "test", Functions: fns}
}
