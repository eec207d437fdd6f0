package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/ir"
)

func TestLayoutCurbe(t *testing.T) {
	fn := ir.NewFunction("k")
	fn.StackSize = 16
	p := fn.AddArgument(api.ArgGlobalPointer, 4, 4, "p")
	n := fn.AddArgument(api.ArgValue, 8, 8, "n")
	s := fn.AddArgument(api.ArgStructure, 12, 4, "s")

	referenced := map[ir.Register]bool{ir.RegLocalID1: true, ir.RegGroupID0: true}
	c := layoutCurbe(fn, 16, func(r ir.Register) bool { return referenced[r] })

	require.Equal(t, []Patch{
		{Type: api.CurbeKernelArgument, Sub: 0, Offset: 136},
		{Type: api.CurbeKernelArgument, Sub: 1, Offset: 144},
		{Type: api.CurbeKernelArgument, Sub: 2, Offset: 152},
		{Type: api.CurbeLocalID, Sub: 0, Offset: 0},
		{Type: api.CurbeLocalID, Sub: 1, Offset: 64},
		{Type: api.CurbeGroupID, Sub: 0, Offset: 128},
		{Type: api.CurbeStackBuffer, Sub: 0, Offset: 132},
	}, c.patches)
	require.Equal(t, uint32(192), c.size)
	require.Equal(t, 7, c.sp)
	require.Equal(t, 9, c.first)

	require.Equal(t, encoder.Vec(1, encoder.TypeD), c.fixed[ir.RegLocalID0])
	require.Equal(t, encoder.Vec(3, encoder.TypeD), c.fixed[ir.RegLocalID1])
	require.Equal(t, encoder.Scalar(5, 0, encoder.TypeD), c.fixed[ir.RegGroupID0])
	require.Equal(t, encoder.Scalar(5, 4, encoder.TypeD), c.fixed[ir.RegStackBuffer])
	require.Equal(t, encoder.Scalar(5, 8, encoder.TypeD), c.fixed[p])
	require.Equal(t, encoder.Scalar(5, 16, encoder.TypeQ), c.fixed[n])
	require.Equal(t, encoder.Vec(7, encoder.TypeD), c.fixed[ir.RegStackPointer])
	_, ok := c.fixed[s]
	require.False(t, ok)
	_, ok = c.fixed[ir.RegLocalID2]
	require.False(t, ok)
}

func TestLayoutCurbe_noStack(t *testing.T) {
	fn := ir.NewFunction("k")
	c := layoutCurbe(fn, 8, func(ir.Register) bool { return false })
	require.Empty(t, c.patches)
	require.Equal(t, uint32(0), c.size)
	require.Equal(t, 0, c.sp)
	require.Equal(t, curbeStart, c.first)
}

func TestSearchPatch(t *testing.T) {
	patches := []Patch{
		{Type: api.CurbeKernelArgument, Sub: 0, Offset: 64},
		{Type: api.CurbeKernelArgument, Sub: 2, Offset: 72},
		{Type: api.CurbeLocalID, Sub: 0, Offset: 0},
		{Type: api.CurbeGroupID, Sub: 1, Offset: 68},
	}
	for _, tc := range []struct {
		typ api.CurbeType
		sub uint32
		exp int32
	}{
		{typ: api.CurbeKernelArgument, sub: 0, exp: 64},
		{typ: api.CurbeKernelArgument, sub: 1, exp: -1},
		{typ: api.CurbeKernelArgument, sub: 2, exp: 72},
		{typ: api.CurbeLocalID, sub: 0, exp: 0},
		{typ: api.CurbeGroupID, sub: 0, exp: -1},
		{typ: api.CurbeGroupID, sub: 1, exp: 68},
		{typ: api.CurbeThreadNum, sub: 0, exp: -1},
	} {
		require.Equal(t, tc.exp, SearchPatch(patches, tc.typ, tc.sub), "%s/%d", tc.typ, tc.sub)
	}
	require.Equal(t, int32(-1), SearchPatch(nil, api.CurbeLocalID, 0))
}
