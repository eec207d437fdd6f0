package backend

import (
	"sort"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/ir"
)

// Register file layout. r0 holds the thread payload header and the curbe starts at r1.
const (
	curbeStart = 1
	// stageFirst is the first register of the message staging area, which holds the payloads and
	// responses of messages.
	stageFirst = 117
	stageSize  = 10
	// eotReg holds the copy of the header sent with the end of thread message. Until then, kernels
	// with divergent branches keep the block ip of every lane in its first half.
	eotReg = 127
	// spillSlotNum is the number of spill slots. One selection instruction never references more
	// distinct virtual registers.
	spillSlotNum = 8
)

// blockIP returns the per-lane index of the next block each lane has to run. Lanes not
// dispatched hold 0xffff, which matches no block.
func blockIP() encoder.Reg {
	return encoder.Vec(eotReg, encoder.TypeUW)
}

// Patch locates a curbe entry: the execution sink writes the value of Type and Sub at Offset
// bytes from the start of the curbe.
type Patch struct {
	Type   api.CurbeType
	Sub    uint32
	Offset uint32
}

// curbe is the layout of the constant registers pushed to each thread.
type curbe struct {
	// size is in bytes, a multiple of the register size.
	size    uint32
	patches []Patch
	// fixed maps special and argument registers to their location. Local ids and the stack
	// pointer are per-lane vectors, everything else is a scalar.
	fixed map[ir.Register]encoder.Reg
	// sp is the first register of the stack pointer, or zero when the kernel has no stack.
	sp int
	// first is the first register after the curbe and the stack pointer.
	first int
}

var specialCurbeTypes = [ir.NumSpecialRegisters]struct {
	typ api.CurbeType
	sub uint32
}{
	ir.RegLocalID0:      {api.CurbeLocalID, 0},
	ir.RegLocalID1:      {api.CurbeLocalID, 1},
	ir.RegLocalID2:      {api.CurbeLocalID, 2},
	ir.RegGroupID0:      {api.CurbeGroupID, 0},
	ir.RegGroupID1:      {api.CurbeGroupID, 1},
	ir.RegGroupID2:      {api.CurbeGroupID, 2},
	ir.RegNumGroups0:    {api.CurbeGroupNum, 0},
	ir.RegNumGroups1:    {api.CurbeGroupNum, 1},
	ir.RegNumGroups2:    {api.CurbeGroupNum, 2},
	ir.RegLocalSize0:    {api.CurbeLocalSize, 0},
	ir.RegLocalSize1:    {api.CurbeLocalSize, 1},
	ir.RegLocalSize2:    {api.CurbeLocalSize, 2},
	ir.RegGlobalSize0:   {api.CurbeGlobalSize, 0},
	ir.RegGlobalSize1:   {api.CurbeGlobalSize, 1},
	ir.RegGlobalSize2:   {api.CurbeGlobalSize, 2},
	ir.RegGlobalOffset0: {api.CurbeGlobalOffset, 0},
	ir.RegGlobalOffset1: {api.CurbeGlobalOffset, 1},
	ir.RegGlobalOffset2: {api.CurbeGlobalOffset, 2},
	ir.RegStackBuffer:   {api.CurbeStackBuffer, 0},
	ir.RegWorkDim:       {api.CurbeWorkDim, 0},
	ir.RegThreadNum:     {api.CurbeThreadNum, 0},
}

func alignUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// curbeReg returns the register at the byte offset of the curbe.
func curbeReg(offset uint32, t encoder.ElemType) encoder.Reg {
	return encoder.Scalar(curbeStart+int(offset/encoder.GRFSize), int(offset%encoder.GRFSize), t)
}

// layoutCurbe places the referenced local ids first, then the referenced 32-bit special registers,
// then every argument at its alignment.
func layoutCurbe(fn *ir.Function, simdWidth int, referenced func(ir.Register) bool) *curbe {
	c := &curbe{fixed: map[ir.Register]encoder.Reg{}}
	hasStack := fn.StackSize > 0
	var offset uint32
	laneRegs := simdWidth * 4 / encoder.GRFSize

	for r := ir.RegLocalID0; r <= ir.RegLocalID2; r++ {
		if !referenced(r) && !(r == ir.RegLocalID0 && hasStack) {
			continue
		}
		e := specialCurbeTypes[r]
		c.patches = append(c.patches, Patch{Type: e.typ, Sub: e.sub, Offset: offset})
		c.fixed[r] = encoder.Vec(curbeStart+int(offset/encoder.GRFSize), encoder.TypeD)
		offset += uint32(laneRegs * encoder.GRFSize)
	}

	for r := ir.RegGroupID0; int(r) < ir.NumSpecialRegisters; r++ {
		if r == ir.RegStackPointer {
			continue
		}
		if !referenced(r) && !(r == ir.RegStackBuffer && hasStack) {
			continue
		}
		e := specialCurbeTypes[r]
		c.patches = append(c.patches, Patch{Type: e.typ, Sub: e.sub, Offset: offset})
		c.fixed[r] = curbeReg(offset, encoder.TypeD)
		offset += 4
	}

	for i, arg := range fn.Args {
		size, align := arg.Size, arg.Align
		if size == 0 {
			size = 4
		}
		if align == 0 {
			align = 4
		}
		offset = alignUp(offset, align)
		c.patches = append(c.patches, Patch{Type: api.CurbeKernelArgument, Sub: uint32(i), Offset: offset})
		t := encoder.TypeD
		if size == 8 {
			t = encoder.TypeQ
		}
		if arg.Type != api.ArgStructure {
			c.fixed[arg.Reg] = curbeReg(offset, t)
		}
		offset += size
	}

	c.size = alignUp(offset, encoder.GRFSize)
	c.first = curbeStart + int(c.size/encoder.GRFSize)
	if hasStack {
		c.sp = c.first
		c.fixed[ir.RegStackPointer] = encoder.Vec(c.sp, encoder.TypeD)
		c.first += laneRegs
	}

	sort.Slice(c.patches, func(i, j int) bool {
		a, b := c.patches[i], c.patches[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Sub < b.Sub
	})
	return c
}

// SearchPatch returns the curbe offset of the entry (typ, sub) in patches sorted by type and sub,
// or -1 when the kernel does not use it.
func SearchPatch(patches []Patch, typ api.CurbeType, sub uint32) int32 {
	i := sort.Search(len(patches), func(i int) bool {
		p := patches[i]
		return p.Type > typ || p.Type == typ && p.Sub >= sub
	})
	if i < len(patches) && patches[i].Type == typ && patches[i].Sub == sub {
		return int32(patches[i].Offset)
	}
	return -1
}
