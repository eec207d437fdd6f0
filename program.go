package gbe

import (
	"sort"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/backend"
	"github.com/gbe-go/gbe/ir"
)

// Program is the result of CompileProgram: the kernels that compiled successfully and the program
// scope constants they read.
type Program struct {
	// Constants is nil when the program has no constant.
	Constants *ir.ConstantSet
	// Kernels are sorted by name.
	Kernels []*Kernel
}

// Kernel returns the kernel named name, or nil.
func (p *Program) Kernel(name string) *Kernel {
	i := sort.Search(len(p.Kernels), func(i int) bool { return p.Kernels[i].Name >= name })
	if i < len(p.Kernels) && p.Kernels[i].Name == name {
		return p.Kernels[i]
	}
	return nil
}

// Arg describes one kernel argument as the execution sink must provide it.
type Arg struct {
	Type  api.ArgType
	Size  uint32
	Align uint32
	Name  string
}

// Patch locates a value the execution sink writes into the curbe before dispatch.
type Patch struct {
	Type api.CurbeType
	// Sub is the argument index for api.CurbeKernelArgument, the dimension otherwise.
	Sub uint32
	// Offset is in bytes from the start of the curbe.
	Offset uint32
}

// Image binds an image argument to a surface slot.
type Image struct {
	// Arg is the index of the image argument.
	Arg  uint32
	Slot uint32
}

// Kernel is a compiled kernel ready to be bound by a CodeSink.
type Kernel struct {
	Name string
	// Code holds the instruction words, 16 bytes each.
	Code      []byte
	SIMDWidth int
	// CurbeSize is in bytes.
	CurbeSize uint32
	Args      []Arg
	// Patches are sorted by type and sub.
	Patches []Patch
	// StackSize is the private memory per lane in bytes.
	StackSize uint32
	// ScratchSize is the spill memory per thread in bytes.
	ScratchSize uint32
	SLMSize     uint32
	UseSLM      bool
	// Samplers and Images are nil when the kernel uses none.
	Samplers      []uint32
	Images        []Image
	WorkGroupSize [3]uint32
}

// CurbeOffset returns the curbe offset of the value (t, sub) in bytes, or -1 when the kernel does not
// read it.
func (k *Kernel) CurbeOffset(t api.CurbeType, sub uint32) int32 {
	i := sort.Search(len(k.Patches), func(i int) bool {
		p := k.Patches[i]
		return p.Type > t || p.Type == t && p.Sub >= sub
	})
	if i < len(k.Patches) && k.Patches[i].Type == t && k.Patches[i].Sub == sub {
		return int32(k.Patches[i].Offset)
	}
	return -1
}

// newKernel combines the backend output with the interface of fn.
func newKernel(fn *ir.Function, out *backend.Output) *Kernel {
	k := &Kernel{
		Name:          out.Name,
		Code:          out.Code,
		SIMDWidth:     out.SIMDWidth,
		CurbeSize:     out.CurbeSize,
		StackSize:     out.StackSize,
		ScratchSize:   out.ScratchSize,
		SLMSize:       out.SLMSize,
		UseSLM:        out.UseSLM,
		WorkGroupSize: fn.WorkGroupSize,
	}
	for _, a := range fn.Args {
		k.Args = append(k.Args, Arg{Type: a.Type, Size: a.Size, Align: a.Align, Name: a.Name})
	}
	for _, p := range out.Patches {
		k.Patches = append(k.Patches, Patch{Type: p.Type, Sub: p.Sub, Offset: p.Offset})
	}
	if len(fn.Samplers) > 0 {
		k.Samplers = append([]uint32(nil), fn.Samplers...)
	}
	for _, img := range fn.Images {
		k.Images = append(k.Images, Image{Arg: uint32(img.Arg), Slot: img.Slot})
	}
	return k
}
