package ir

import (
	"fmt"
	"strings"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
)

// Argument is a kernel argument. Value arguments are copied into Reg by the curbe, pointer
// arguments hold the 32-bit address of the buffer.
type Argument struct {
	Type  api.ArgType
	Size  uint32
	Align uint32
	Reg   Register
	Name  string
}

// Image is an image argument bound to a surface of the binding table.
type Image struct {
	// Arg is the index of the argument in Function.Args.
	Arg  int
	Slot uint32
}

// BasicBlock is a sequence of instructions starting with an OpcodeLabel. Control leaves it
// through its last instruction, or falls through to the next block of the function.
type BasicBlock struct {
	Label  LabelIndex
	Instrs []*Instruction
}

// Terminator returns the last instruction if it is a branch or a return, nil otherwise.
func (b *BasicBlock) Terminator() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	switch last.Opcode {
	case OpcodeBra, OpcodeRet:
		return last
	}
	return nil
}

// Function is a kernel in the IR.
type Function struct {
	Name       string
	Args       []Argument
	Immediates []Immediate
	Blocks     []*BasicBlock
	Images     []Image
	// Samplers are the sampler states referenced by OpcodeSample.
	Samplers []uint32

	// SIMDWidth is 8 or 16, or zero to let the compiler choose.
	SIMDWidth int
	// StackSize is the private memory size per lane in bytes.
	StackSize uint32
	// SLMSize is the shared local memory size per work-group in bytes.
	SLMSize uint32
	// WorkGroupSize is the compile-time work-group size hint, zero when unknown.
	WorkGroupSize [3]uint32

	families []Family
	labels   int
	instrs   genapi.Arena[Instruction]
}

// NewFunction returns an empty Function with the special registers declared.
func NewFunction(name string) *Function {
	fn := &Function{Name: name, instrs: genapi.NewArena[Instruction]()}
	for i := 0; i < NumSpecialRegisters; i++ {
		fn.families = append(fn.families, FamilyDWord)
	}
	return fn
}

// NewRegister declares a register of the given family.
func (f *Function) NewRegister(family Family) Register {
	f.families = append(f.families, family)
	return Register(len(f.families) - 1)
}

// NumRegisters returns the number of declared registers, the special ones included.
func (f *Function) NumRegisters() int {
	return len(f.families)
}

// Family returns the family of the register r.
func (f *Function) Family(r Register) Family {
	return f.families[r]
}

// NewLabel declares a label.
func (f *Function) NewLabel() LabelIndex {
	f.labels++
	return LabelIndex(f.labels - 1)
}

// NumLabels returns the number of declared labels.
func (f *Function) NumLabels() int {
	return f.labels
}

// NewImmediate declares an immediate, reusing an identical one if any.
func (f *Function) NewImmediate(imm Immediate) ImmediateIndex {
	for i, v := range f.Immediates {
		if v == imm {
			return ImmediateIndex(i)
		}
	}
	f.Immediates = append(f.Immediates, imm)
	return ImmediateIndex(len(f.Immediates) - 1)
}

// AddArgument declares an argument and the register receiving it. Values of 8 bytes go into
// a QWord register, every other argument into a DWord one.
func (f *Function) AddArgument(t api.ArgType, size, align uint32, name string) Register {
	family := FamilyDWord
	if t == api.ArgValue && size == 8 {
		family = FamilyQWord
	}
	r := f.NewRegister(family)
	f.Args = append(f.Args, Argument{Type: t, Size: size, Align: align, Reg: r, Name: name})
	return r
}

// AddImage declares the image argument at index arg of Args, bound to the given surface slot,
// and returns the index to use in instructions.
func (f *Function) AddImage(arg int, slot uint32) uint32 {
	f.Images = append(f.Images, Image{Arg: arg, Slot: slot})
	return uint32(len(f.Images) - 1)
}

// AddSampler declares a sampler state and returns the index to use in instructions.
func (f *Function) AddSampler(state uint32) uint32 {
	f.Samplers = append(f.Samplers, state)
	return uint32(len(f.Samplers) - 1)
}

// allocateInstruction returns a zeroed instruction owned by the function.
func (f *Function) allocateInstruction() *Instruction {
	ins, _ := f.instrs.Allocate()
	return ins
}

// WellFormed checks every instruction and the block structure of the function.
func (f *Function) WellFormed() error {
	if f.SIMDWidth != 0 && f.SIMDWidth != 8 && f.SIMDWidth != 16 {
		return &api.MalformedInstructionError{Reason: fmt.Sprintf("unsupported SIMD width %d", f.SIMDWidth)}
	}
	defined := make([]bool, f.labels)
	for _, b := range f.Blocks {
		if len(b.Instrs) == 0 || b.Instrs[0].Opcode != OpcodeLabel || b.Instrs[0].Label != b.Label {
			return &api.MalformedInstructionError{Reason: fmt.Sprintf("block $%d does not start with its label", b.Label)}
		}
		for i, ins := range b.Instrs {
			if err := ins.WellFormed(f); err != nil {
				return err
			}
			switch ins.Opcode {
			case OpcodeLabel:
				if i != 0 {
					return &api.MalformedInstructionError{Instruction: ins.String(), Reason: "label in the middle of a block"}
				}
				if defined[ins.Label] {
					return &api.MalformedInstructionError{Instruction: ins.String(), Reason: "label defined twice"}
				}
				defined[ins.Label] = true
			case OpcodeBra, OpcodeRet:
				if i != len(b.Instrs)-1 {
					return &api.MalformedInstructionError{Instruction: ins.String(), Reason: "terminator in the middle of a block"}
				}
			}
			for _, d := range ins.Dst {
				if d.IsSpecial() && d != RegStackPointer {
					return &api.MalformedInstructionError{Instruction: ins.String(), Reason: "write to a read-only special register"}
				}
			}
		}
	}
	for _, b := range f.Blocks {
		if t := b.Terminator(); t != nil && t.Opcode == OpcodeBra && !defined[t.Label] {
			return &api.MalformedInstructionError{Instruction: t.String(), Reason: "branch to an undefined label"}
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (f *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".decl_function %s\n", f.Name)
	for _, a := range f.Args {
		fmt.Fprintf(&sb, "  arg %s %s size=%d align=%d %s\n", a.Type, a.Name, a.Size, a.Align, a.Reg)
	}
	for _, b := range f.Blocks {
		for _, ins := range b.Instrs {
			if ins.Opcode == OpcodeLabel {
				fmt.Fprintf(&sb, "%s\n", ins)
			} else {
				fmt.Fprintf(&sb, "  %s\n", ins)
			}
		}
	}
	return sb.String()
}

// Constant is a named entry of a ConstantSet.
type Constant struct {
	Name   string
	Size   uint32
	Align  uint32
	Offset uint32
}

// ConstantSet holds the program scope constants in one blob.
type ConstantSet struct {
	Data      []byte
	Constants []Constant
}

// Add appends a constant aligned to align, which must be a power of two, and returns its offset.
func (c *ConstantSet) Add(name string, data []byte, align uint32) uint32 {
	if align == 0 {
		align = 1
	}
	offset := (uint32(len(c.Data)) + align - 1) &^ (align - 1)
	for uint32(len(c.Data)) < offset {
		c.Data = append(c.Data, 0)
	}
	c.Data = append(c.Data, data...)
	c.Constants = append(c.Constants, Constant{Name: name, Size: uint32(len(data)), Align: align, Offset: offset})
	return offset
}

// Unit is a compilation unit: a set of kernels sharing a constant set.
type Unit struct {
	Name      string
	Functions []*Function
	// Constants is nil when the unit has no program scope constant.
	Constants *ConstantSet
}
