package ir

import (
	"fmt"
	"strings"

	"github.com/gbe-go/gbe/api"
)

// Opcode is the operation of an Instruction.
type Opcode byte

const (
	OpcodeInvalid Opcode = iota

	// Unary: Dst[0] = op(Src[0]).
	OpcodeMov
	OpcodeNot
	OpcodeAbs
	OpcodeCos
	OpcodeSin
	OpcodeLog
	OpcodeExp
	OpcodeSqrt
	OpcodeRsq
	OpcodeRcp
	OpcodeRndz
	OpcodeRnde
	OpcodeRndd
	OpcodeRndu
	OpcodeFrc
	OpcodeFbh
	OpcodeFbl
	OpcodeClz

	// Binary: Dst[0] = Src[0] op Src[1].
	OpcodeAdd
	OpcodeSub
	OpcodeMul
	OpcodeMulHi
	OpcodeDiv
	OpcodeRem
	OpcodePow
	OpcodeAnd
	OpcodeOr
	OpcodeXor
	OpcodeShl
	OpcodeShr
	OpcodeMin
	OpcodeMax

	// Comparisons: the boolean Dst[0] = Src[0] op Src[1].
	OpcodeEq
	OpcodeNe
	OpcodeLt
	OpcodeLe
	OpcodeGt
	OpcodeGe

	// OpcodeMad is Dst[0] = Src[0] * Src[1] + Src[2].
	OpcodeMad
	// OpcodeSel is Dst[0] = Src[0] ? Src[1] : Src[2], Src[0] being a boolean.
	OpcodeSel
	// OpcodeCvt converts Src[0] of SrcType into Dst[0] of Type.
	OpcodeCvt
	// OpcodeLoadi loads the immediate Immediate into Dst[0].
	OpcodeLoadi

	// OpcodeLoad reads len(Dst) consecutive values at the address Src[0] of Space.
	OpcodeLoad
	// OpcodeStore writes Src[1:] at the address Src[0] of Space.
	OpcodeStore
	// OpcodeAtomic applies Atomic at the address Src[0] of Space with the operands Src[1:],
	// and returns the previous value in Dst[0].
	OpcodeAtomic
	// OpcodeSample samples the image Image with the sampler Sampler at the coordinates Src, and
	// returns four channels in Dst. Integer coordinates of SrcType read texels without filtering.
	OpcodeSample
	// OpcodeTypedWrite writes the four channels Src[n:] into the image Image at the n integer coordinates
	// Src[:n] where n is len(Src)-4.
	OpcodeTypedWrite
	// OpcodeGetImageInfo returns the dimension Info of the image Image in Dst[0].
	OpcodeGetImageInfo
	// OpcodeSync waits on the barriers and fences of Sync.
	OpcodeSync

	// OpcodeLabel starts a block.
	OpcodeLabel
	// OpcodeBra jumps to Label, if the boolean Src[0] is true when present.
	OpcodeBra
	// OpcodeRet ends the kernel.
	OpcodeRet

	opcodeEnd
)

var opcodeNames = [opcodeEnd]string{
	OpcodeInvalid:      "invalid",
	OpcodeMov:          "mov",
	OpcodeNot:          "not",
	OpcodeAbs:          "abs",
	OpcodeCos:          "cos",
	OpcodeSin:          "sin",
	OpcodeLog:          "log",
	OpcodeExp:          "exp",
	OpcodeSqrt:         "sqrt",
	OpcodeRsq:          "rsq",
	OpcodeRcp:          "rcp",
	OpcodeRndz:         "rndz",
	OpcodeRnde:         "rnde",
	OpcodeRndd:         "rndd",
	OpcodeRndu:         "rndu",
	OpcodeFrc:          "frc",
	OpcodeFbh:          "fbh",
	OpcodeFbl:          "fbl",
	OpcodeClz:          "clz",
	OpcodeAdd:          "add",
	OpcodeSub:          "sub",
	OpcodeMul:          "mul",
	OpcodeMulHi:        "mul_hi",
	OpcodeDiv:          "div",
	OpcodeRem:          "rem",
	OpcodePow:          "pow",
	OpcodeAnd:          "and",
	OpcodeOr:           "or",
	OpcodeXor:          "xor",
	OpcodeShl:          "shl",
	OpcodeShr:          "shr",
	OpcodeMin:          "min",
	OpcodeMax:          "max",
	OpcodeEq:           "eq",
	OpcodeNe:           "ne",
	OpcodeLt:           "lt",
	OpcodeLe:           "le",
	OpcodeGt:           "gt",
	OpcodeGe:           "ge",
	OpcodeMad:          "mad",
	OpcodeSel:          "sel",
	OpcodeCvt:          "cvt",
	OpcodeLoadi:        "loadi",
	OpcodeLoad:         "load",
	OpcodeStore:        "store",
	OpcodeAtomic:       "atomic",
	OpcodeSample:       "sample",
	OpcodeTypedWrite:   "typed_write",
	OpcodeGetImageInfo: "get_image_info",
	OpcodeSync:         "sync",
	OpcodeLabel:        "label",
	OpcodeBra:          "bra",
	OpcodeRet:          "ret",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeEnd {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", byte(o))
}

// IsUnary returns true for the opcodes with one source of the instruction type.
func (o Opcode) IsUnary() bool { return o >= OpcodeMov && o <= OpcodeClz }

// IsBinary returns true for the opcodes with two sources of the instruction type and a result of the same type.
func (o Opcode) IsBinary() bool { return o >= OpcodeAdd && o <= OpcodeMax }

// IsCompare returns true for the comparisons.
func (o Opcode) IsCompare() bool { return o >= OpcodeEq && o <= OpcodeGe }

// IsFloatOnly returns true for the opcodes only defined on floating point types.
func (o Opcode) IsFloatOnly() bool {
	switch o {
	case OpcodeCos, OpcodeSin, OpcodeLog, OpcodeExp, OpcodeSqrt, OpcodeRsq, OpcodeRcp, OpcodePow,
		OpcodeRndz, OpcodeRnde, OpcodeRndd, OpcodeRndu, OpcodeFrc, OpcodeMad:
		return true
	}
	return false
}

// IsIntegerOnly returns true for the opcodes only defined on integer types.
func (o Opcode) IsIntegerOnly() bool {
	switch o {
	case OpcodeNot, OpcodeFbh, OpcodeFbl, OpcodeClz, OpcodeMulHi, OpcodeAnd, OpcodeOr, OpcodeXor, OpcodeShl, OpcodeShr:
		return true
	}
	return false
}

// AddressSpace is the memory space accessed by loads, stores and atomics.
type AddressSpace byte

const (
	SpaceGlobal AddressSpace = iota
	SpaceLocal
	SpaceConstant
	SpacePrivate
)

// String implements fmt.Stringer.
func (s AddressSpace) String() string {
	switch s {
	case SpaceGlobal:
		return "global"
	case SpaceLocal:
		return "local"
	case SpaceConstant:
		return "constant"
	case SpacePrivate:
		return "private"
	}
	return fmt.Sprintf("space(%d)", byte(s))
}

// AtomicOp is the read-modify-write operation of OpcodeAtomic.
type AtomicOp byte

const (
	AtomicAdd AtomicOp = iota
	AtomicSub
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicXchg
	AtomicInc
	AtomicDec
	AtomicIMin
	AtomicIMax
	AtomicUMin
	AtomicUMax
	AtomicCmpXchg

	atomicEnd
)

// Operands returns the number of operands of the operation, besides the address.
func (a AtomicOp) Operands() int {
	switch a {
	case AtomicInc, AtomicDec:
		return 0
	case AtomicCmpXchg:
		return 2
	}
	return 1
}

// String implements fmt.Stringer.
func (a AtomicOp) String() string {
	switch a {
	case AtomicAdd:
		return "add"
	case AtomicSub:
		return "sub"
	case AtomicAnd:
		return "and"
	case AtomicOr:
		return "or"
	case AtomicXor:
		return "xor"
	case AtomicXchg:
		return "xchg"
	case AtomicInc:
		return "inc"
	case AtomicDec:
		return "dec"
	case AtomicIMin:
		return "imin"
	case AtomicIMax:
		return "imax"
	case AtomicUMin:
		return "umin"
	case AtomicUMax:
		return "umax"
	case AtomicCmpXchg:
		return "cmpxchg"
	}
	return fmt.Sprintf("atomic(%d)", byte(a))
}

// SyncFlags selects the barriers and fences of OpcodeSync.
type SyncFlags byte

const (
	// SyncLocalBarrier waits for every work-item of the work-group.
	SyncLocalBarrier SyncFlags = 1 << iota
	// SyncLocalFence orders the accesses to local memory.
	SyncLocalFence
	// SyncGlobalFence orders the accesses to global memory.
	SyncGlobalFence
)

// ImageInfo selects the dimension returned by OpcodeGetImageInfo.
type ImageInfo byte

const (
	ImageWidth ImageInfo = iota
	ImageHeight
	ImageDepth
)

// MaxLoadStoreValues is the maximum number of values of one load or store.
const MaxLoadStoreValues = 4

// Instruction is one IR instruction. Which fields are meaningful depends on the Opcode.
type Instruction struct {
	Opcode  Opcode
	Type    Type
	SrcType Type
	Dst     []Register
	Src     []Register

	Label     LabelIndex
	Immediate ImmediateIndex
	Space     AddressSpace
	// Aligned is true if the address of a load or store is aligned to the size of the type.
	Aligned bool
	Atomic  AtomicOp
	Sync    SyncFlags
	Image   uint32
	Sampler uint32
	Info    ImageInfo
}

// String implements fmt.Stringer.
func (i *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.Opcode.String())
	switch i.Opcode {
	case OpcodeLabel:
		fmt.Fprintf(&sb, " $%d", i.Label)
		return sb.String()
	case OpcodeBra:
		if len(i.Src) > 0 {
			fmt.Fprintf(&sb, "<%s>", i.Src[0])
		}
		fmt.Fprintf(&sb, " -> $%d", i.Label)
		return sb.String()
	case OpcodeRet:
		return sb.String()
	case OpcodeSync:
		fmt.Fprintf(&sb, " %#x", byte(i.Sync))
		return sb.String()
	case OpcodeCvt:
		fmt.Fprintf(&sb, ".%s.%s", i.Type, i.SrcType)
	case OpcodeLoad, OpcodeStore:
		aligned := ".aligned"
		if !i.Aligned {
			aligned = ".unaligned"
		}
		fmt.Fprintf(&sb, ".%s.%s%s", i.Type, i.Space, aligned)
	case OpcodeAtomic:
		fmt.Fprintf(&sb, ".%s.%s.%s", i.Atomic, i.Type, i.Space)
	case OpcodeSample, OpcodeTypedWrite, OpcodeGetImageInfo:
		fmt.Fprintf(&sb, ".%s image%d", i.Type, i.Image)
	default:
		fmt.Fprintf(&sb, ".%s", i.Type)
	}
	if len(i.Dst) > 0 {
		sb.WriteString(" {")
		for j, r := range i.Dst {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(r.String())
		}
		sb.WriteByte('}')
	}
	for _, r := range i.Src {
		sb.WriteByte(' ')
		sb.WriteString(r.String())
	}
	if i.Opcode == OpcodeLoadi {
		fmt.Fprintf(&sb, " #%d", i.Immediate)
	}
	return sb.String()
}

type wellFormedChecker struct {
	fn  *Function
	ins *Instruction
}

func (c wellFormedChecker) fail(format string, args ...interface{}) error {
	return &api.MalformedInstructionError{Instruction: c.ins.String(), Reason: fmt.Sprintf(format, args...)}
}

func (c wellFormedChecker) register(r Register, family Family) error {
	if int(r) >= c.fn.NumRegisters() {
		return c.fail("out-of-bound register index %d", r)
	}
	if f := c.fn.Family(r); f != family {
		return c.fail("register %s of family %s does not match the family %s of the instruction type", r, f, family)
	}
	return nil
}

func (c wellFormedChecker) registers(rs []Register, family Family) error {
	for _, r := range rs {
		if err := c.register(r, family); err != nil {
			return err
		}
	}
	return nil
}

func (c wellFormedChecker) counts(dst, src int) error {
	if len(c.ins.Dst) != dst {
		return c.fail("expected %d destinations, got %d", dst, len(c.ins.Dst))
	}
	if len(c.ins.Src) != src {
		return c.fail("expected %d sources, got %d", src, len(c.ins.Src))
	}
	return nil
}

func (c wellFormedChecker) image() error {
	if int(c.ins.Image) >= len(c.fn.Images) {
		return c.fail("out-of-bound image index %d", c.ins.Image)
	}
	return nil
}

// WellFormed checks the instruction against the function it belongs to, and returns
// a *api.MalformedInstructionError with the reason when the check fails.
func (i *Instruction) WellFormed(fn *Function) error {
	c := wellFormedChecker{fn: fn, ins: i}
	if i.Opcode == OpcodeInvalid || i.Opcode >= opcodeEnd {
		return c.fail("invalid opcode")
	}
	switch i.Opcode {
	case OpcodeLabel, OpcodeBra, OpcodeRet, OpcodeSync:
	default:
		if !i.Type.Valid() {
			return c.fail("invalid type")
		}
	}
	if i.Opcode.IsFloatOnly() && !i.Type.IsFloat() {
		return c.fail("%s is only defined on floating point types", i.Opcode)
	}
	if i.Opcode.IsIntegerOnly() && (i.Type.IsFloat() || i.Type == TypeBool) {
		return c.fail("%s is only defined on integer types", i.Opcode)
	}

	switch op := i.Opcode; {
	case op.IsUnary():
		if err := c.counts(1, 1); err != nil {
			return err
		}
		return c.registers(append(i.Dst[:1:1], i.Src...), i.Type.Family())
	case op.IsBinary():
		if err := c.counts(1, 2); err != nil {
			return err
		}
		return c.registers(append(i.Dst[:1:1], i.Src...), i.Type.Family())
	case op.IsCompare():
		if err := c.counts(1, 2); err != nil {
			return err
		}
		if err := c.register(i.Dst[0], FamilyBool); err != nil {
			return err
		}
		return c.registers(i.Src, i.Type.Family())
	}

	switch i.Opcode {
	case OpcodeMad:
		if err := c.counts(1, 3); err != nil {
			return err
		}
		return c.registers(append(i.Dst[:1:1], i.Src...), i.Type.Family())
	case OpcodeSel:
		if err := c.counts(1, 3); err != nil {
			return err
		}
		if err := c.register(i.Src[0], FamilyBool); err != nil {
			return err
		}
		return c.registers(append(i.Dst[:1:1], i.Src[1:]...), i.Type.Family())
	case OpcodeCvt:
		if err := c.counts(1, 1); err != nil {
			return err
		}
		if !i.SrcType.Valid() {
			return c.fail("invalid source type")
		}
		if err := c.register(i.Dst[0], i.Type.Family()); err != nil {
			return err
		}
		return c.register(i.Src[0], i.SrcType.Family())
	case OpcodeLoadi:
		if err := c.counts(1, 0); err != nil {
			return err
		}
		if int(i.Immediate) >= len(fn.Immediates) {
			return c.fail("out-of-bound immediate index %d", i.Immediate)
		}
		if imm := fn.Immediates[i.Immediate]; imm.Type != i.Type {
			return c.fail("inconsistent type %s for the immediate of type %s", i.Type, imm.Type)
		}
		return c.register(i.Dst[0], i.Type.Family())
	case OpcodeLoad, OpcodeStore:
		values := i.Dst
		if i.Opcode == OpcodeStore {
			if len(i.Dst) != 0 || len(i.Src) < 1 {
				return c.fail("store takes an address and values")
			}
			values = i.Src[1:]
		} else if len(i.Src) != 1 {
			return c.fail("load takes one address")
		}
		if len(values) < 1 || len(values) > MaxLoadStoreValues {
			return c.fail("%d values: must be within 1 and %d", len(values), MaxLoadStoreValues)
		}
		if i.Type == TypeBool {
			return c.fail("booleans cannot be stored in memory")
		}
		if i.Space > SpacePrivate {
			return c.fail("invalid address space")
		}
		if i.Opcode == OpcodeStore && i.Space == SpaceConstant {
			return c.fail("constant memory is read-only")
		}
		if err := c.register(i.Src[0], FamilyDWord); err != nil {
			return err
		}
		return c.registers(values, i.Type.Family())
	case OpcodeAtomic:
		if i.Atomic >= atomicEnd {
			return c.fail("invalid atomic operation")
		}
		if err := c.counts(1, 1+i.Atomic.Operands()); err != nil {
			return err
		}
		if i.Type != TypeS32 && i.Type != TypeU32 {
			return c.fail("atomics are only defined on 32-bit integers")
		}
		if i.Space != SpaceGlobal && i.Space != SpaceLocal {
			return c.fail("atomics are only defined on global and local memory")
		}
		return c.registers(append(i.Dst[:1:1], i.Src...), FamilyDWord)
	case OpcodeSample:
		if len(i.Dst) != 4 || len(i.Src) < 1 || len(i.Src) > 3 {
			return c.fail("sample returns 4 channels from 1 to 3 coordinates")
		}
		if err := c.image(); err != nil {
			return err
		}
		if int(i.Sampler) >= len(fn.Samplers) {
			return c.fail("out-of-bound sampler index %d", i.Sampler)
		}
		if !i.SrcType.Valid() || i.Type.Family() != FamilyDWord || i.SrcType.Family() != FamilyDWord {
			return c.fail("sample operates on 32-bit values")
		}
		if err := c.registers(i.Dst, FamilyDWord); err != nil {
			return err
		}
		return c.registers(i.Src, FamilyDWord)
	case OpcodeTypedWrite:
		if len(i.Dst) != 0 || len(i.Src) < 5 || len(i.Src) > 7 {
			return c.fail("typed write takes 1 to 3 coordinates and 4 channels")
		}
		if i.Type.Family() != FamilyDWord {
			return c.fail("typed write operates on 32-bit values")
		}
		if err := c.image(); err != nil {
			return err
		}
		return c.registers(i.Src, FamilyDWord)
	case OpcodeGetImageInfo:
		if err := c.counts(1, 0); err != nil {
			return err
		}
		if i.Info > ImageDepth {
			return c.fail("invalid image info %d", i.Info)
		}
		if err := c.image(); err != nil {
			return err
		}
		return c.register(i.Dst[0], FamilyDWord)
	case OpcodeSync:
		if i.Sync == 0 || i.Sync&^(SyncLocalBarrier|SyncLocalFence|SyncGlobalFence) != 0 {
			return c.fail("invalid sync flags %#x", byte(i.Sync))
		}
		return c.counts(0, 0)
	case OpcodeLabel:
		if int(i.Label) >= fn.NumLabels() {
			return c.fail("out-of-bound label index %d", i.Label)
		}
		return c.counts(0, 0)
	case OpcodeBra:
		if int(i.Label) >= fn.NumLabels() {
			return c.fail("out-of-bound label index %d", i.Label)
		}
		if len(i.Dst) != 0 || len(i.Src) > 1 {
			return c.fail("branch takes at most a predicate")
		}
		return c.registers(i.Src, FamilyBool)
	case OpcodeRet:
		return c.counts(0, 0)
	}
	panic(fmt.Sprintf("BUG: unhandled opcode %s", i.Opcode))
}
