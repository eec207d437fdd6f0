package backend

import (
	"fmt"
	"strings"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
	"github.com/gbe-go/gbe/ir"
)

type (
	// instruction is a selection instruction: a native instruction, or a short native sequence, whose
	// operands are still virtual registers until register allocation is done.
	//
	// Each field is interpreted depending on the kind.
	instruction struct {
		kind       instructionKind
		prev, next *instruction
		// state is the encoder state the instruction is emitted with.
		state encoder.State

		op      encoder.Opcode
		cond    encoder.CondMod
		math    encoder.MathFunction
		atomic  encoder.AtomicOp
		bti     uint32
		sampler uint32
		// elems is the number of values of a message, or the byte size of gathered values.
		elems int
		label ir.LabelIndex
		imm   uint64
		// offset is the scratch location of spill code, in registers.
		offset int
		ld     bool
		// partial is true when the instruction writes only some lanes of destinations whose other
		// lanes stay live.
		partial bool

		dst  [4]operand
		ndst int
		src  [8]operand
		nsrc int
		tmp  [2]operand
		ntmp int

		// addedAfterRegAlloc is true for the spill code inserted by the allocator.
		addedAfterRegAlloc bool
		fn                 *function
		blk                *block
	}

	// instructionKind represents the kind of instruction.
	// This controls how the instruction struct is interpreted.
	instructionKind byte
)

const (
	kindInvalid instructionKind = iota
	// kindLabel starts a block.
	kindLabel
	// kindUnary is one-source ALU op: dst = op(src0).
	kindUnary
	// kindBinary is two-source ALU op: dst = src0 op src1.
	kindBinary
	// kindMad is dst = src0 * src1 + src2.
	kindMad
	// kindMulHi is the high 32 bits of src0 * src1, computed 8 lanes at a time through the accumulator.
	kindMulHi
	// kindMath is the extended math function math.
	kindMath
	// kindCmp compares src0 to src1 into the flag register, and into the mask dst unless it is null.
	kindCmp
	// kindSelCmp is dst = src0 cond src1 ? src0 : src1.
	kindSelCmp
	// kindJmpi jumps to label under the predicate of state.
	kindJmpi
	// kindEOT ends the thread.
	kindEOT
	kindNop
	// kindWait waits for the notification of a barrier.
	kindWait
	kindBarrier
	kindFence
	// kindUntypedRead reads elems dwords per lane at the address src0 into dst.
	kindUntypedRead
	// kindUntypedWrite writes the elems dwords src1... at the address src0.
	kindUntypedWrite
	// kindRead64 reads the 64-bit dst at the address src0.
	kindRead64
	// kindWrite64 writes the 64-bit src1 at the address src0.
	kindWrite64
	// kindByteGather reads a value of elems bytes at the unaligned address src0.
	kindByteGather
	// kindByteScatter writes a value src1 of elems bytes at the unaligned address src0.
	kindByteScatter
	// kindDwordGather reads a dword through the constant cache at the address src0.
	kindDwordGather
	// kindAtomic applies atomic at the address src0 with the operands src1...
	kindAtomic
	// kindSample samples 4 channels into dst at the elems coordinates src, or reads the texel at
	// integer coordinates when ld is set.
	kindSample
	// kindTypedWrite writes the 4 channels src[elems:] at the elems integer coordinates src.
	kindTypedWrite
	// kindGetImageInfo reads the dimension elems of the surface bti into dst.
	kindGetImageInfo
	// kindSpill stores the register src0 of elems registers at the scratch offset.
	kindSpill
	// kindUnspill loads the register dst0 of elems registers from the scratch offset.
	kindUnspill
	// kindLoadDFImm broadcasts the double of bits imm into dst.
	kindLoadDFImm
	// kindLoadInt64Imm broadcasts the 64-bit integer imm into dst.
	kindLoadInt64Imm
	kindI64Add
	kindI64Sub
	// kindI64Mul uses tmp0 as scratch.
	kindI64Mul
	// kindI64MulHi uses tmp0 and tmp1 as scratch.
	kindI64MulHi
	numInstructionKinds
)

var kindNames = [numInstructionKinds]string{
	kindInvalid:      "invalid",
	kindLabel:        "label",
	kindUnary:        "unary",
	kindBinary:       "binary",
	kindMad:          "mad",
	kindMulHi:        "mul_hi",
	kindMath:         "math",
	kindCmp:          "cmp",
	kindSelCmp:       "sel_cmp",
	kindJmpi:         "jmpi",
	kindEOT:          "eot",
	kindNop:          "nop",
	kindWait:         "wait",
	kindBarrier:      "barrier",
	kindFence:        "fence",
	kindUntypedRead:  "untyped_read",
	kindUntypedWrite: "untyped_write",
	kindRead64:       "read64",
	kindWrite64:      "write64",
	kindByteGather:   "byte_gather",
	kindByteScatter:  "byte_scatter",
	kindDwordGather:  "dword_gather",
	kindAtomic:       "atomic",
	kindSample:       "sample",
	kindTypedWrite:   "typed_write",
	kindGetImageInfo: "get_image_info",
	kindSpill:        "spill",
	kindUnspill:      "unspill",
	kindLoadDFImm:    "load_df_imm",
	kindLoadInt64Imm: "load_int64_imm",
	kindI64Add:       "i64_add",
	kindI64Sub:       "i64_sub",
	kindI64Mul:       "i64_mul",
	kindI64MulHi:     "i64_mul_hi",
}

// String implements fmt.Stringer.
func (k instructionKind) String() string {
	if k < numInstructionKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

type operandKind byte

const (
	operandKindNone operandKind = iota
	// operandKindVReg is a virtual register, which becomes a GRF vector once allocated.
	operandKindVReg
	// operandKindReg is a fixed register or an immediate.
	operandKindReg
)

// operand is an operand of a selection instruction.
type operand struct {
	kind     operandKind
	v        regalloc.VReg
	typ      encoder.ElemType
	reg      encoder.Reg
	neg, abs bool
}

func operandVReg(v regalloc.VReg, typ encoder.ElemType) operand {
	return operand{kind: operandKindVReg, v: v, typ: typ}
}

func operandReg(r encoder.Reg) operand {
	return operand{kind: operandKindReg, reg: r, typ: r.Type}
}

func (o operand) isImm() bool {
	return o.kind == operandKindReg && o.reg.IsImm()
}

func (o operand) isVReg() bool {
	return o.kind == operandKindVReg
}

func (o operand) withType(t encoder.ElemType) operand {
	o.typ = t
	o.reg.Type = t
	return o
}

func (o operand) negated() operand {
	o.neg = !o.neg
	return o
}

// nr returns the register of an operand.
func (o operand) nr() encoder.Reg {
	var r encoder.Reg
	switch o.kind {
	case operandKindVReg:
		if !o.v.IsRealReg() {
			panic(fmt.Sprintf("BUG: %s is not allocated", o.v))
		}
		r = encoder.Vec(int(o.v.RealReg()), o.typ)
	case operandKindReg:
		r = o.reg
	default:
		r = encoder.Null(o.typ)
	}
	if o.neg {
		r = r.Neg()
	}
	if o.abs {
		r = r.AbsOf()
	}
	return r
}

func (o operand) assignReg(v regalloc.VReg) operand {
	if o.kind != operandKindVReg || o.v.ID() != v.ID() {
		panic(fmt.Sprintf("BUG: assigning %s to %s", v, o))
	}
	o.v = v
	return o
}

// String implements fmt.Stringer.
func (o operand) String() string {
	var s string
	switch o.kind {
	case operandKindVReg:
		if o.v.IsRealReg() {
			s = fmt.Sprintf("r%d:%s", o.v.RealReg(), o.typ)
		} else {
			s = fmt.Sprintf("v%d:%s", o.v.ID(), o.typ)
		}
	case operandKindReg:
		return o.nr().String()
	default:
		return "_"
	}
	if o.abs {
		s = "(abs)" + s
	}
	if o.neg {
		s = "-" + s
	}
	return s
}

type defKind byte

const (
	defKindNone defKind = iota + 1
	// defKindDst defines the destinations.
	defKindDst
	// defKindDstTmp defines the destinations and the temporaries.
	defKindDstTmp
)

var defKinds = [numInstructionKinds]defKind{
	kindLabel:        defKindNone,
	kindUnary:        defKindDst,
	kindBinary:       defKindDst,
	kindMad:          defKindDst,
	kindMulHi:        defKindDst,
	kindMath:         defKindDst,
	kindCmp:          defKindDst,
	kindSelCmp:       defKindDst,
	kindJmpi:         defKindNone,
	kindEOT:          defKindNone,
	kindNop:          defKindNone,
	kindWait:         defKindNone,
	kindBarrier:      defKindNone,
	kindFence:        defKindNone,
	kindUntypedRead:  defKindDst,
	kindUntypedWrite: defKindNone,
	kindRead64:       defKindDst,
	kindWrite64:      defKindNone,
	kindByteGather:   defKindDst,
	kindByteScatter:  defKindNone,
	kindDwordGather:  defKindDst,
	kindAtomic:       defKindDst,
	kindSample:       defKindDst,
	kindTypedWrite:   defKindNone,
	kindGetImageInfo: defKindDst,
	kindSpill:        defKindNone,
	kindUnspill:      defKindNone,
	kindLoadDFImm:    defKindDst,
	kindLoadInt64Imm: defKindDst,
	kindI64Add:       defKindDst,
	kindI64Sub:       defKindDst,
	kindI64Mul:       defKindDstTmp,
	kindI64MulHi:     defKindDstTmp,
}

type useKind byte

const (
	useKindNone useKind = iota + 1
	// useKindSrc uses the sources.
	useKindSrc
)

var useKinds = [numInstructionKinds]useKind{
	kindLabel:        useKindNone,
	kindUnary:        useKindSrc,
	kindBinary:       useKindSrc,
	kindMad:          useKindSrc,
	kindMulHi:        useKindSrc,
	kindMath:         useKindSrc,
	kindCmp:          useKindSrc,
	kindSelCmp:       useKindSrc,
	kindJmpi:         useKindNone,
	kindEOT:          useKindNone,
	kindNop:          useKindNone,
	kindWait:         useKindNone,
	kindBarrier:      useKindNone,
	kindFence:        useKindNone,
	kindUntypedRead:  useKindSrc,
	kindUntypedWrite: useKindSrc,
	kindRead64:       useKindSrc,
	kindWrite64:      useKindSrc,
	kindByteGather:   useKindSrc,
	kindByteScatter:  useKindSrc,
	kindDwordGather:  useKindSrc,
	kindAtomic:       useKindSrc,
	kindSample:       useKindSrc,
	kindTypedWrite:   useKindSrc,
	kindGetImageInfo: useKindNone,
	kindSpill:        useKindNone,
	kindUnspill:      useKindNone,
	kindLoadDFImm:    useKindNone,
	kindLoadInt64Imm: useKindNone,
	kindI64Add:       useKindSrc,
	kindI64Sub:       useKindSrc,
	kindI64Mul:       useKindSrc,
	kindI64MulHi:     useKindSrc,
}

// defs appends the virtual registers defined by the instruction to regs.
func (i *instruction) defs(regs []regalloc.VReg) []regalloc.VReg {
	switch defKinds[i.kind] {
	case defKindNone:
	case defKindDst:
		regs = appendVRegs(regs, i.dst[:i.ndst])
	case defKindDstTmp:
		regs = appendVRegs(regs, i.dst[:i.ndst])
		regs = appendVRegs(regs, i.tmp[:i.ntmp])
	default:
		panic(fmt.Sprintf("defKind for %v not defined", i))
	}
	return regs
}

// uses appends the virtual registers used by the instruction to regs.
func (i *instruction) uses(regs []regalloc.VReg) []regalloc.VReg {
	switch useKinds[i.kind] {
	case useKindNone:
	case useKindSrc:
		regs = appendVRegs(regs, i.src[:i.nsrc])
	default:
		panic(fmt.Sprintf("useKind for %v not defined", i))
	}
	if i.readsDst() {
		regs = appendVRegs(regs, i.dst[:i.ndst])
	}
	return regs
}

// readsDst returns true when the lanes left untouched by the instruction keep a value of its
// destinations: the destinations are then live before it.
func (i *instruction) readsDst() bool {
	return i.partial && defKinds[i.kind] != defKindNone
}

func appendVRegs(regs []regalloc.VReg, ops []operand) []regalloc.VReg {
	for _, o := range ops {
		if o.isVReg() {
			regs = append(regs, o.v)
		}
	}
	return regs
}

func (i *instruction) assignDefs(regs []regalloc.VReg) {
	switch defKinds[i.kind] {
	case defKindNone:
	case defKindDst:
		regs = assignVRegs(regs, i.dst[:i.ndst])
	case defKindDstTmp:
		regs = assignVRegs(regs, i.dst[:i.ndst])
		regs = assignVRegs(regs, i.tmp[:i.ntmp])
	default:
		panic(fmt.Sprintf("defKind for %v not defined", i))
	}
	if len(regs) != 0 {
		panic(fmt.Sprintf("BUG: %d extra definitions assigned to %v", len(regs), i))
	}
}

func (i *instruction) assignUses(regs []regalloc.VReg) {
	switch useKinds[i.kind] {
	case useKindNone:
	case useKindSrc:
		regs = assignVRegs(regs, i.src[:i.nsrc])
	default:
		panic(fmt.Sprintf("useKind for %v not defined", i))
	}
	if i.readsDst() {
		regs = assignVRegs(regs, i.dst[:i.ndst])
	}
	if len(regs) != 0 {
		panic(fmt.Sprintf("BUG: %d extra uses assigned to %v", len(regs), i))
	}
}

func assignVRegs(regs []regalloc.VReg, ops []operand) []regalloc.VReg {
	for j := range ops {
		if ops[j].isVReg() {
			ops[j] = ops[j].assignReg(regs[0])
			regs = regs[1:]
		}
	}
	return regs
}

// isCopy returns true for a plain move between two virtual registers of the same type.
func (i *instruction) isCopy() bool {
	return i.kind == kindUnary && i.op == encoder.OpMov && i.state.Predicate == encoder.PredicateNone &&
		i.dst[0].isVReg() && i.src[0].isVReg() && i.dst[0].typ == i.src[0].typ &&
		!i.src[0].neg && !i.src[0].abs
}

// earlyClobber returns true unless the instruction is a single native ALU word, or a split of one,
// reading each lane of its sources before writing the same lane of its destination.
func (i *instruction) earlyClobber() bool {
	switch i.kind {
	case kindUnary, kindBinary, kindCmp, kindSelCmp, kindMad, kindMath:
		if i.readsDst() {
			// The lanes not written keep the value of the destination.
			return true
		}
		d := i.dst[0]
		if d.typ.Size() == 8 {
			return true
		}
		for _, s := range i.src[:i.nsrc] {
			if s.typ.Size() != d.typ.Size() || s.typ.Size() == 8 {
				return true
			}
		}
		return i.math.IsIntDiv()
	}
	return true
}

// String implements fmt.Stringer.
func (i *instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.kind.String())
	switch i.kind {
	case kindLabel, kindJmpi:
		fmt.Fprintf(&sb, " L%d", i.label)
		if i.kind == kindJmpi && i.state.Predicate != encoder.PredicateNone {
			sb.WriteString(" (pred)")
		}
		return sb.String()
	case kindUnary, kindBinary:
		sb.WriteString("." + i.op.String())
	case kindCmp, kindSelCmp:
		sb.WriteString("." + i.cond.String())
	case kindMath:
		sb.WriteString("." + i.math.String())
	case kindSpill, kindUnspill:
		fmt.Fprintf(&sb, " @%d", i.offset)
	}
	if i.state.Predicate != encoder.PredicateNone {
		sb.WriteString(" (pred)")
	}
	if i.partial {
		sb.WriteString(" (partial)")
	}
	sep := " "
	for _, ops := range [][]operand{i.dst[:i.ndst], i.src[:i.nsrc], i.tmp[:i.ntmp]} {
		for _, o := range ops {
			sb.WriteString(sep)
			sb.WriteString(o.String())
			sep = ", "
		}
	}
	return sb.String()
}

// Defs implements regalloc.Instr.
func (i *instruction) Defs() []regalloc.VReg {
	i.fn.vs = i.defs(i.fn.vs[:0])
	return i.fn.vs
}

// Uses implements regalloc.Instr.
func (i *instruction) Uses() []regalloc.VReg {
	i.fn.vs = i.uses(i.fn.vs[:0])
	return i.fn.vs
}

// AssignDefs implements regalloc.Instr.
func (i *instruction) AssignDefs(regs []regalloc.VReg) { i.assignDefs(regs) }

// AssignUses implements regalloc.Instr.
func (i *instruction) AssignUses(regs []regalloc.VReg) { i.assignUses(regs) }

// IsCopy implements regalloc.Instr.
func (i *instruction) IsCopy() bool { return i.isCopy() }

// EarlyClobber implements regalloc.Instr.
func (i *instruction) EarlyClobber() bool { return i.earlyClobber() }

var _ regalloc.Instr = (*instruction)(nil)
