package backend

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
	"github.com/gbe-go/gbe/ir"
)

// Binding table indices of the address spaces. Private memory lives in the global buffer.
const (
	btiGlobal   = 0
	btiConstant = 2
	btiLocal    = 0xfe
)

// regInfo is what the selector knows about an IR register.
type regInfo struct {
	// fixed is true for the registers living in the curbe, and for the stack pointer.
	fixed bool
	reg   encoder.Reg
	v     regalloc.VReg
	// structure is true for by-value structure arguments, which have no register.
	structure bool

	defs  int
	loadi bool
	imm   ir.Immediate
	// anchor is the instruction after which a known immediate is moved into its register on its
	// first use which cannot take an immediate.
	anchor       *instruction
	materialized bool
}

// knownImm returns true if the only definition of the register loads an immediate.
func (r *regInfo) knownImm() bool {
	return r.loadi && r.defs == 1
}

// selector lowers an IR function into the selection instructions of a function.
type selector struct {
	f     *function
	fn    *ir.Function
	curbe *curbe
	// limited is true when the function is re-selected after running out of registers: known
	// immediates are then moved into a fresh register before each use instead of once. Uses laid
	// out before the immediate is loaded are always handled that way.
	limited bool
	regs    []regInfo
	// blocks maps the labels to their block. The extra last label is the return block.
	blocks []*block
	cur    *block

	// masked is true when a conditional branch lets lanes diverge.
	masked bool
	// blockIndex maps the labels to the position of their block, known before the blocks exist.
	blockIndex []int
	// global marks the IR registers whose lanes must survive blocks in which they are inactive.
	global []bool
	// globalVRegs holds the virtual registers of the global IR registers.
	globalVRegs map[regalloc.VRegID]bool
}

func familySize(f ir.Family) int {
	switch f {
	case ir.FamilyByte:
		return 1
	case ir.FamilyWord:
		return 2
	case ir.FamilyQWord:
		return 8
	default:
		return 4
	}
}

var elemTypes = [...]encoder.ElemType{
	ir.TypeBool:   encoder.TypeD,
	ir.TypeS8:     encoder.TypeB,
	ir.TypeU8:     encoder.TypeUB,
	ir.TypeS16:    encoder.TypeW,
	ir.TypeU16:    encoder.TypeUW,
	ir.TypeS32:    encoder.TypeD,
	ir.TypeU32:    encoder.TypeUD,
	ir.TypeS64:    encoder.TypeQ,
	ir.TypeU64:    encoder.TypeUQ,
	ir.TypeFloat:  encoder.TypeF,
	ir.TypeDouble: encoder.TypeDF,
}

func elemType(t ir.Type) encoder.ElemType {
	return elemTypes[t]
}

func malformed(ins *ir.Instruction, format string, args ...interface{}) {
	e := &api.MalformedInstructionError{Reason: fmt.Sprintf(format, args...)}
	if ins != nil {
		e.Instruction = ins.String()
	}
	panic(e)
}

func unimplemented(format string, args ...interface{}) {
	panic(&api.UnimplementedError{What: fmt.Sprintf(format, args...)})
}

// immReg returns imm as an immediate operand of type t, which must be at most 32 bits wide.
// Booleans are masks: true is all ones.
func immReg(imm ir.Immediate, t encoder.ElemType) encoder.Reg {
	v := imm.Bits
	if imm.Type == ir.TypeBool && v != 0 {
		v = math.MaxUint32
	}
	switch t {
	case encoder.TypeD:
		return encoder.ImmD(int32(uint32(v)))
	case encoder.TypeUD:
		return encoder.ImmUD(uint32(v))
	case encoder.TypeW:
		return encoder.ImmW(int16(v))
	case encoder.TypeB:
		return encoder.ImmW(int16(int8(v)))
	case encoder.TypeUW:
		return encoder.ImmUW(uint16(v))
	case encoder.TypeUB:
		return encoder.ImmUW(uint16(uint8(v)))
	case encoder.TypeF:
		return encoder.ImmF(math.Float32frombits(uint32(v)))
	}
	panic(fmt.Sprintf("BUG: no immediate of type %s", t))
}

// negImm returns the immediate -r.
func negImm(r encoder.Reg) encoder.Reg {
	switch r.Type {
	case encoder.TypeD, encoder.TypeUD:
		r.Imm = uint64(-uint32(r.Imm))
	case encoder.TypeW, encoder.TypeUW:
		n := uint64(-uint16(r.Imm))
		r.Imm = n | n<<16
	case encoder.TypeF:
		r.Imm ^= 1 << 31
	default:
		panic(fmt.Sprintf("BUG: cannot negate %s", r))
	}
	return r
}

func newSelector(f *function, fn *ir.Function, limited bool) *selector {
	return &selector{f: f, fn: fn, limited: limited}
}

// selectFunction lowers every block of the IR function, followed by the return block.
func (s *selector) selectFunction() {
	fn := s.fn
	s.regs = make([]regInfo, fn.NumRegisters())
	referenced := make([]bool, fn.NumRegisters())
	for _, b := range fn.Blocks {
		for _, ins := range b.Instrs {
			for _, r := range ins.Dst {
				info := &s.regs[r]
				info.defs++
				if ins.Opcode == ir.OpcodeLoadi {
					info.loadi, info.imm = true, fn.Immediates[ins.Immediate]
				}
				referenced[r] = true
			}
			for _, r := range ins.Src {
				referenced[r] = true
			}
		}
	}

	s.curbe = layoutCurbe(fn, s.f.simdWidth, func(r ir.Register) bool { return referenced[r] })
	for r, reg := range s.curbe.fixed {
		info := &s.regs[r]
		info.loadi = false
		if r == ir.RegStackPointer || info.defs == 0 {
			info.fixed, info.reg = true, reg
		}
	}
	for _, arg := range fn.Args {
		if arg.Type == api.ArgStructure {
			s.regs[arg.Reg].structure = true
		}
	}

	s.indexBlocks()
	s.blocks = make([]*block, fn.NumLabels()+1)
	for i, b := range fn.Blocks {
		s.cur = s.f.newBlock(b.Label)
		s.blocks[b.Label] = s.cur
		if s.masked {
			s.blockHead()
		}
		if i == 0 {
			s.copyWrittenArguments()
		}
		for _, ins := range b.Instrs {
			if ins.Opcode == ir.OpcodeLabel {
				continue
			}
			if genapi.SelectionLoggingEnabled {
				fmt.Printf("[%s] lowering %s\n", fn.Name, ins)
			}
			s.lower(ins)
		}
		if s.masked && b.Terminator() == nil {
			s.setBlockIP(s.cur.id + 1)
		}
	}
	ret := s.f.newBlock(s.returnLabel())
	s.blocks[s.returnLabel()] = ret
	ret.append(s.f.allocateInstruction(kindEOT))

	if s.masked {
		s.maskBlocks()
	}
	s.linkBlocks()
}

// indexBlocks numbers the blocks in program order, and decides whether lanes may diverge.
func (s *selector) indexBlocks() {
	fn := s.fn
	s.blockIndex = make([]int, fn.NumLabels()+1)
	for l := range s.blockIndex {
		s.blockIndex[l] = -1
	}
	s.masked = false
	for i, b := range fn.Blocks {
		s.blockIndex[b.Label] = i
		if term := b.Terminator(); term != nil && term.Opcode == ir.OpcodeBra && len(term.Src) > 0 {
			s.masked = true
		}
	}
	s.blockIndex[s.returnLabel()] = len(fn.Blocks)
	s.f.masked = s.masked
	if s.masked {
		s.markGlobals()
	}
}

// markGlobals finds the registers referenced by more than one block, or read in a block before
// being written there. The other registers only live while their block runs.
func (s *selector) markGlobals() {
	fn := s.fn
	s.global = make([]bool, fn.NumRegisters())
	s.globalVRegs = map[regalloc.VRegID]bool{}
	// home is one plus the block of the first reference, defined one plus the block of the last
	// definition.
	home := make([]int, fn.NumRegisters())
	defined := make([]int, fn.NumRegisters())
	ref := func(r ir.Register, bi int) {
		switch home[r] {
		case 0:
			home[r] = bi + 1
		case bi + 1:
		default:
			s.global[r] = true
		}
	}
	for bi, b := range fn.Blocks {
		for _, ins := range b.Instrs {
			for _, r := range ins.Src {
				ref(r, bi)
				if defined[r] != bi+1 {
					s.global[r] = true
				}
			}
			for _, r := range ins.Dst {
				ref(r, bi)
				defined[r] = bi + 1
			}
		}
	}
}

// blockHead sets the block mask f0.1 to the lanes whose block ip is the current block.
func (s *selector) blockHead() {
	s.blockCmp(encoder.CondEQ, s.cur.id)
}

// blockCmp compares the block ip of every lane to the block n into f0.1.
func (s *selector) blockCmp(cond encoder.CondMod, n int) {
	i := s.newInstr(kindCmp)
	i.cond = cond
	i.dst[0], i.ndst = nullOperand(encoder.TypeUW), 1
	i.src[0], i.src[1], i.nsrc = operandReg(blockIP()), operandReg(encoder.ImmUW(uint16(n))), 2
	i.state.NoMask, i.state.FlagSubNr = true, 1
}

// setBlockIP sends the lanes of the block mask to the block n.
func (s *selector) setBlockIP(n int) {
	s.unary(encoder.OpMov, operandReg(blockIP()), operandReg(encoder.ImmUW(uint16(n))))
}

// goTo sends the lanes of the block mask to the block of l. The thread jumps there when no lane
// waits for a block in between, or when going back, as soon as a lane needs l.
func (s *selector) goTo(l ir.LabelIndex) {
	k, t := s.cur.id, s.blockIndex[l]
	if t < 0 {
		malformed(nil, "branch to the undefined label $%d", l)
	}
	s.setBlockIP(t)
	if t == k+1 {
		return
	}
	backward := t <= k
	if backward {
		s.blockCmp(encoder.CondEQ, t)
	} else {
		s.blockCmp(encoder.CondLT, t)
	}
	j := s.newInstr(kindJmpi)
	j.label = l
	j.state.Predicate, j.state.Inverse, j.state.FlagSubNr = s.anyPredicate(), !backward, 1
}

// anyPredicate returns the predicate holding when any lane of the kernel has its flag bit set.
func (s *selector) anyPredicate() encoder.PredicateMode {
	if s.f.simdWidth == 16 {
		return encoder.PredicateAny16H
	}
	return encoder.PredicateAny8H
}

// maskBlocks predicates the instructions of every block with the block mask. The instructions
// whose flag is taken, and the thread-wide ones, are left alone. The writes of global registers
// become partial.
func (s *selector) maskBlocks() {
	for _, b := range s.f.blocks[:len(s.f.blocks)-1] {
		for i := b.root.next; i != nil; i = i.next {
			if i.state.Predicate != encoder.PredicateNone || i.state.NoMask {
				continue
			}
			switch i.kind {
			case kindCmp, kindSelCmp, kindJmpi, kindNop, kindWait, kindBarrier, kindFence:
				continue
			case kindLoadDFImm, kindLoadInt64Imm:
				// Immediate broadcasts write every lane: a shared destination is written through a
				// temporary.
				if d := i.dst[0]; !d.isVReg() || s.globalVRegs[d.v.ID()] {
					tmp := operandVReg(s.f.allocateVReg(d.typ.Size()), d.typ)
					mov := s.f.allocateInstruction(kindUnary)
					mov.op = encoder.OpMov
					mov.dst[0], mov.ndst = d, 1
					mov.src[0], mov.nsrc = tmp, 1
					b.insertAfter(i, mov)
					i.dst[0] = tmp
				}
			}
			i.state.Predicate, i.state.FlagSubNr = encoder.PredicateNormal, 1
			for _, d := range i.dst[:i.ndst] {
				if d.isVReg() && s.globalVRegs[d.v.ID()] {
					i.partial = true
				}
			}
		}
	}
}

func (s *selector) returnLabel() ir.LabelIndex {
	return ir.LabelIndex(s.fn.NumLabels())
}

// copyWrittenArguments moves the arguments which are redefined by the function into registers.
func (s *selector) copyWrittenArguments() {
	for _, arg := range s.fn.Args {
		info := &s.regs[arg.Reg]
		if info.structure || info.fixed || info.defs == 0 {
			continue
		}
		reg := s.curbe.fixed[arg.Reg]
		s.unary(encoder.OpMov, operandVReg(s.vreg(arg.Reg), reg.Type), operandReg(reg))
	}
}

// linkBlocks sets the successors of every block from the terminator of its IR block. When lanes
// diverge, the thread may also run the next block for the lanes waiting there.
func (s *selector) linkBlocks() {
	for i, b := range s.fn.Blocks {
		blk := s.f.blocks[i]
		next := s.f.blocks[i+1]
		term := b.Terminator()
		switch {
		case term == nil:
			blk.addSucc(next)
		case term.Opcode == ir.OpcodeRet:
			blk.addSucc(s.blocks[s.returnLabel()])
		default:
			blk.addSucc(s.blocks[term.Label])
			if len(term.Src) > 0 {
				blk.addSucc(next)
			}
		}
		if s.masked {
			blk.addSucc(next)
		}
	}
}

func (s *selector) vreg(r ir.Register) regalloc.VReg {
	info := &s.regs[r]
	if !info.v.Valid() {
		info.v = s.f.allocateVReg(familySize(s.fn.Family(r)))
		if s.masked && s.global[r] {
			s.globalVRegs[info.v.ID()] = true
		}
	}
	return info.v
}

// viaTemp returns where an instruction that cannot run under the block mask writes dst: a
// temporary when the blocks are masked, committed to dst by commit.
func (s *selector) viaTemp(dst operand) operand {
	if !s.masked {
		return dst
	}
	return operandVReg(s.f.allocateVReg(dst.typ.Size()), dst.typ)
}

// commit moves a temporary returned by viaTemp into dst.
func (s *selector) commit(dst, tmp operand) {
	if s.masked {
		s.unary(encoder.OpMov, dst, tmp)
	}
}

// def returns the operand writing r as elements of t.
func (s *selector) def(r ir.Register, t encoder.ElemType) operand {
	if info := &s.regs[r]; info.fixed {
		return operandReg(info.reg.Retype(t))
	}
	return operandVReg(s.vreg(r), t)
}

// use returns the operand reading r as elements of t, in a register.
func (s *selector) use(r ir.Register, t encoder.ElemType) operand {
	info := &s.regs[r]
	switch {
	case info.fixed:
		return operandReg(info.reg.Retype(t))
	case info.structure:
		unimplemented("reading the structure argument %s", r)
	case info.knownImm() && (s.limited || info.anchor == nil):
		v := operandVReg(s.f.allocateVReg(t.Size()), t)
		s.cur.append(s.materialize(v, info.imm))
		return v
	case info.knownImm() && !info.materialized:
		dst := operandVReg(s.vreg(r), elemType(info.imm.Type))
		info.anchor.blk.insertAfter(info.anchor, s.materialize(dst, info.imm))
		info.materialized = true
	}
	return operandVReg(s.vreg(r), t)
}

// useOrImm returns r as an immediate when it is a known immediate of at most 32 bits, and reads it
// from a register otherwise.
func (s *selector) useOrImm(r ir.Register, t encoder.ElemType) operand {
	if info := &s.regs[r]; info.knownImm() && t.Size() <= 4 {
		return operandReg(immReg(info.imm, t))
	}
	return s.use(r, t)
}

// immValue returns the value of r if it is a known integer immediate.
func (s *selector) immValue(r ir.Register) (uint64, bool) {
	info := &s.regs[r]
	if !info.knownImm() || info.imm.Type.IsFloat() {
		return 0, false
	}
	return info.imm.Bits, true
}

// materialize returns an instruction moving imm into dst.
func (s *selector) materialize(dst operand, imm ir.Immediate) *instruction {
	switch imm.Type {
	case ir.TypeS64, ir.TypeU64:
		i := s.f.allocateInstruction(kindLoadInt64Imm)
		i.dst[0], i.ndst = dst.withType(elemType(imm.Type)), 1
		i.imm = imm.Bits
		return i
	case ir.TypeDouble:
		i := s.f.allocateInstruction(kindLoadDFImm)
		i.dst[0], i.ndst = dst.withType(encoder.TypeDF), 1
		i.imm = imm.Bits
		return i
	}
	i := s.f.allocateInstruction(kindUnary)
	i.op = encoder.OpMov
	i.dst[0], i.ndst = dst, 1
	i.src[0], i.nsrc = operandReg(immReg(imm, dst.typ)), 1
	return i
}

func (s *selector) newInstr(kind instructionKind) *instruction {
	i := s.f.allocateInstruction(kind)
	s.cur.append(i)
	return i
}

func (s *selector) unary(op encoder.Opcode, dst, src operand) *instruction {
	i := s.newInstr(kindUnary)
	i.op = op
	i.dst[0], i.ndst = dst, 1
	i.src[0], i.nsrc = src, 1
	return i
}

func (s *selector) binary(op encoder.Opcode, dst, x, y operand) *instruction {
	i := s.newInstr(kindBinary)
	i.op = op
	i.dst[0], i.ndst = dst, 1
	i.src[0], i.src[1], i.nsrc = x, y, 2
	return i
}

func (s *selector) math(fn encoder.MathFunction, dst operand, srcs ...operand) {
	i := s.newInstr(kindMath)
	i.math = fn
	i.dst[0], i.ndst = dst, 1
	i.nsrc = copy(i.src[:], srcs)
}

func (s *selector) cmp(cond encoder.CondMod, dst, x, y operand) {
	i := s.newInstr(kindCmp)
	i.cond = cond
	i.dst[0], i.ndst = dst, 1
	i.src[0], i.src[1], i.nsrc = x, y, 2
}

func nullOperand(t encoder.ElemType) operand {
	return operand{typ: t}
}

func (s *selector) lower(ins *ir.Instruction) {
	switch op := ins.Opcode; {
	case op.IsUnary():
		s.lowerUnary(ins)
	case op.IsBinary():
		s.lowerBinary(ins)
	case op.IsCompare():
		s.lowerCompare(ins)
	default:
		switch op {
		case ir.OpcodeMad:
			t := elemType(ins.Type)
			i := s.newInstr(kindMad)
			i.dst[0], i.ndst = s.def(ins.Dst[0], t), 1
			// The hardware computes src0 + src1 * src2.
			i.src[0] = s.use(ins.Src[2], t)
			i.src[1] = s.use(ins.Src[0], t)
			i.src[2] = s.use(ins.Src[1], t)
			i.nsrc = 3
		case ir.OpcodeSel:
			s.lowerSelect(ins)
		case ir.OpcodeCvt:
			s.lowerConvert(ins)
		case ir.OpcodeLoadi:
			s.lowerLoadImm(ins)
		case ir.OpcodeLoad:
			s.lowerLoad(ins)
		case ir.OpcodeStore:
			s.lowerStore(ins)
		case ir.OpcodeAtomic:
			s.lowerAtomic(ins)
		case ir.OpcodeSample:
			s.lowerSample(ins)
		case ir.OpcodeTypedWrite:
			s.lowerTypedWrite(ins)
		case ir.OpcodeGetImageInfo:
			i := s.newInstr(kindGetImageInfo)
			i.dst[0], i.ndst = s.def(ins.Dst[0], encoder.TypeD), 1
			i.elems = int(ins.Info)
			i.bti = s.imageSlot(ins)
		case ir.OpcodeSync:
			s.lowerSync(ins)
		case ir.OpcodeBra:
			s.lowerBranch(ins)
		case ir.OpcodeRet:
			s.lowerRet()
		default:
			malformed(ins, "cannot select %s", op)
		}
	}
}

var mathFunctions = map[ir.Opcode]encoder.MathFunction{
	ir.OpcodeCos:  encoder.MathCos,
	ir.OpcodeSin:  encoder.MathSin,
	ir.OpcodeLog:  encoder.MathLog,
	ir.OpcodeExp:  encoder.MathExp,
	ir.OpcodeSqrt: encoder.MathSqrt,
	ir.OpcodeRsq:  encoder.MathRsq,
	ir.OpcodeRcp:  encoder.MathInv,
}

var unaryOpcodes = map[ir.Opcode]encoder.Opcode{
	ir.OpcodeNot:  encoder.OpNot,
	ir.OpcodeRndz: encoder.OpRndz,
	ir.OpcodeRnde: encoder.OpRnde,
	ir.OpcodeRndd: encoder.OpRndd,
	ir.OpcodeRndu: encoder.OpRndu,
	ir.OpcodeFrc:  encoder.OpFrc,
	ir.OpcodeFbh:  encoder.OpFbh,
	ir.OpcodeFbl:  encoder.OpFbl,
	ir.OpcodeClz:  encoder.OpLzd,
}

func (s *selector) lowerUnary(ins *ir.Instruction) {
	t := elemType(ins.Type)
	dst := s.def(ins.Dst[0], t)
	src := ins.Src[0]
	switch op := ins.Opcode; op {
	case ir.OpcodeMov:
		if info := &s.regs[src]; info.knownImm() && t.Size() == 8 && !s.regs[ins.Dst[0]].fixed {
			s.cur.append(s.materialize(dst, info.imm))
			return
		}
		s.unary(encoder.OpMov, dst, s.useOrImm(src, t))
	case ir.OpcodeAbs:
		o := s.use(src, t)
		if ins.Type.IsSigned() || ins.Type.IsFloat() {
			if ins.Type.Size() == 8 && !ins.Type.IsFloat() {
				unimplemented("absolute value of %s", ins.Type)
			}
			o.abs = true
		}
		s.unary(encoder.OpMov, dst, o)
	default:
		if fn, ok := mathFunctions[op]; ok {
			s.math(fn, dst, s.use(src, t))
			return
		}
		nop, ok := unaryOpcodes[op]
		if !ok {
			malformed(ins, "cannot select %s", op)
		}
		s.unary(nop, dst, s.use(src, t))
	}
}

var binaryOpcodes = map[ir.Opcode]encoder.Opcode{
	ir.OpcodeAdd: encoder.OpAdd,
	ir.OpcodeSub: encoder.OpAdd,
	ir.OpcodeMul: encoder.OpMul,
	ir.OpcodeAnd: encoder.OpAnd,
	ir.OpcodeOr:  encoder.OpOr,
	ir.OpcodeXor: encoder.OpXor,
	ir.OpcodeShl: encoder.OpShl,
	ir.OpcodeShr: encoder.OpShr,
}

func isCommutative(op ir.Opcode) bool {
	switch op {
	case ir.OpcodeAdd, ir.OpcodeMul, ir.OpcodeAnd, ir.OpcodeOr, ir.OpcodeXor, ir.OpcodeMin, ir.OpcodeMax:
		return true
	}
	return false
}

// foldOperands returns the operands of a two-source instruction with at most one immediate, in
// source 1. swapped is true when the sources had to be exchanged, which is only done if
// canSwap is true.
func (s *selector) foldOperands(xr, yr ir.Register, t encoder.ElemType, canSwap bool) (x, y operand, swapped bool) {
	x, y = s.useOrImm(xr, t), s.useOrImm(yr, t)
	if x.isImm() {
		if canSwap && !y.isImm() {
			return y, x, true
		}
		x = s.use(xr, t)
	}
	return x, y, false
}

func (s *selector) lowerBinary(ins *ir.Instruction) {
	it, op := ins.Type, ins.Opcode
	t := elemType(it)
	dst := s.def(ins.Dst[0], t)
	xr, yr := ins.Src[0], ins.Src[1]

	if it.Size() == 8 && !it.IsFloat() {
		s.lowerBinary64(ins, dst)
		return
	}

	switch op {
	case ir.OpcodeDiv, ir.OpcodeRem:
		x, y := s.use(xr, t), s.use(yr, t)
		switch {
		case it.IsFloat() && op == ir.OpcodeDiv:
			s.math(encoder.MathFDiv, dst, x, y)
		case it.IsFloat():
			unimplemented("remainder of %s", it)
		case it.Size() != 4:
			unimplemented("%s of %s", op, it)
		case op == ir.OpcodeDiv:
			s.math(encoder.MathIntDivQuotient, dst, x, y)
		default:
			s.math(encoder.MathIntDivRemainder, dst, x, y)
		}
		return
	case ir.OpcodePow:
		s.math(encoder.MathPow, dst, s.use(xr, t), s.use(yr, t))
		return
	case ir.OpcodeMulHi:
		if it.Size() != 4 {
			unimplemented("%s of %s", op, it)
		}
		i := s.newInstr(kindMulHi)
		i.dst[0], i.ndst = dst, 1
		i.src[0], i.src[1], i.nsrc = s.use(xr, t), s.use(yr, t), 2
		return
	case ir.OpcodeMin, ir.OpcodeMax:
		x, y, _ := s.foldOperands(xr, yr, t, true)
		d := s.viaTemp(dst)
		i := s.newInstr(kindSelCmp)
		i.cond = encoder.CondLT
		if op == ir.OpcodeMax {
			i.cond = encoder.CondGE
		}
		i.dst[0], i.ndst = d, 1
		i.src[0], i.src[1], i.nsrc = x, y, 2
		s.commit(dst, d)
		return
	}

	nop, ok := binaryOpcodes[op]
	if !ok {
		malformed(ins, "cannot select %s", op)
	}
	if op == ir.OpcodeShr && it.IsSigned() {
		nop = encoder.OpAsr
	}

	if !it.IsFloat() && s.lowerIdentity(ins, dst, t) {
		return
	}

	x, y, swapped := s.foldOperands(xr, yr, t, isCommutative(op) || op == ir.OpcodeSub)
	if op == ir.OpcodeSub {
		// x - y is x + (-y); once swapped, imm - y is (-y) + imm.
		switch {
		case swapped:
			x = x.negated()
		case y.isImm():
			y = operandReg(negImm(y.reg))
		default:
			y = y.negated()
		}
	}
	s.binary(nop, dst, x, y)
}

// lowerIdentity selects the integer operations whose second source is an immediate making them a
// move or a shift, and returns false for the others.
func (s *selector) lowerIdentity(ins *ir.Instruction, dst operand, t encoder.ElemType) bool {
	v, ok := s.immValue(ins.Src[1])
	if !ok {
		return false
	}
	if size := ins.Type.Size(); size < 8 {
		v &= 1<<(8*uint(size)) - 1
	}
	x := ins.Src[0]
	switch ins.Opcode {
	case ir.OpcodeAdd, ir.OpcodeSub, ir.OpcodeOr, ir.OpcodeXor, ir.OpcodeShl, ir.OpcodeShr:
		if v != 0 {
			return false
		}
	case ir.OpcodeMul:
		if v == 0 || v&(v-1) != 0 {
			return false
		}
		if v > 1 {
			s.binary(encoder.OpShl, dst, s.use(x, t), operandReg(shiftImm(bits.TrailingZeros64(v), t)))
			return true
		}
	default:
		return false
	}
	s.unary(encoder.OpMov, dst, s.useOrImm(x, t))
	return true
}

// shiftImm returns the shift count k as an immediate for shifting elements of t.
func shiftImm(k int, t encoder.ElemType) encoder.Reg {
	if t.Size() <= 2 {
		return encoder.ImmUW(uint16(k))
	}
	return encoder.ImmUD(uint32(k))
}

func (s *selector) lowerBinary64(ins *ir.Instruction, dst operand) {
	t := dst.typ
	x, y := s.use(ins.Src[0], t), s.use(ins.Src[1], t)
	var i *instruction
	switch ins.Opcode {
	case ir.OpcodeAdd:
		i = s.newInstr(kindI64Add)
	case ir.OpcodeSub:
		i = s.newInstr(kindI64Sub)
	case ir.OpcodeMul:
		i = s.newInstr(kindI64Mul)
		i.tmp[0], i.ntmp = operandVReg(s.f.allocateVReg(8), t), 1
	case ir.OpcodeMulHi:
		i = s.newInstr(kindI64MulHi)
		i.tmp[0], i.tmp[1], i.ntmp = operandVReg(s.f.allocateVReg(8), t), operandVReg(s.f.allocateVReg(8), t), 2
	case ir.OpcodeAnd, ir.OpcodeOr, ir.OpcodeXor:
		s.binary(binaryOpcodes[ins.Opcode], dst, x, y)
		return
	default:
		unimplemented("%s on %s", ins.Opcode, ins.Type)
	}
	i.dst[0], i.ndst = dst, 1
	i.src[0], i.src[1], i.nsrc = x, y, 2
}

var compareConds = map[ir.Opcode]encoder.CondMod{
	ir.OpcodeEq: encoder.CondEQ,
	ir.OpcodeNe: encoder.CondNE,
	ir.OpcodeLt: encoder.CondLT,
	ir.OpcodeLe: encoder.CondLE,
	ir.OpcodeGt: encoder.CondGT,
	ir.OpcodeGe: encoder.CondGE,
}

// mirrored returns the condition holding for (y, x) when cond holds for (x, y).
func mirrored(cond encoder.CondMod) encoder.CondMod {
	switch cond {
	case encoder.CondLT:
		return encoder.CondGT
	case encoder.CondLE:
		return encoder.CondGE
	case encoder.CondGT:
		return encoder.CondLT
	case encoder.CondGE:
		return encoder.CondLE
	}
	return cond
}

func (s *selector) lowerCompare(ins *ir.Instruction) {
	t := elemType(ins.Type)
	x, y, swapped := s.foldOperands(ins.Src[0], ins.Src[1], t, true)
	cond := compareConds[ins.Opcode]
	if swapped {
		cond = mirrored(cond)
	}
	s.compare(cond, ins.Dst[0], x, y)
}

// compare writes the mask of x cond y to the boolean register r.
func (s *selector) compare(cond encoder.CondMod, r ir.Register, x, y operand) {
	dst := s.def(r, encoder.TypeD)
	mask := s.viaTemp(dst)
	if x.typ.Size() == 4 {
		s.cmp(cond, mask.withType(x.typ), x, y)
	} else {
		s.cmp(cond, nullOperand(x.typ), x, y)
		s.unary(encoder.OpMov, mask, operandReg(encoder.ImmD(0)))
		set := s.unary(encoder.OpMov, mask, operandReg(encoder.ImmD(-1)))
		set.state.Predicate = encoder.PredicateNormal
		set.partial = true
	}
	s.commit(dst, mask)
}

// testBool sets the flag register to the lanes where the boolean register r is true.
func (s *selector) testBool(r ir.Register) {
	s.cmp(encoder.CondNE, nullOperand(encoder.TypeD), s.use(r, encoder.TypeD), operandReg(encoder.ImmD(0)))
}

func (s *selector) lowerSelect(ins *ir.Instruction) {
	t := elemType(ins.Type)
	x, y, swapped := s.foldOperands(ins.Src[1], ins.Src[2], t, true)
	dst := s.def(ins.Dst[0], t)
	d := s.viaTemp(dst)
	s.testBool(ins.Src[0])
	i := s.binary(encoder.OpSel, d, x, y)
	i.state.Predicate = encoder.PredicateNormal
	i.state.Inverse = swapped
	s.commit(dst, d)
}

func (s *selector) lowerConvert(ins *ir.Instruction) {
	dt, st := ins.Type, ins.SrcType
	src := ins.Src[0]
	switch {
	case dt == st:
		s.unary(encoder.OpMov, s.def(ins.Dst[0], elemType(dt)), s.useOrImm(src, elemType(dt)))
	case st == ir.TypeBool:
		// Masks are all ones when true.
		one := operandReg(encoder.ImmD(1))
		if dt.Size() == 4 && !dt.IsFloat() {
			s.binary(encoder.OpAnd, s.def(ins.Dst[0], elemType(dt)), s.use(src, encoder.TypeD), one)
			return
		}
		tmp := operandVReg(s.f.allocateVReg(4), encoder.TypeD)
		s.binary(encoder.OpAnd, tmp, s.use(src, encoder.TypeD), one)
		s.unary(encoder.OpMov, s.def(ins.Dst[0], elemType(dt)), tmp)
	case dt == ir.TypeBool:
		x := s.use(src, elemType(st))
		switch {
		case st == ir.TypeDouble:
			zero := operandVReg(s.f.allocateVReg(8), encoder.TypeDF)
			s.cur.append(s.materialize(zero, ir.ImmediateDouble(0)))
			s.compare(encoder.CondNE, ins.Dst[0], x, zero)
		case st.Size() == 8:
			unimplemented("conversion of %s to bool", st)
		default:
			s.compare(encoder.CondNE, ins.Dst[0], x, operandReg(immReg(ir.Immediate{Type: st}, elemType(st))))
		}
	default:
		s.unary(encoder.OpMov, s.def(ins.Dst[0], elemType(dt)), s.useOrImm(src, elemType(st)))
	}
}

func (s *selector) lowerLoadImm(ins *ir.Instruction) {
	r := ins.Dst[0]
	info := &s.regs[r]
	if info.knownImm() {
		info.anchor = s.cur.tail
		return
	}
	imm := s.fn.Immediates[ins.Immediate]
	s.cur.append(s.materialize(s.def(r, elemType(imm.Type)), imm))
}

func btiOf(space ir.AddressSpace) uint32 {
	switch space {
	case ir.SpaceConstant:
		return btiConstant
	case ir.SpaceLocal:
		return btiLocal
	default:
		return btiGlobal
	}
}

// offsetAddress returns the address addr + offset.
func (s *selector) offsetAddress(addr operand, offset int) operand {
	if offset == 0 {
		return addr
	}
	if addr.isImm() {
		return operandReg(encoder.ImmUD(uint32(addr.reg.Imm) + uint32(offset)))
	}
	tmp := operandVReg(s.f.allocateVReg(4), encoder.TypeUD)
	s.binary(encoder.OpAdd, tmp, addr, operandReg(encoder.ImmUD(uint32(offset))))
	return tmp
}

func (s *selector) lowerLoad(ins *ir.Instruction) {
	t := elemType(ins.Type)
	size := ins.Type.Size()
	bti := btiOf(ins.Space)
	switch {
	case size == 8:
		addr := s.use(ins.Src[0], encoder.TypeUD)
		for k, r := range ins.Dst {
			a := s.offsetAddress(addr, k*size)
			i := s.newInstr(kindRead64)
			i.dst[0], i.ndst = s.def(r, t), 1
			i.src[0], i.nsrc = a, 1
			i.bti = bti
		}
	case ins.Space == ir.SpaceConstant && len(ins.Dst) == 1 && size == 4 && ins.Aligned:
		i := s.newInstr(kindDwordGather)
		i.dst[0], i.ndst = s.def(ins.Dst[0], t), 1
		i.src[0], i.nsrc = s.use(ins.Src[0], encoder.TypeUD), 1
		i.bti = bti
	case size == 4 && ins.Aligned:
		i := s.newInstr(kindUntypedRead)
		for k, r := range ins.Dst {
			i.dst[k] = s.def(r, t)
		}
		i.ndst = len(ins.Dst)
		i.src[0], i.nsrc = s.useOrImm(ins.Src[0], encoder.TypeUD), 1
		i.elems = len(ins.Dst)
		i.bti = bti
	default:
		addr := s.useOrImm(ins.Src[0], encoder.TypeUD)
		for k, r := range ins.Dst {
			a := s.offsetAddress(addr, k*size)
			i := s.newInstr(kindByteGather)
			i.dst[0], i.ndst = s.def(r, t), 1
			i.src[0], i.nsrc = a, 1
			i.elems = size
			i.bti = bti
		}
	}
}

func (s *selector) lowerStore(ins *ir.Instruction) {
	t := elemType(ins.Type)
	size := ins.Type.Size()
	bti := btiOf(ins.Space)
	values := ins.Src[1:]
	switch {
	case size == 8:
		addr := s.use(ins.Src[0], encoder.TypeUD)
		for k, r := range values {
			a := s.offsetAddress(addr, k*size)
			i := s.newInstr(kindWrite64)
			i.src[0], i.src[1], i.nsrc = a, s.use(r, t), 2
			i.bti = bti
		}
	case size == 4 && ins.Aligned:
		i := s.newInstr(kindUntypedWrite)
		i.src[0] = s.useOrImm(ins.Src[0], encoder.TypeUD)
		for k, r := range values {
			i.src[1+k] = s.useOrImm(r, t)
		}
		i.nsrc = 1 + len(values)
		i.elems = len(values)
		i.bti = bti
	default:
		addr := s.useOrImm(ins.Src[0], encoder.TypeUD)
		for k, r := range values {
			a := s.offsetAddress(addr, k*size)
			i := s.newInstr(kindByteScatter)
			i.src[0], i.src[1], i.nsrc = a, s.useOrImm(r, t), 2
			i.elems = size
			i.bti = bti
		}
	}
}

var atomicOps = map[ir.AtomicOp]encoder.AtomicOp{
	ir.AtomicAdd:     encoder.AtomicAdd,
	ir.AtomicSub:     encoder.AtomicSub,
	ir.AtomicAnd:     encoder.AtomicAnd,
	ir.AtomicOr:      encoder.AtomicOr,
	ir.AtomicXor:     encoder.AtomicXor,
	ir.AtomicXchg:    encoder.AtomicXchg,
	ir.AtomicInc:     encoder.AtomicInc,
	ir.AtomicDec:     encoder.AtomicDec,
	ir.AtomicIMin:    encoder.AtomicIMin,
	ir.AtomicIMax:    encoder.AtomicIMax,
	ir.AtomicUMin:    encoder.AtomicUMin,
	ir.AtomicUMax:    encoder.AtomicUMax,
	ir.AtomicCmpXchg: encoder.AtomicCmpXchg,
}

func (s *selector) lowerAtomic(ins *ir.Instruction) {
	t := elemType(ins.Type)
	i := s.newInstr(kindAtomic)
	i.atomic = atomicOps[ins.Atomic]
	i.dst[0], i.ndst = s.def(ins.Dst[0], t), 1
	i.src[0] = s.useOrImm(ins.Src[0], encoder.TypeUD)
	for k, r := range ins.Src[1:] {
		i.src[1+k] = s.useOrImm(r, t)
	}
	i.nsrc = len(ins.Src)
	i.bti = btiOf(ins.Space)
}

func (s *selector) imageSlot(ins *ir.Instruction) uint32 {
	return s.fn.Images[ins.Image].Slot
}

func (s *selector) lowerSample(ins *ir.Instruction) {
	t, ct := elemType(ins.Type), elemType(ins.SrcType)
	i := s.newInstr(kindSample)
	for k, r := range ins.Dst {
		i.dst[k] = s.def(r, t)
	}
	i.ndst = len(ins.Dst)
	for k, r := range ins.Src {
		i.src[k] = s.useOrImm(r, ct)
	}
	i.nsrc = len(ins.Src)
	i.elems = len(ins.Src)
	i.ld = !ins.SrcType.IsFloat()
	i.bti = s.imageSlot(ins)
	i.sampler = ins.Sampler
}

func (s *selector) lowerTypedWrite(ins *ir.Instruction) {
	t := elemType(ins.Type)
	coords := len(ins.Src) - 4
	i := s.newInstr(kindTypedWrite)
	for k, r := range ins.Src {
		if k < coords {
			i.src[k] = s.useOrImm(r, encoder.TypeD)
		} else {
			i.src[k] = s.useOrImm(r, t)
		}
	}
	i.nsrc = len(ins.Src)
	i.elems = coords
	i.bti = s.imageSlot(ins)
}

func (s *selector) lowerSync(ins *ir.Instruction) {
	if ins.Sync&(ir.SyncLocalFence|ir.SyncGlobalFence) != 0 {
		s.newInstr(kindFence)
	}
	if ins.Sync&ir.SyncLocalBarrier != 0 {
		s.newInstr(kindBarrier)
		s.newInstr(kindWait)
	}
}

// lowerBranch jumps straight to the target when lanes cannot diverge. Otherwise the lanes of the
// block mask taking the branch go to the target, the others to the next block.
func (s *selector) lowerBranch(ins *ir.Instruction) {
	if !s.masked {
		s.newInstr(kindJmpi).label = ins.Label
		return
	}
	if len(ins.Src) > 0 {
		s.setBlockIP(s.cur.id + 1)
		// Narrow the block mask to the lanes taking the branch: the disabled lanes keep their
		// cleared bit.
		i := s.newInstr(kindCmp)
		i.cond = encoder.CondNE
		i.dst[0], i.ndst = nullOperand(encoder.TypeD), 1
		i.src[0], i.src[1], i.nsrc = s.use(ins.Src[0], encoder.TypeD), operandReg(encoder.ImmD(0)), 2
		i.state.Predicate, i.state.FlagSubNr = encoder.PredicateNormal, 1
	}
	s.goTo(ins.Label)
}

func (s *selector) lowerRet() {
	if !s.masked {
		s.newInstr(kindJmpi).label = s.returnLabel()
		return
	}
	s.goTo(s.returnLabel())
}
