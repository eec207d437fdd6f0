// Package encoder packs native instructions into 128-bit instruction words.
//
// An Encoder owns the word stream of one kernel together with the instruction state
// (execution width, predication, masking, quarter/nibble control) applied to every
// emitted word. Operations the hardware cannot execute at the requested width or type
// are split, or lowered into sequences, before they reach the word stream.
//
// Invalid operand combinations panic with *api.EncodingError, and unsupported ones with
// *api.UnimplementedError. Callers are expected to recover them at the compile boundary.
package encoder

import (
	"fmt"

	"github.com/gbe-go/gbe/api"
)

// Generation is the hardware generation targeted by an Encoder.
type Generation byte

const (
	// Gen7 is Ivy Bridge.
	Gen7 Generation = 70
	// Gen75 is Haswell, which moved untyped and typed surface messages to the second data cache port.
	Gen75 Generation = 75
)

// String implements fmt.Stringer.
func (g Generation) String() string {
	switch g {
	case Gen7:
		return "gen7"
	case Gen75:
		return "gen75"
	}
	return fmt.Sprintf("gen(%d)", byte(g))
}

// Encoder appends instruction words to an in-memory stream.
type Encoder struct {
	// Curr is applied to every emitted word.
	Curr State

	stack     [MaxStateDepth]State
	depth     int
	gen       Generation
	simdWidth int
	words     []Word
}

// New returns an Encoder for kernels compiled at the given SIMD width.
func New(gen Generation, simdWidth int) *Encoder {
	e := &Encoder{}
	e.Reset(gen, simdWidth)
	return e
}

// Reset clears the stream and the state so that e can be reused for another kernel.
func (e *Encoder) Reset(gen Generation, simdWidth int) {
	if simdWidth != 8 && simdWidth != 16 {
		unimplemented("SIMD width %d", simdWidth)
	}
	e.gen, e.simdWidth = gen, simdWidth
	e.Curr = DefaultState(simdWidth)
	e.depth = 0
	e.words = e.words[:0]
}

// Generation returns the targeted hardware generation.
func (e *Encoder) Generation() Generation { return e.gen }

// SIMDWidth returns the SIMD width of the kernel.
func (e *Encoder) SIMDWidth() int { return e.simdWidth }

// Len returns the number of words emitted so far.
func (e *Encoder) Len() int { return len(e.words) }

// Words returns the emitted words. The slice is owned by e.
func (e *Encoder) Words() []Word { return e.words }

// Bytes returns a copy of the stream as little-endian bytes.
func (e *Encoder) Bytes() []byte {
	ret := make([]byte, 0, len(e.words)*WordSize)
	for _, w := range e.words {
		ret = w.AppendBytes(ret)
	}
	return ret
}

func encodingError(op Opcode, format string, args ...interface{}) {
	panic(&api.EncodingError{Op: op.String(), Reason: fmt.Sprintf(format, args...)})
}

func unimplemented(format string, args ...interface{}) {
	panic(&api.UnimplementedError{What: fmt.Sprintf(format, args...)})
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

var execSizeCodes = map[int]uint32{1: 0, 8: 3, 16: 4}

// next appends a word carrying the current state and returns it for operand encoding.
// The returned pointer is only valid until the following call to next.
func (e *Encoder) next(op Opcode) *Word {
	s := &e.Curr
	code, ok := execSizeCodes[s.ExecWidth]
	if !ok {
		encodingError(op, "execution width %d is not one of 1, 8, 16", s.ExecWidth)
	}
	if s.Nib != 0 && s.ExecWidth != 8 {
		encodingError(op, "nibble control requires execution width 8, got %d", s.ExecWidth)
	}
	if s.Quarter < QuarterQ1 || s.Quarter > QuarterQ4 {
		encodingError(op, "invalid quarter control %d", s.Quarter)
	}

	e.words = append(e.words, Word{})
	w := &e.words[len(e.words)-1]
	w.set(fOpcode, uint32(op))
	w.set(fExecSize, code)
	w.set(fQuarterControl, uint32(s.Quarter-QuarterQ1))
	w.set(fNibControl, uint32(s.Nib))
	w.set(fMaskControl, b2u(s.NoMask))
	w.set(fPredicateControl, uint32(s.Predicate))
	w.set(fPredicateInverse, b2u(s.Inverse))
	w.set(fAccWrControl, b2u(s.AccWrite))
	w.set(fSaturate, b2u(s.Saturate))
	if op == OpMad {
		w.set(f3FlagRegNr, uint32(s.FlagNr))
		w.set(f3FlagSubRegNr, uint32(s.FlagSubNr))
	} else {
		w.set(fFlagRegNr, uint32(s.FlagNr))
		w.set(fFlagSubRegNr, uint32(s.FlagSubNr))
	}
	return w
}

func checkReg(op Opcode, r Reg) {
	if r.Type.IsInt64() {
		encodingError(op, "64-bit integer operand %s must be lowered first", r)
	}
	switch r.File {
	case FileGRF:
		if r.Nr < 0 || r.Nr >= GRFNum {
			encodingError(op, "register r%d is out of the register file", r.Nr)
		}
	case FileARF, FileMRF:
		if r.Nr < 0 || r.Nr > 0xff {
			encodingError(op, "architecture register %#x is out of range", r.Nr)
		}
	default:
		encodingError(op, "invalid register file %s", r.File)
	}
	if r.SubNr < 0 || r.SubNr >= GRFSize || r.SubNr%r.Type.Size() != 0 {
		encodingError(op, "sub-register offset %d is invalid for type %s", r.SubNr, r.Type)
	}
}

func immTypeCode(op Opcode, r Reg) uint32 {
	switch r.Type {
	case TypeUD, TypeD, TypeUW, TypeW, TypeF:
		return uint32(r.Type)
	}
	encodingError(op, "immediate of type %s is not representable", r.Type)
	return 0
}

func regionCodes(op Opcode, r Reg) (h, w, v uint32) {
	var okH, okW, okV bool
	h, okH = hstrideCodes[r.HStride]
	w, okW = widthCodes[r.Width]
	v, okV = vstrideCodes[r.VStride]
	if !okH || !okW || !okV {
		encodingError(op, "invalid region <%d;%d,%d>", r.VStride, r.Width, r.HStride)
	}
	return
}

func (e *Encoder) setDst(w *Word, op Opcode, r Reg) {
	if r.File == FileIMM {
		encodingError(op, "destination cannot be an immediate")
	}
	checkReg(op, r)
	hs := r.HStride
	if hs == 0 {
		hs = 1
	}
	code, ok := hstrideCodes[hs]
	if !ok {
		encodingError(op, "invalid destination stride %d", r.HStride)
	}
	w.set(fDstRegFile, uint32(r.File))
	w.set(fDstRegType, uint32(r.Type))
	w.set(fDstRegNr, uint32(r.Nr))
	w.set(fDstSubRegNr, uint32(r.SubNr))
	w.set(fDstHorizStride, code)
	w.set(fDstAddrMode, b2u(r.Indirect))
}

func (e *Encoder) setSrc0(w *Word, op Opcode, r Reg) {
	if r.File == FileIMM {
		w.set(fSrc0RegFile, uint32(FileIMM))
		w.set(fSrc0RegType, immTypeCode(op, r))
		// The immediate takes over dword 3, the second source becomes a placeholder.
		w[3] = uint32(r.Imm)
		w.set(fSrc1RegFile, uint32(FileARF))
		w.set(fSrc1RegType, uint32(r.Type))
		return
	}
	checkReg(op, r)
	h, wd, v := regionCodes(op, r)
	w.set(fSrc0RegFile, uint32(r.File))
	w.set(fSrc0RegType, uint32(r.Type))
	w.set(fSrc0RegNr, uint32(r.Nr))
	w.set(fSrc0SubRegNr, uint32(r.SubNr))
	w.set(fSrc0Abs, b2u(r.Abs))
	w.set(fSrc0Negate, b2u(r.Negate))
	w.set(fSrc0AddrMode, b2u(r.Indirect))
	w.set(fSrc0HorizStride, h)
	w.set(fSrc0Width, wd)
	w.set(fSrc0VertStride, v)
}

func (e *Encoder) setSrc1(w *Word, op Opcode, r Reg) {
	if RegFile(w.get(fSrc0RegFile)) == FileIMM {
		encodingError(op, "source1 %s cannot follow an immediate source0", r)
	}
	if r.File == FileIMM {
		w.set(fSrc1RegFile, uint32(FileIMM))
		w.set(fSrc1RegType, immTypeCode(op, r))
		w[3] = uint32(r.Imm)
		return
	}
	checkReg(op, r)
	h, wd, v := regionCodes(op, r)
	w.set(fSrc1RegFile, uint32(r.File))
	w.set(fSrc1RegType, uint32(r.Type))
	w.set(fSrc1RegNr, uint32(r.Nr))
	w.set(fSrc1SubRegNr, uint32(r.SubNr))
	w.set(fSrc1Abs, b2u(r.Abs))
	w.set(fSrc1Negate, b2u(r.Negate))
	w.set(fSrc1AddrMode, b2u(r.Indirect))
	w.set(fSrc1HorizStride, h)
	w.set(fSrc1Width, wd)
	w.set(fSrc1VertStride, v)
}

// operands holds a destination followed by its sources and temporaries. Unused slots are
// the zero Reg, which is the null register and is never moved by Suboffset.
type operands [5]Reg

func (o operands) suboffset(n int) operands {
	for i := range o {
		o[i] = o[i].Suboffset(n)
	}
	return o
}

func (o operands) quarter(q int) operands {
	return o.suboffset(8 * q)
}

// splitHalves issues emit twice at width 8, once per quarter.
func (e *Encoder) splitHalves(o operands, emit func(operands)) {
	e.Push()
	e.Curr.ExecWidth = 8
	e.Curr.Quarter = QuarterQ1
	emit(o)
	e.Curr.Quarter = QuarterQ2
	emit(o.quarter(1))
	e.Pop()
}

// splitQuads issues emit once per group of 4 channels: the hardware executes at most
// four 64-bit channels per word. Width 16 is split in quarters, then each quarter in
// nibbles.
func (e *Encoder) splitQuads(o operands, emit func(operands)) {
	switch e.Curr.ExecWidth {
	case 1:
		emit(o)
	case 8:
		e.quads(o, emit)
	case 16:
		e.Push()
		e.Curr.ExecWidth = 8
		e.Curr.Quarter = QuarterQ1
		e.quads(o, emit)
		e.Curr.Quarter = QuarterQ2
		e.quads(o.quarter(1), emit)
		e.Pop()
	default:
		unimplemented("64-bit operation at execution width %d", e.Curr.ExecWidth)
	}
}

func (e *Encoder) quads(o operands, emit func(operands)) {
	e.Push()
	e.Curr.Nib = 0
	emit(o)
	e.Curr.Nib = 1
	emit(o.suboffset(4))
	e.Pop()
}

func isByteVector(r Reg) bool {
	return r.Type.IsByte() && !r.IsScalar()
}

func (e *Encoder) emit1(op Opcode, dst, src Reg) {
	w := e.next(op)
	e.setDst(w, op, dst)
	e.setSrc0(w, op, src)
}

func (e *Encoder) emit2(op Opcode, dst, src0, src1 Reg) {
	w := e.next(op)
	e.setDst(w, op, dst)
	e.setSrc0(w, op, src0)
	e.setSrc1(w, op, src1)
}

func (e *Encoder) alu1(op Opcode, dst, src Reg) {
	switch {
	case dst.Type.IsInt64() || src.Type.IsInt64():
		e.int64Alu1(op, dst, src)
	case dst.Type == TypeDF || src.Type == TypeDF:
		if op != OpMov {
			unimplemented("%s on doubles", op)
		}
		e.splitQuads(operands{dst, src}, func(o operands) { e.emit1(op, o[0], o[1]) })
	case e.Curr.ExecWidth == 16 && (isByteVector(dst) || isByteVector(src)):
		e.splitHalves(operands{dst, src}, func(o operands) { e.emit1(op, o[0], o[1]) })
	default:
		e.emit1(op, dst, src)
	}
}

func (e *Encoder) alu2(op Opcode, dst, src0, src1 Reg) {
	switch {
	case dst.Type.IsInt64() || src0.Type.IsInt64() || src1.Type.IsInt64():
		e.int64Alu2(op, dst, src0, src1)
	case dst.Type == TypeDF || src0.Type == TypeDF || src1.Type == TypeDF:
		switch op {
		case OpAdd, OpMul, OpSel:
		default:
			unimplemented("%s on doubles", op)
		}
		requireType(op, TypeDF, dst, src0, src1)
		e.splitQuads(operands{dst, src0, src1}, func(o operands) { e.emit2(op, o[0], o[1], o[2]) })
	case e.Curr.ExecWidth == 16 && (isByteVector(dst) || isByteVector(src0) || isByteVector(src1)):
		e.splitHalves(operands{dst, src0, src1}, func(o operands) { e.emit2(op, o[0], o[1], o[2]) })
	default:
		e.emit2(op, dst, src0, src1)
	}
}

func requireType(op Opcode, t ElemType, regs ...Reg) {
	for _, r := range regs {
		if r.Type != t && !r.IsNull() {
			encodingError(op, "operand %s must be of type %s", r, t)
		}
	}
}

// Mov emits dst = src.
func (e *Encoder) Mov(dst, src Reg) { e.alu1(OpMov, dst, src) }

// Not emits dst = ^src.
func (e *Encoder) Not(dst, src Reg) { e.alu1(OpNot, dst, src) }

// Lzd emits a leading zero count.
func (e *Encoder) Lzd(dst, src Reg) { e.alu1(OpLzd, dst, src) }

// Fbh emits a find-first-bit-from-high.
func (e *Encoder) Fbh(dst, src Reg) { e.alu1(OpFbh, dst, src) }

// Fbl emits a find-first-bit-from-low.
func (e *Encoder) Fbl(dst, src Reg) { e.alu1(OpFbl, dst, src) }

// Rndz rounds toward zero.
func (e *Encoder) Rndz(dst, src Reg) { e.alu1(OpRndz, dst, src) }

// Rnde rounds to nearest even.
func (e *Encoder) Rnde(dst, src Reg) { e.alu1(OpRnde, dst, src) }

// Rndd rounds down.
func (e *Encoder) Rndd(dst, src Reg) { e.alu1(OpRndd, dst, src) }

// Rndu rounds up.
func (e *Encoder) Rndu(dst, src Reg) { e.alu1(OpRndu, dst, src) }

// Frc emits the fractional part.
func (e *Encoder) Frc(dst, src Reg) { e.alu1(OpFrc, dst, src) }

// Sel emits dst = flag ? src0 : src1 under the current predicate.
func (e *Encoder) Sel(dst, src0, src1 Reg) { e.alu2(OpSel, dst, src0, src1) }

// And emits dst = src0 & src1.
func (e *Encoder) And(dst, src0, src1 Reg) { e.alu2(OpAnd, dst, src0, src1) }

// Or emits dst = src0 | src1.
func (e *Encoder) Or(dst, src0, src1 Reg) { e.alu2(OpOr, dst, src0, src1) }

// Xor emits dst = src0 ^ src1.
func (e *Encoder) Xor(dst, src0, src1 Reg) { e.alu2(OpXor, dst, src0, src1) }

// Shr emits a logical right shift.
func (e *Encoder) Shr(dst, src0, src1 Reg) { e.alu2(OpShr, dst, src0, src1) }

// Shl emits a left shift.
func (e *Encoder) Shl(dst, src0, src1 Reg) { e.alu2(OpShl, dst, src0, src1) }

// Asr emits an arithmetic right shift.
func (e *Encoder) Asr(dst, src0, src1 Reg) { e.alu2(OpAsr, dst, src0, src1) }

// Add emits dst = src0 + src1.
func (e *Encoder) Add(dst, src0, src1 Reg) { e.alu2(OpAdd, dst, src0, src1) }

// Mul emits dst = src0 * src1 (low bits).
func (e *Encoder) Mul(dst, src0, src1 Reg) {
	if src0.File == FileARF && src0.Nr&0xf0 == ARFAccumulator || src1.File == FileARF && src1.Nr&0xf0 == ARFAccumulator {
		encodingError(OpMul, "the accumulator cannot be a multiplication source")
	}
	e.alu2(OpMul, dst, src0, src1)
}

// Mach emits the high 32 bits of src0 * src1. It must follow a MUL to the accumulator.
func (e *Encoder) Mach(dst, src0, src1 Reg) { e.alu2(OpMach, dst, src0, src1) }

// Addc emits an add writing the carry of each channel to the accumulator.
func (e *Encoder) Addc(dst, src0, src1 Reg) {
	e.Push()
	e.Curr.AccWrite = true
	e.alu2(OpAddc, dst, src0, src1)
	e.Pop()
}

// Subb emits a subtract writing the borrow of each channel to the accumulator.
func (e *Encoder) Subb(dst, src0, src1 Reg) {
	e.Push()
	e.Curr.AccWrite = true
	e.alu2(OpSubb, dst, src0, src1)
	e.Pop()
}

// Cmp compares src0 against src1, writing the flag register and, unless dst is null,
// an all-ones/all-zeros mask per channel to dst.
func (e *Encoder) Cmp(cond CondMod, dst, src0, src1 Reg) {
	emit := func(o operands) {
		w := e.next(OpCmp)
		w.set(fCondModOrSFID, uint32(cond))
		e.setDst(w, OpCmp, o[0])
		e.setSrc0(w, OpCmp, o[1])
		e.setSrc1(w, OpCmp, o[2])
	}
	o := operands{dst, src0, src1}
	switch t := src0.Type; {
	case t.IsInt64() || src1.Type.IsInt64():
		unimplemented("64-bit integer compare")
	case t == TypeDF:
		requireType(OpCmp, TypeDF, src0, src1)
		e.splitQuads(o, emit)
	case e.Curr.ExecWidth == 16 && (t.IsByte() || t == TypeD || t == TypeUD || t == TypeF):
		e.splitHalves(o, emit)
	default:
		emit(o)
	}
}

// SelCmp emits a conditional select (min/max) without touching the flag register.
func (e *Encoder) SelCmp(cond CondMod, dst, src0, src1 Reg) {
	emit := func(o operands) {
		w := e.next(OpSel)
		w.set(fCondModOrSFID, uint32(cond))
		e.setDst(w, OpSel, o[0])
		e.setSrc0(w, OpSel, o[1])
		e.setSrc1(w, OpSel, o[2])
	}
	o := operands{dst, src0, src1}
	switch {
	case dst.Type.IsInt64():
		unimplemented("64-bit integer min/max")
	case dst.Type == TypeDF:
		requireType(OpSel, TypeDF, dst, src0, src1)
		e.splitQuads(o, emit)
	case e.Curr.ExecWidth == 16 && (isByteVector(dst) || isByteVector(src0) || isByteVector(src1)):
		e.splitHalves(o, emit)
	default:
		emit(o)
	}
}

// Mad emits dst = src0 + src1 * src2 on floats, using the align16 three-source layout.
func (e *Encoder) Mad(dst, src0, src1, src2 Reg) {
	emit := func(o operands) {
		w := e.next(OpMad)
		w.set(fAccessMode, 1)
		for _, r := range o[:4] {
			if r.File != FileGRF || r.Type != TypeF {
				encodingError(OpMad, "operand %s must be a float general register", r)
			}
			checkReg(OpMad, r)
		}
		d, s0, s1, s2 := o[0], o[1], o[2], o[3]
		w.set(f3DstRegNr, uint32(d.Nr))
		w.set(f3DstSubRegNr, uint32(d.SubNr/4))
		w.set(f3DstWriteMask, 0xf)
		w.set(f3Src0RegNr, uint32(s0.Nr))
		w.set(f3Src0SubRegNr, uint32(s0.SubNr/4))
		w.set(f3Src0Swizzle, swizzleXYZW)
		w.set(f3Src0RepCtrl, b2u(s0.IsScalar()))
		w.set(f3Src0Abs, b2u(s0.Abs))
		w.set(f3Src0Negate, b2u(s0.Negate))
		sub1 := uint32(s1.SubNr / 4)
		w.set(f3Src1RegNr, uint32(s1.Nr))
		w.set(f3Src1SubLow, sub1&3)
		w.set(f3Src1SubHigh, sub1>>2)
		w.set(f3Src1Swizzle, swizzleXYZW)
		w.set(f3Src1RepCtrl, b2u(s1.IsScalar()))
		w.set(f3Src1Abs, b2u(s1.Abs))
		w.set(f3Src1Negate, b2u(s1.Negate))
		w.set(f3Src2RegNr, uint32(s2.Nr))
		w.set(f3Src2SubRegNr, uint32(s2.SubNr/4))
		w.set(f3Src2Swizzle, swizzleXYZW)
		w.set(f3Src2RepCtrl, b2u(s2.IsScalar()))
		w.set(f3Src2Abs, b2u(s2.Abs))
		w.set(f3Src2Negate, b2u(s2.Negate))
	}
	o := operands{dst, src0, src1, src2}
	if e.Curr.ExecWidth == 16 {
		e.splitHalves(o, emit)
	} else {
		emit(o)
	}
}

const swizzleXYZW = 0xe4

// MathFunction selects the operation of a MATH word.
type MathFunction byte

const (
	MathInv                        MathFunction = 1
	MathLog                        MathFunction = 2
	MathExp                        MathFunction = 3
	MathSqrt                       MathFunction = 4
	MathRsq                        MathFunction = 5
	MathSin                        MathFunction = 6
	MathCos                        MathFunction = 7
	MathFDiv                       MathFunction = 9
	MathPow                        MathFunction = 10
	MathIntDivQuotientAndRemainder MathFunction = 11
	MathIntDivQuotient             MathFunction = 12
	MathIntDivRemainder            MathFunction = 13
)

// IsBinary returns true if the function takes two sources.
func (f MathFunction) IsBinary() bool {
	return f == MathFDiv || f == MathPow || f >= MathIntDivQuotientAndRemainder
}

// IsIntDiv returns true for the integer division functions.
func (f MathFunction) IsIntDiv() bool {
	return f >= MathIntDivQuotientAndRemainder
}

// String implements fmt.Stringer.
func (f MathFunction) String() string {
	switch f {
	case MathInv:
		return "inv"
	case MathLog:
		return "log"
	case MathExp:
		return "exp"
	case MathSqrt:
		return "sqrt"
	case MathRsq:
		return "rsq"
	case MathSin:
		return "sin"
	case MathCos:
		return "cos"
	case MathFDiv:
		return "fdiv"
	case MathPow:
		return "pow"
	case MathIntDivQuotientAndRemainder:
		return "intdivmod"
	case MathIntDivQuotient:
		return "intdiv"
	case MathIntDivRemainder:
		return "intmod"
	}
	return fmt.Sprintf("math%d", byte(f))
}

// Math emits the extended math function fn. src1 is ignored for unary functions.
// The integer divisions only support 8 channels per word.
func (e *Encoder) Math(fn MathFunction, dst, src0, src1 Reg) {
	if dst.Type == TypeDF || dst.Type.IsInt64() {
		unimplemented("math %s on 64-bit types", fn)
	}
	emit := func(o operands) {
		w := e.next(OpMath)
		w.set(fCondModOrSFID, uint32(fn))
		e.setDst(w, OpMath, o[0])
		e.setSrc0(w, OpMath, o[1])
		if fn.IsBinary() {
			e.setSrc1(w, OpMath, o[2])
		} else if !o[1].IsImm() {
			e.setSrc1(w, OpMath, Null(TypeF))
		}
	}
	o := operands{dst, src0, src1}
	if fn.IsIntDiv() && e.Curr.ExecWidth == 16 {
		e.splitHalves(o, emit)
	} else {
		emit(o)
	}
}

// Nop emits a no-op.
func (e *Encoder) Nop() {
	e.Push()
	e.Curr.ExecWidth = 1
	e.Curr.Predicate = PredicateNone
	e.Curr.Quarter, e.Curr.Nib = QuarterQ1, 0
	e.emit2(OpNop, Scalar(0, 0, TypeUD), Scalar(0, 0, TypeUD), ImmUD(0))
	e.Pop()
}

// Wait stalls the thread until the notification register is signaled, e.g. by a barrier.
func (e *Encoder) Wait() {
	e.Push()
	e.Curr.ExecWidth = 1
	e.Curr.Predicate = PredicateNone
	e.Curr.Quarter, e.Curr.Nib = QuarterQ1, 0
	n := Notification()
	e.emit2(OpWait, n, n, Null(TypeUD).ToScalar())
	e.Pop()
}
