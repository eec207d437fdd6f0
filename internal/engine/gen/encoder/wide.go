package encoder

import "math"

// The hardware has no 64-bit integer ALU: a UQ/Q operand is held as pairs of dwords, the
// low half of channel i at byte 8*i and the high half at 8*i+4. Operations on such operands
// are rewritten into operations on the strided halves returned by Reg.Bottom and Reg.Top,
// four channels per word.

func requireInt64(op Opcode, regs ...Reg) {
	for _, r := range regs {
		if !r.Type.IsInt64() {
			encodingError(op, "operand %s must be a 64-bit integer", r)
		}
		if r.IsImm() {
			encodingError(op, "64-bit immediate %s must be loaded with LoadInt64Imm", r)
		}
	}
}

// immInt64 returns the value of a 32-bit or narrower immediate, extended according to its type.
func immInt64(op Opcode, r Reg) int64 {
	switch r.Type {
	case TypeD:
		return int64(int32(r.Imm))
	case TypeUD:
		return int64(uint32(r.Imm))
	case TypeW:
		return int64(int16(r.Imm))
	case TypeUW:
		return int64(uint16(r.Imm))
	}
	encodingError(op, "immediate %s cannot be extended to 64 bits", r)
	return 0
}

func (e *Encoder) int64Alu1(op Opcode, dst, src Reg) {
	switch {
	case dst.Type.IsInt64() && src.Type.IsInt64():
		if op != OpMov && op != OpNot {
			unimplemented("%s on 64-bit integers", op)
		}
		requireInt64(op, dst, src)
		e.splitQuads(operands{dst, src}, func(o operands) {
			e.emit1(op, o[0].Bottom(), o[1].Bottom())
			e.emit1(op, o[0].Top(), o[1].Top())
		})
	case dst.Type.IsInt64():
		if op != OpMov || src.Type.IsFloat() {
			unimplemented("%s from %s to %s", op, src.Type, dst.Type)
		}
		if src.IsImm() {
			v := immInt64(op, src)
			e.splitQuads(operands{dst}, func(o operands) {
				e.emit1(OpMov, o[0].Bottom(), ImmUD(uint32(v)))
				e.emit1(OpMov, o[0].Top(), ImmUD(uint32(v>>32)))
			})
			return
		}
		e.splitQuads(operands{dst, src}, func(o operands) {
			e.emit1(OpMov, o[0].Bottom(), o[1])
			if src.Type.IsSigned() {
				e.emit2(OpAsr, o[0].Top(), o[1], ImmUD(31))
			} else {
				e.emit1(OpMov, o[0].Top(), ImmUD(0))
			}
		})
	default:
		if op != OpMov || dst.Type.IsFloat() {
			unimplemented("%s from %s to %s", op, src.Type, dst.Type)
		}
		if src.IsImm() {
			encodingError(op, "64-bit immediate %s must be loaded with LoadInt64Imm", src)
		}
		// Truncation only reads the low halves.
		e.movStrided(dst, src.Bottom())
	}
}

// movStrided copies a region read with a 2-dword stride, four channels per word.
func (e *Encoder) movStrided(dst, src Reg) {
	e.splitQuads(operands{dst, src}, func(o operands) { e.emit1(OpMov, o[0], o[1]) })
}

func (e *Encoder) int64Alu2(op Opcode, dst, src0, src1 Reg) {
	switch op {
	case OpAnd, OpOr, OpXor, OpSel:
	case OpAdd:
		e.I64Add(dst, src0, src1)
		return
	default:
		unimplemented("%s on 64-bit integers", op)
	}
	requireInt64(op, dst, src0, src1)
	e.splitQuads(operands{dst, src0, src1}, func(o operands) {
		e.emit2(op, o[0].Bottom(), o[1].Bottom(), o[2].Bottom())
		e.emit2(op, o[0].Top(), o[1].Top(), o[2].Top())
	})
}

// I64Add emits dst = src0 + src1 on 64-bit integers. The carry of the low halves goes
// through the accumulator.
func (e *Encoder) I64Add(dst, src0, src1 Reg) {
	requireInt64(OpAdd, dst, src0, src1)
	acc := Acc(TypeUD)
	e.splitQuads(operands{dst, src0, src1}, func(o operands) {
		d, x, y := o[0], o[1], o[2]
		e.Addc(d.Bottom(), x.Bottom(), y.Bottom())
		e.emit2(OpAdd, d.Top(), x.Top(), y.Top())
		e.emit2(OpAdd, d.Top(), d.Top(), acc)
	})
}

// I64Sub emits dst = src0 - src1 on 64-bit integers.
func (e *Encoder) I64Sub(dst, src0, src1 Reg) {
	requireInt64(OpAdd, dst, src0, src1)
	acc := Acc(TypeUD)
	e.splitQuads(operands{dst, src0, src1}, func(o operands) {
		d, x, y := o[0], o[1], o[2]
		e.Subb(d.Bottom(), x.Bottom(), y.Bottom())
		e.emit2(OpAdd, d.Top(), x.Top(), y.Top().Neg())
		e.emit2(OpAdd, d.Top(), d.Top(), acc.Neg())
	})
}

// I64Mul emits the low 64 bits of src0 * src1. tmp is a 64-bit register of the same shape
// as dst. dst may alias a source.
func (e *Encoder) I64Mul(dst, src0, src1, tmp Reg) {
	requireInt64(OpMul, dst, src0, src1, tmp)
	acc := Acc(TypeUD)
	e.splitQuads(operands{dst, src0, src1, tmp}, func(o operands) {
		d, t := o[0], o[3]
		xl, xh := o[1].Retype(TypeUQ).Bottom(), o[1].Retype(TypeUQ).Top()
		yl, yh := o[2].Retype(TypeUQ).Bottom(), o[2].Retype(TypeUQ).Top()
		tl, th := t.Retype(TypeUQ).Bottom(), t.Retype(TypeUQ).Top()
		// hi = lo(xl*yh) + lo(xh*yl) + hi(xl*yl)
		e.emit2(OpMul, tl, xl, yh)
		e.emit2(OpMul, th, xh, yl)
		e.emit2(OpAdd, th, th, tl)
		e.emit2(OpMul, acc, xl, yl)
		e.emit2(OpMach, tl, xl, yl)
		e.emit2(OpAdd, th, th, tl)
		e.emit2(OpMul, d.Retype(TypeUQ).Bottom(), xl, yl)
		e.emit1(OpMov, d.Retype(TypeUQ).Top(), th)
	})
}

// I64MulHi emits the high 64 bits of the unsigned 128-bit product src0 * src1. tmp0 and tmp1
// are 64-bit registers of the same shape as dst, which may alias a source.
func (e *Encoder) I64MulHi(dst, src0, src1, tmp0, tmp1 Reg) {
	if dst.Type == TypeQ || src0.Type == TypeQ || src1.Type == TypeQ {
		unimplemented("signed 64-bit multiply high")
	}
	requireInt64(OpMach, dst, src0, src1, tmp0, tmp1)
	acc := Acc(TypeUD)
	e.splitQuads(operands{dst, src0, src1, tmp0, tmp1}, func(o operands) {
		a, b := o[1].Bottom(), o[1].Top()
		c, d := o[2].Bottom(), o[2].Top()
		sum, part := o[3].Bottom(), o[3].Top()
		c2, c1 := o[4].Bottom(), o[4].Top()
		addCarry := func(carry Reg, first bool) {
			e.Addc(sum, sum, part)
			if first {
				e.emit1(OpMov, carry, acc)
			} else {
				e.emit2(OpAdd, carry, carry, acc)
			}
		}

		// Second word of the product: hi(ac) + lo(ad) + lo(bc). Only its carries matter.
		e.emit2(OpMul, acc, a, c)
		e.emit2(OpMach, sum, a, c)
		e.emit2(OpMul, part, a, d)
		addCarry(c1, true)
		e.emit2(OpMul, part, b, c)
		addCarry(c1, false)

		// Third word: hi(ad) + hi(bc) + lo(bd) + carries of the second.
		e.emit2(OpMul, acc, a, d)
		e.emit2(OpMach, sum, a, d)
		e.emit2(OpMul, acc, b, c)
		e.emit2(OpMach, part, b, c)
		addCarry(c2, true)
		e.emit2(OpMul, part, b, d)
		addCarry(c2, false)
		e.Addc(sum, sum, c1)
		e.emit2(OpAdd, c2, c2, acc)

		// Fourth word: hi(bd) + carries of the third.
		e.emit2(OpMul, acc, b, d)
		e.emit2(OpMach, part, b, d)
		e.emit2(OpAdd, part, part, c2)

		e.emit1(OpMov, o[0].Bottom(), sum)
		e.emit1(OpMov, o[0].Top(), part)
	})
}

// loadImm64 writes the 64 bits v to the first qword of tmp, with a single channel.
func (e *Encoder) loadImm64(tmp Reg, v uint64) {
	if tmp.File != FileGRF {
		encodingError(OpMov, "64-bit immediate staging register %s must be a general register", tmp)
	}
	lo := tmp.Retype(TypeUD).ToScalar()
	e.Push()
	e.Curr = State{ExecWidth: 1, Quarter: QuarterQ1, NoMask: true}
	e.emit1(OpMov, lo, ImmUD(uint32(v)))
	e.emit1(OpMov, lo.ByteOffset(4), ImmUD(uint32(v>>32)))
	e.Pop()
}

// LoadDFImm broadcasts the double v to every channel of dst, staging it in tmp.
func (e *Encoder) LoadDFImm(dst, tmp Reg, v float64) {
	e.loadImm64(tmp, math.Float64bits(v))
	e.Push()
	e.Curr.Predicate = PredicateNone
	e.Curr.NoMask = true
	e.splitQuads(operands{dst.Retype(TypeDF), tmp.Retype(TypeDF).ToScalar()}, func(o operands) {
		e.emit1(OpMov, o[0], o[1])
	})
	e.Pop()
}

// LoadInt64Imm broadcasts the 64-bit integer v to every channel of dst.
func (e *Encoder) LoadInt64Imm(dst Reg, v int64) {
	if !dst.Type.IsInt64() {
		encodingError(OpMov, "destination %s of a 64-bit integer immediate", dst)
	}
	e.Push()
	e.Curr.Predicate = PredicateNone
	e.Curr.NoMask = true
	e.splitQuads(operands{dst}, func(o operands) {
		e.emit1(OpMov, o[0].Bottom(), ImmUD(uint32(v)))
		e.emit1(OpMov, o[0].Top(), ImmUD(uint32(uint64(v)>>32)))
	})
	e.Pop()
}

// Read64 loads one 64-bit value per channel from the byte addresses in addr, without any
// alignment requirement beyond 4 bytes. Each group of 8 channels is read as 16 dwords:
// tmpAddr and tmpData must each span two registers.
func (e *Encoder) Read64(dst, tmpAddr, tmpData, addr Reg, bti uint32) {
	g := e.groups("64-bit read")
	a := tmpAddr.Retype(TypeUD)
	for i := 0; i < g; i++ {
		e.Push()
		e.Curr = State{ExecWidth: 8, Quarter: QuarterQ1, NoMask: true}
		// Interleave addr and addr+4 so that dword 2k+j of the response is half j of channel k.
		e.quads(operands{a.H2(), addr.Retype(TypeUD).Quarter(i)}, func(o operands) {
			e.emit1(OpMov, o[0], o[1])
			e.emit2(OpAdd, o[0].ByteOffset(4), o[1], ImmUD(4))
		})
		e.Curr.ExecWidth = 16
		e.UntypedRead(tmpData, a, bti, 1)
		e.Pop()

		e.Push()
		e.Curr.ExecWidth = 8
		e.Curr.Quarter = QuarterControl(i) + QuarterQ1
		e.Mov(dst.Retype(TypeDF).Quarter(i), tmpData.Retype(TypeDF))
		e.Pop()
	}
}

// Write64 stores one 64-bit value per channel of data at the byte addresses in addr, as two
// dword writes. msg is the payload area: the addresses followed by one dword per channel.
func (e *Encoder) Write64(msg, addr, data Reg, bti uint32) {
	g := e.groups("64-bit write")
	addrs := msg.Retype(TypeUD)
	payload := msg.Retype(TypeUD).Offset(g, 0)
	halves := data.Retype(TypeUQ)
	e.Mov(addrs, addr.Retype(TypeUD))
	e.movStrided(payload, halves.Bottom())
	e.UntypedWrite(msg, bti, 1)
	e.Add(addrs, addrs, ImmUD(4))
	e.movStrided(payload, halves.Top())
	e.UntypedWrite(msg, bti, 1)
}
