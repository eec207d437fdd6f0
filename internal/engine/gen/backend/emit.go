package backend

import (
	"fmt"
	"math"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
	"github.com/gbe-go/gbe/ir"
)

// pendingJump is a jump whose distance is known once every label is placed.
type pendingJump struct {
	slot  encoder.JumpSlot
	label ir.LabelIndex
	instr *instruction
}

// emitter encodes the allocated selection instructions of a function.
type emitter struct {
	enc       *encoder.Encoder
	f         *function
	curbe     *curbe
	stackSize uint32
	// labels holds the word position of each label, -1 until placed.
	labels []int
	jumps  []pendingJump
}

// stage returns the k-th register of the message staging area.
func stage(k int, t encoder.ElemType) encoder.Reg {
	return encoder.Vec(stageFirst+k, t)
}

// header returns the thread payload header, which every message with a header starts with.
func header() encoder.Reg {
	return encoder.Vec(0, encoder.TypeUD)
}

func (em *emitter) groups() int {
	return em.f.simdWidth / 8
}

// emitFunction encodes the prologue and every block in program order, then resolves the jumps.
func (em *emitter) emitFunction(numLabels int) {
	em.labels = make([]int, numLabels)
	for i := range em.labels {
		em.labels[i] = -1
	}
	em.jumps = em.jumps[:0]

	em.prologue()
	for bi, b := range em.f.blocks {
		var next *block
		if bi+1 < len(em.f.blocks) {
			next = em.f.blocks[bi+1]
		}
		for i := b.root; i != nil; i = i.next {
			em.emit(i, next)
			if genapi.EncoderValidationEnabled && em.enc.Depth() != 0 {
				panic(fmt.Sprintf("BUG: encoder state left pushed by %s", i))
			}
		}
	}

	for _, j := range em.jumps {
		target := em.labels[j.label]
		if target < 0 {
			panic(malformedJump(j.instr))
		}
		em.enc.PatchJump(j.slot, int32(target-j.slot.Pos()-1))
		if genapi.PrintPatchedBranches {
			fmt.Printf("[%s] jump at %d patched to L%d (word %d)\n", em.f.name, j.slot.Pos(), j.label, target)
		}
	}
}

// prologue starts every dispatched lane at the first block when lanes may diverge, and computes
// the stack pointer of every lane from its local id.
func (em *emitter) prologue() {
	e := em.enc
	e.Curr = encoder.DefaultState(em.f.simdWidth)
	if em.f.masked {
		e.Push()
		e.Curr.NoMask = true
		e.Mov(blockIP(), encoder.ImmUW(math.MaxUint16))
		e.Pop()
		e.Mov(blockIP(), encoder.ImmUW(0))
	}
	if em.curbe.sp == 0 {
		return
	}
	e.Push()
	e.Curr.NoMask = true
	sp := encoder.Vec(em.curbe.sp, encoder.TypeD)
	e.Mul(sp, em.curbe.fixed[ir.RegLocalID0], encoder.ImmD(int32(em.stackSize)))
	e.Add(sp, sp, em.curbe.fixed[ir.RegStackBuffer])
	e.Pop()
}

func (em *emitter) emit(i *instruction, next *block) {
	e := em.enc
	e.Curr = i.state
	g := em.groups()
	switch i.kind {
	case kindLabel:
		if em.labels[i.label] >= 0 {
			panic(malformedLabel(i.label))
		}
		em.labels[i.label] = e.Len()
	case kindUnary:
		em.unary(i.op, i.dst[0].nr(), i.src[0].nr())
	case kindBinary:
		em.binary(i.op, i.dst[0].nr(), i.src[0].nr(), i.src[1].nr())
	case kindMad:
		e.Mad(i.dst[0].nr(), i.src[0].nr(), i.src[1].nr(), i.src[2].nr())
	case kindMulHi:
		em.mulHi(i)
	case kindMath:
		src1 := encoder.Null(encoder.TypeF)
		if i.nsrc > 1 {
			src1 = i.src[1].nr()
		}
		e.Math(i.math, i.dst[0].nr(), i.src[0].nr(), src1)
	case kindCmp:
		e.Cmp(i.cond, i.dst[0].nr(), i.src[0].nr(), i.src[1].nr())
	case kindSelCmp:
		e.SelCmp(i.cond, i.dst[0].nr(), i.src[0].nr(), i.src[1].nr())
	case kindJmpi:
		if i.state.Predicate == encoder.PredicateNone && i.next == nil && next != nil && next.label == i.label {
			return
		}
		em.jumps = append(em.jumps, pendingJump{slot: e.Jmpi(), label: i.label, instr: i})
	case kindEOT:
		e.Push()
		e.Curr = encoder.State{ExecWidth: 8, Quarter: encoder.QuarterQ1, NoMask: true}
		e.Mov(encoder.Vec(eotReg, encoder.TypeUD), header())
		e.Pop()
		e.EOT(eotReg)
	case kindNop:
		e.Nop()
	case kindWait:
		e.Wait()
	case kindBarrier:
		em.copyHeader()
		e.Barrier(stage(0, encoder.TypeUD))
	case kindFence:
		em.copyHeader()
		e.Fence(stage(0, encoder.TypeUD))

	case kindUntypedRead:
		e.Mov(stage(0, encoder.TypeUD), i.src[0].nr())
		e.UntypedRead(stage(g, encoder.TypeUD), stage(0, encoder.TypeUD), i.bti, i.elems)
		for k := 0; k < i.ndst; k++ {
			d := i.dst[k].nr()
			e.Mov(d, stage(g+k*g, d.Type))
		}
	case kindUntypedWrite:
		e.Mov(stage(0, encoder.TypeUD), i.src[0].nr())
		for k := 0; k < i.elems; k++ {
			s := i.src[1+k].nr()
			e.Mov(stage(g*(1+k), s.Type), s)
		}
		e.UntypedWrite(stage(0, encoder.TypeUD), i.bti, i.elems)
	case kindByteGather:
		d := i.dst[0].nr()
		e.Mov(stage(0, encoder.TypeUD), i.src[0].nr())
		e.ByteGather(stage(g, encoder.TypeUD), stage(0, encoder.TypeUD), i.bti, i.elems)
		e.Mov(d, stage(g, dwordType(d.Type)))
	case kindByteScatter:
		s := i.src[1].nr()
		e.Mov(stage(0, encoder.TypeUD), i.src[0].nr())
		e.Mov(stage(g, dwordType(s.Type)), s)
		e.ByteScatter(stage(0, encoder.TypeUD), i.bti, i.elems)
	case kindDwordGather:
		d := i.dst[0].nr()
		// The constant cache is addressed in dwords.
		e.Shr(stage(0, encoder.TypeUD), i.src[0].nr().Retype(encoder.TypeUD), encoder.ImmUD(2))
		e.DwordGather(stage(g, encoder.TypeUD), stage(0, encoder.TypeUD), i.bti)
		e.Mov(d, stage(g, d.Type))
	case kindRead64:
		e.Read64(i.dst[0].nr(), stage(0, encoder.TypeUD), stage(2, encoder.TypeUD), i.src[0].nr(), i.bti)
	case kindWrite64:
		e.Write64(stage(0, encoder.TypeUD), i.src[0].nr(), i.src[1].nr(), i.bti)
	case kindAtomic:
		e.Mov(stage(0, encoder.TypeUD), i.src[0].nr())
		for k := 1; k < i.nsrc; k++ {
			s := i.src[k].nr()
			e.Mov(stage(g*k, s.Type), s)
		}
		resp := stage(g*i.nsrc, encoder.TypeUD)
		e.Atomic(resp, i.atomic, stage(0, encoder.TypeUD), i.bti, i.nsrc)
		d := i.dst[0].nr()
		e.Mov(d, resp.Retype(d.Type))
	case kindSample:
		em.sample(i)
	case kindTypedWrite:
		em.typedWrite(i)
	case kindGetImageInfo:
		e.Mov(stage(0, encoder.TypeUD), encoder.ImmUD(0))
		e.GetImageInfo(stage(0, encoder.TypeUD), stage(0, encoder.TypeUD), i.bti)
		d := i.dst[0].nr()
		e.Mov(d, stage(i.elems*g, d.Type))

	case kindSpill:
		slot := int(i.src[0].v.RealReg())
		e.Push()
		e.Curr = encoder.State{ExecWidth: 8, Quarter: encoder.QuarterQ1, NoMask: true}
		e.Mov(stage(0, encoder.TypeUD), header())
		for k := 0; k < i.elems; k++ {
			e.Mov(stage(1+k, encoder.TypeUD), encoder.Vec(slot+k, encoder.TypeUD))
		}
		e.ScratchWrite(stage(0, encoder.TypeUD), i.offset*encoder.GRFSize, i.elems)
		e.Pop()
	case kindUnspill:
		slot := int(i.dst[0].v.RealReg())
		e.Push()
		e.Curr = encoder.State{ExecWidth: 8, Quarter: encoder.QuarterQ1, NoMask: true}
		e.Mov(stage(0, encoder.TypeUD), header())
		e.ScratchRead(encoder.Vec(slot, encoder.TypeUD), stage(0, encoder.TypeUD), i.offset*encoder.GRFSize, i.elems)
		e.Pop()

	case kindLoadDFImm:
		e.LoadDFImm(i.dst[0].nr(), stage(0, encoder.TypeDF), math.Float64frombits(i.imm))
	case kindLoadInt64Imm:
		e.LoadInt64Imm(i.dst[0].nr(), int64(i.imm))
	case kindI64Add:
		e.I64Add(i.dst[0].nr(), i.src[0].nr(), i.src[1].nr())
	case kindI64Sub:
		e.I64Sub(i.dst[0].nr(), i.src[0].nr(), i.src[1].nr())
	case kindI64Mul:
		e.I64Mul(i.dst[0].nr(), i.src[0].nr(), i.src[1].nr(), i.tmp[0].nr())
	case kindI64MulHi:
		e.I64MulHi(i.dst[0].nr(), i.src[0].nr(), i.src[1].nr(), i.tmp[0].nr(), i.tmp[1].nr())
	default:
		panic(fmt.Sprintf("BUG: cannot emit %s", i))
	}
}

func malformedLabel(l ir.LabelIndex) error {
	return &api.MalformedInstructionError{Instruction: fmt.Sprintf("label $%d", l), Reason: "label defined twice"}
}

func malformedJump(i *instruction) error {
	return &api.MalformedInstructionError{Instruction: fmt.Sprintf("jmpi $%d", i.label), Reason: "branch to an undefined label"}
}

// dwordType returns the type of the dword holding a value of type t in a scattered message.
func dwordType(t encoder.ElemType) encoder.ElemType {
	if t.Size() == 4 {
		return t
	}
	return encoder.TypeUD
}

func (em *emitter) copyHeader() {
	e := em.enc
	e.Push()
	e.Curr = encoder.State{ExecWidth: 8, Quarter: encoder.QuarterQ1, NoMask: true}
	e.Mov(stage(0, encoder.TypeUD), header())
	e.Pop()
}

func (em *emitter) unary(op encoder.Opcode, dst, src encoder.Reg) {
	e := em.enc
	switch op {
	case encoder.OpMov:
		e.Mov(dst, src)
	case encoder.OpNot:
		e.Not(dst, src)
	case encoder.OpLzd:
		e.Lzd(dst, src)
	case encoder.OpFbh:
		e.Fbh(dst, src)
	case encoder.OpFbl:
		e.Fbl(dst, src)
	case encoder.OpRndz:
		e.Rndz(dst, src)
	case encoder.OpRnde:
		e.Rnde(dst, src)
	case encoder.OpRndd:
		e.Rndd(dst, src)
	case encoder.OpRndu:
		e.Rndu(dst, src)
	case encoder.OpFrc:
		e.Frc(dst, src)
	default:
		panic(fmt.Sprintf("BUG: %s is not a unary opcode", op))
	}
}

func (em *emitter) binary(op encoder.Opcode, dst, src0, src1 encoder.Reg) {
	e := em.enc
	switch op {
	case encoder.OpSel:
		e.Sel(dst, src0, src1)
	case encoder.OpAnd:
		e.And(dst, src0, src1)
	case encoder.OpOr:
		e.Or(dst, src0, src1)
	case encoder.OpXor:
		e.Xor(dst, src0, src1)
	case encoder.OpShr:
		e.Shr(dst, src0, src1)
	case encoder.OpShl:
		e.Shl(dst, src0, src1)
	case encoder.OpAsr:
		e.Asr(dst, src0, src1)
	case encoder.OpAdd:
		e.Add(dst, src0, src1)
	case encoder.OpMul:
		e.Mul(dst, src0, src1)
	default:
		panic(fmt.Sprintf("BUG: %s is not a binary opcode", op))
	}
}

// mulHi computes the high half of each product 8 lanes at a time, the accumulator holding 8 lanes.
func (em *emitter) mulHi(i *instruction) {
	e := em.enc
	d, x, y := i.dst[0].nr(), i.src[0].nr(), i.src[1].nr()
	for q := 0; q < em.groups(); q++ {
		e.Push()
		e.Curr.ExecWidth = 8
		e.Curr.Quarter = encoder.QuarterQ1 + encoder.QuarterControl(q)
		e.Mul(encoder.Acc(d.Type), x.Quarter(q), y.Quarter(q))
		e.Curr.AccWrite = true
		e.Mach(d.Quarter(q), x.Quarter(q), y.Quarter(q))
		e.Pop()
	}
}

// sample lays out the coordinates, with a zero level of detail after u for texel reads.
func (em *emitter) sample(i *instruction) {
	e := em.enc
	g := em.groups()
	n := 0
	for k := 0; k < i.elems; k++ {
		s := i.src[k].nr()
		e.Mov(stage(n*g, s.Type), s)
		n++
		if i.ld && k == 0 {
			e.Mov(stage(n*g, encoder.TypeD), encoder.ImmD(0))
			n++
		}
	}
	e.Sample(stage(0, encoder.TypeUD), stage(0, encoder.TypeUD), i.bti, i.sampler, n, i.ld, false)
	for k := 0; k < i.ndst; k++ {
		d := i.dst[k].nr()
		e.Mov(d, stage(k*g, d.Type))
	}
}

// typedWrite sends one message per 8 lanes: a header, four coordinates and four channels.
func (em *emitter) typedWrite(i *instruction) {
	e := em.enc
	for q := 0; q < em.groups(); q++ {
		em.copyHeader()
		e.Push()
		e.Curr.ExecWidth = 8
		e.Curr.Quarter = encoder.QuarterQ1 + encoder.QuarterControl(q)
		for c := 0; c < 4; c++ {
			if c < i.elems {
				e.Mov(stage(1+c, encoder.TypeD), i.src[c].nr().Quarter(q))
			} else {
				e.Mov(stage(1+c, encoder.TypeD), encoder.ImmD(0))
			}
		}
		for c := 0; c < 4; c++ {
			s := i.src[i.elems+c].nr()
			e.Mov(stage(5+c, s.Type), s.Quarter(q))
		}
		e.TypedWrite(stage(0, encoder.TypeUD), i.bti)
		e.Pop()
	}
}
