package backend

import (
	"fmt"
	"strings"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
	"github.com/gbe-go/gbe/ir"
)

// function holds the selection instructions of a kernel, grouped into blocks in program order.
// It implements regalloc.Function.
type function struct {
	name      string
	simdWidth int
	// masked is true when lanes may diverge: every block then runs under the mask of the lanes
	// whose block ip matches it.
	masked    bool
	blocks    []*block
	instrPool genapi.Arena[instruction]
	blockPool genapi.Arena[block]
	nextVReg  regalloc.VRegID

	// vs is the buffer returned by Instr.Defs and Instr.Uses.
	vs []regalloc.VReg

	rpo    []*block
	rpoPos int
	// spillCode counts the instructions inserted by the allocator.
	spillCode int
}

// block is a basic block of selection instructions. It implements regalloc.Block.
type block struct {
	id    int
	label ir.LabelIndex
	// root is the label instruction starting the block, tail its last instruction.
	root, tail *instruction
	succs      []*block
	succBuf    []regalloc.Block
	cur        *instruction
	visited    bool
}

func newFunction() *function {
	return &function{
		instrPool: genapi.NewArena[instruction](),
		blockPool: genapi.NewArena[block](),
	}
}

func (f *function) reset(name string, simdWidth int) {
	f.name, f.simdWidth = name, simdWidth
	f.masked = false
	f.blocks = f.blocks[:0]
	f.instrPool.Reset()
	f.blockPool.Reset()
	f.nextVReg = 0
	f.rpo = f.rpo[:0]
	f.rpoPos = 0
	f.spillCode = 0
}

// allocateInstruction returns a zeroed instruction carrying the default state of the kernel.
func (f *function) allocateInstruction(kind instructionKind) *instruction {
	i, _ := f.instrPool.Allocate()
	i.kind = kind
	i.state = encoder.DefaultState(f.simdWidth)
	i.fn = f
	return i
}

// allocateVReg returns a new virtual register large enough for one element of size bytes per lane.
func (f *function) allocateVReg(size int) regalloc.VReg {
	span := (f.simdWidth*size + encoder.GRFSize - 1) / encoder.GRFSize
	v := regalloc.NewVReg(f.nextVReg, span)
	f.nextVReg++
	return v
}

// newBlock appends a block starting with the label l.
func (f *function) newBlock(l ir.LabelIndex) *block {
	b, _ := f.blockPool.Allocate()
	b.id = len(f.blocks)
	b.label = l
	root := f.allocateInstruction(kindLabel)
	root.label = l
	root.blk = b
	b.root, b.tail = root, root
	f.blocks = append(f.blocks, b)
	return b
}

func (b *block) append(i *instruction) {
	i.blk = b
	i.prev, i.next = b.tail, nil
	b.tail.next = i
	b.tail = i
}

func (b *block) insertAfter(anchor, i *instruction) {
	i.blk = b
	i.prev, i.next = anchor, anchor.next
	if anchor.next != nil {
		anchor.next.prev = i
	} else {
		b.tail = i
	}
	anchor.next = i
}

// ID implements regalloc.Block.
func (b *block) ID() int { return b.id }

// InstrIteratorBegin implements regalloc.Block.
func (b *block) InstrIteratorBegin() regalloc.Instr {
	b.cur = b.root
	return b.skipAdded()
}

// InstrIteratorNext implements regalloc.Block.
func (b *block) InstrIteratorNext() regalloc.Instr {
	b.cur = b.cur.next
	return b.skipAdded()
}

func (b *block) skipAdded() regalloc.Instr {
	for b.cur != nil && b.cur.addedAfterRegAlloc {
		b.cur = b.cur.next
	}
	if b.cur == nil {
		return nil
	}
	return b.cur
}

// Succs implements regalloc.Block.
func (b *block) Succs() []regalloc.Block {
	b.succBuf = b.succBuf[:0]
	for _, s := range b.succs {
		b.succBuf = append(b.succBuf, s)
	}
	return b.succBuf
}

func (b *block) addSucc(s *block) {
	for _, e := range b.succs {
		if e == s {
			return
		}
	}
	b.succs = append(b.succs, s)
}

// computeRPO orders the blocks reachable from the entry in reverse post-order, followed by the
// unreachable ones in program order.
func (f *function) computeRPO() {
	f.rpo = f.rpo[:0]
	if len(f.blocks) == 0 {
		return
	}
	var post []*block
	type frame struct {
		b    *block
		next int
	}
	stack := []frame{{b: f.blocks[0]}}
	f.blocks[0].visited = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.b.succs) {
			s := top.b.succs[top.next]
			top.next++
			if !s.visited {
				s.visited = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	for i := len(post) - 1; i >= 0; i-- {
		f.rpo = append(f.rpo, post[i])
	}
	for _, b := range f.blocks {
		if !b.visited {
			f.rpo = append(f.rpo, b)
		}
	}
}

// ReversePostOrderBlockIteratorBegin implements regalloc.Function.
func (f *function) ReversePostOrderBlockIteratorBegin() regalloc.Block {
	f.rpoPos = 0
	return f.rpoAt()
}

// ReversePostOrderBlockIteratorNext implements regalloc.Function.
func (f *function) ReversePostOrderBlockIteratorNext() regalloc.Block {
	f.rpoPos++
	return f.rpoAt()
}

func (f *function) rpoAt() regalloc.Block {
	if f.rpoPos >= len(f.rpo) {
		return nil
	}
	return f.rpo[f.rpoPos]
}

// StoreRegisterAfter implements regalloc.Function.
func (f *function) StoreRegisterAfter(v regalloc.VReg, offset int, instr regalloc.Instr) {
	at := instr.(*instruction)
	st := f.allocateInstruction(kindSpill)
	st.src[0], st.nsrc = operandVReg(v, encoder.TypeUD), 1
	st.elems, st.offset = v.Span(), offset
	st.addedAfterRegAlloc = true
	at.blk.insertAfter(at, st)
	f.spillCode++
}

// ReloadRegisterBefore implements regalloc.Function.
func (f *function) ReloadRegisterBefore(v regalloc.VReg, offset int, instr regalloc.Instr) {
	at := instr.(*instruction)
	ld := f.allocateInstruction(kindUnspill)
	ld.dst[0], ld.ndst = operandVReg(v, encoder.TypeUD), 1
	ld.elems, ld.offset = v.Span(), offset
	ld.addedAfterRegAlloc = true
	at.blk.insertAfter(at.prev, ld)
	f.spillCode++
}

// Done implements regalloc.Function.
func (f *function) Done() {}

// String returns the selection instructions of every block, for debugging.
func (f *function) String() string {
	var sb strings.Builder
	for _, b := range f.blocks {
		for i := b.root; i != nil; i = i.next {
			if i.kind == kindLabel {
				fmt.Fprintf(&sb, "L%d:\n", i.label)
				continue
			}
			fmt.Fprintf(&sb, "\t%s\n", i)
		}
	}
	return sb.String()
}

var _ regalloc.Function = (*function)(nil)
