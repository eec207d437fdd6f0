// Package regalloc implements a graph coloring register allocator over general registers
// which are grouped into contiguous ranges.
//
// The allocator computes liveness with a backward dataflow analysis, builds the interference
// graph, and colors it Chaitin-style. When a virtual register cannot be colored, it is either
// reported with ErrRegisterPressureExceeded, or spilled to scratch space if spill slots are available.
package regalloc

import (
	"fmt"
	"strings"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
)

// ErrRegisterPressureExceeded is returned by DoAllocation when a virtual register cannot be
// colored and spilling is disabled.
var ErrRegisterPressureExceeded = api.ErrRegisterPressureExceeded

// RegisterInfo describes the general registers available to virtual registers.
type RegisterInfo struct {
	// First and Limit bound the allocatable range [First, Limit).
	First, Limit RealReg
	// SpillSlots enables spilling when non-empty. Each element is the first register of a slot of
	// MaxSpan registers outside the allocatable range. One instruction never needs more slots
	// than the number of distinct registers it references.
	SpillSlots []RealReg
}

// NewAllocator returns a new Allocator.
func NewAllocator() Allocator {
	return Allocator{
		nodePool:  genapi.NewArena[node](),
		blockPool: genapi.NewArena[blockInfo](),
	}
}

// Allocator is a register allocator.
type Allocator struct {
	info   *RegisterInfo
	blocks []*blockInfo
	// instrs is the snapshot of the instructions of each block, taken before spill code is inserted.
	instrs [][]Instr
	// order is the reverse post-order of the blocks.
	order     []*blockInfo
	nodes     []*node
	nodePool  genapi.Arena[node]
	spilled   []*node
	scratch   int
	blockPool genapi.Arena[blockInfo]
	edges     map[uint64]struct{}

	// Following fields are reused across allocations to avoid allocations.
	live         bitset
	defs, uses   []*node
	stack, bound []*node
	vs           []VReg
}

type blockInfo struct {
	id    int
	succs []int
	// ueVar are the upward exposed uses, varKill the definitions.
	ueVar, varKill, liveIn, liveOut bitset
}

// String implements fmt.Stringer for debugging.
func (b *blockInfo) String() string {
	var in, out []string
	b.liveIn.scan(func(i uint) { in = append(in, fmt.Sprintf("v%d", i)) })
	b.liveOut.scan(func(i uint) { out = append(out, fmt.Sprintf("v%d", i)) })
	return fmt.Sprintf("blockInfo{id=%d, succs=%v, liveIn=[%s], liveOut=[%s]}",
		b.id, b.succs, strings.Join(in, ","), strings.Join(out, ","))
}

// Reset resets the allocator's internal state so that it can be reused.
func (a *Allocator) Reset() {
	a.info = nil
	a.blocks = a.blocks[:0]
	a.order = a.order[:0]
	for i := range a.instrs {
		a.instrs[i] = a.instrs[i][:0]
	}
	a.instrs = a.instrs[:0]
	a.nodes = a.nodes[:0]
	a.nodePool.Reset()
	a.blockPool.Reset()
	a.spilled = a.spilled[:0]
	a.bound = a.bound[:0]
	a.scratch = 0
}

// ScratchSize returns the number of registers worth of scratch space used by spilled registers
// during the last DoAllocation.
func (a *Allocator) ScratchSize() int {
	return a.scratch
}

// SpilledCount returns the number of virtual registers spilled by the last DoAllocation.
func (a *Allocator) SpilledCount() int {
	return len(a.spilled)
}

// DoAllocation performs register allocation on the given Function.
func (a *Allocator) DoAllocation(f Function, info *RegisterInfo) error {
	a.Reset()
	if info.Limit <= info.First || info.Limit == RealRegInvalid {
		panic(fmt.Sprintf("BUG: empty allocatable range [r%d, r%d)", info.First, info.Limit))
	}
	a.info = info
	a.collect(f)
	a.livenessAnalysis()
	if genapi.RegAllocLoggingEnabled {
		for _, b := range a.blocks {
			fmt.Println(b)
		}
	}
	a.buildInterference()
	a.color()
	if len(a.spilled) > 0 {
		if len(info.SpillSlots) == 0 {
			return ErrRegisterPressureExceeded
		}
		a.assignScratch()
	}
	a.rewrite(f)
	if genapi.RegAllocValidationEnabled {
		a.validate()
	}
	f.Done()
	return nil
}

// collect snapshots the CFG, and creates one node per virtual register.
func (a *Allocator) collect(f Function) {
	for blk := f.ReversePostOrderBlockIteratorBegin(); blk != nil; blk = f.ReversePostOrderBlockIteratorNext() {
		id := blk.ID()
		for len(a.blocks) <= id {
			a.blocks = append(a.blocks, nil)
			a.instrs = append(a.instrs, nil)
		}
		info, _ := a.blockPool.Allocate()
		info.id = id
		for _, s := range blk.Succs() {
			info.succs = append(info.succs, s.ID())
		}
		a.blocks[id] = info
		a.order = append(a.order, info)

		instrs := a.instrs[id][:0]
		for instr := blk.InstrIteratorBegin(); instr != nil; instr = blk.InstrIteratorNext() {
			instrs = append(instrs, instr)
			for _, v := range instr.Defs() {
				a.observe(v)
			}
			for _, v := range instr.Uses() {
				a.observe(v)
			}
		}
		a.instrs[id] = instrs
	}
}

func (a *Allocator) observe(v VReg) {
	if !v.Valid() {
		panic(fmt.Sprintf("BUG: invalid register %s", v))
	}
	if v.IsRealReg() {
		if r := v.RealReg(); r >= a.info.First && r < a.info.Limit {
			panic(fmt.Sprintf("BUG: pre-colored %s inside the allocatable range", v))
		}
		return
	}
	id := int(v.ID())
	for len(a.nodes) <= id {
		a.nodes = append(a.nodes, nil)
	}
	n := a.nodes[id]
	if n == nil {
		n, _ = a.nodePool.Allocate()
		n.v, n.r, n.slot = v, RealRegInvalid, RealRegInvalid
		a.nodes[id] = n
	} else if n.v.Span() != v.Span() {
		panic(fmt.Sprintf("BUG: %s used with spans %d and %d", v, n.v.Span(), v.Span()))
	}
}

// livenessAnalysis computes the live-in and live-out sets of every block, iterating to a fixpoint
// in post-order since the analysis flows backward.
func (a *Allocator) livenessAnalysis() {
	for _, info := range a.order {
		for _, instr := range a.instrs[info.id] {
			for _, u := range instr.Uses() {
				if id := uint(u.ID()); !u.IsRealReg() && !info.varKill.has(id) {
					info.ueVar.set(id)
				}
			}
			for _, d := range instr.Defs() {
				if !d.IsRealReg() {
					info.varKill.set(uint(d.ID()))
				}
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for i := len(a.order) - 1; i >= 0; i-- {
			info := a.order[i]
			for _, s := range info.succs {
				if s >= len(a.blocks) || a.blocks[s] == nil {
					panic(fmt.Sprintf("BUG: successor %d of block %d is not in the CFG", s, info.id))
				}
				if info.liveOut.union(&a.blocks[s].liveIn) {
					changed = true
				}
			}
			if info.liveIn.union(&info.ueVar) {
				changed = true
			}
			if info.liveIn.unionDiff(&info.liveOut, &info.varKill) {
				changed = true
			}
		}
	}
}

// validate panics if two interfering registers were given overlapping ranges.
func (a *Allocator) validate() {
	for _, n := range a.nodes {
		if n == nil || n.spilled {
			continue
		}
		for _, m := range n.neighbors {
			if !m.spilled && n.v.SetRealReg(n.r).Overlaps(m.v.SetRealReg(m.r)) {
				panic(fmt.Sprintf("BUG: interfering %s and %s allocated to overlapping r%d and r%d", n.v, m.v, n.r, m.r))
			}
		}
	}
}
