package regalloc

import (
	"fmt"

	"github.com/google/btree"

	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
)

// node is a virtual register in the interference graph.
type node struct {
	v         VReg
	r         RealReg
	neighbors []*node
	// copyPartners are the registers this one is copied from or to. Sharing their range makes the copy a no-op.
	copyPartners []*node
	// weight is the number of start registers the neighbors still in the graph can make unusable,
	// and capacity the number of start registers of the allocatable range.
	weight, capacity int
	removed          bool
	// used is true if the register is read by any instruction.
	used bool

	spilled bool
	// offset is the scratch location of a spilled register, in registers.
	offset int
	// slot is the spill slot bound to a spilled register while its instruction is rewritten.
	slot             RealReg
	reloaded, stored bool
}

// String implements fmt.Stringer for debugging.
func (n *node) String() string {
	return fmt.Sprintf("{%s -> r%d, neighbors=%d, spilled=%v}", n.v, n.r, len(n.neighbors), n.spilled)
}

func (n *node) slack() int {
	return n.weight - n.capacity
}

func (a *Allocator) addEdge(x, y *node) {
	if x == y {
		return
	}
	lo, hi := x.v.ID(), y.v.ID()
	if lo > hi {
		lo, hi = hi, lo
	}
	key := uint64(lo)<<32 | uint64(hi)
	if _, ok := a.edges[key]; ok {
		return
	}
	a.edges[key] = struct{}{}
	x.neighbors = append(x.neighbors, y)
	y.neighbors = append(y.neighbors, x)
}

// buildInterference walks every block backward from its live-out set. A definition interferes with
// everything live after the instruction and with the other definitions of the same instruction.
func (a *Allocator) buildInterference() {
	if a.edges == nil {
		a.edges = make(map[uint64]struct{})
	}
	clear(a.edges)
	live := &a.live
	for _, info := range a.order {
		live.copyFrom(&info.liveOut)
		instrs := a.instrs[info.id]
		for i := len(instrs) - 1; i >= 0; i-- {
			instr := instrs[i]

			defs := a.virtual(instr.Defs(), &a.defs)
			for j, d := range defs {
				live.scan(func(l uint) { a.addEdge(d, a.nodes[l]) })
				for _, d2 := range defs[j+1:] {
					a.addEdge(d, d2)
				}
			}
			for _, d := range defs {
				live.unset(uint(d.v.ID()))
			}

			uses := a.virtual(instr.Uses(), &a.uses)
			if instr.EarlyClobber() {
				for _, d := range defs {
					for _, u := range uses {
						a.addEdge(d, u)
					}
				}
			}
			if instr.IsCopy() && len(defs) == 1 && len(uses) == 1 && defs[0].v.Span() == uses[0].v.Span() {
				d, u := defs[0], uses[0]
				d.copyPartners = append(d.copyPartners, u)
				u.copyPartners = append(u.copyPartners, d)
			}
			for _, u := range uses {
				u.used = true
				live.set(uint(u.v.ID()))
			}
		}
	}
}

// virtual returns the nodes of the virtual registers in vs, skipping pre-colored ones.
func (a *Allocator) virtual(vs []VReg, buf *[]*node) []*node {
	ret := (*buf)[:0]
	for _, v := range vs {
		if !v.IsRealReg() {
			ret = append(ret, a.nodes[v.ID()])
		}
	}
	*buf = ret
	return ret
}

// color is Chaitin's simplify and select. Nodes are removed from the graph in the order of their
// slack, so nodes which are colorable whatever their neighbors get are removed first, and the others
// optimistically. Select then gives each node, in reverse removal order, the lowest range that does not
// overlap a colored neighbor. Nodes which find no such range are spilled.
func (a *Allocator) color() {
	size := int(a.info.Limit - a.info.First)
	worklist := btree.NewG[*node](8, func(x, y *node) bool {
		if sx, sy := x.slack(), y.slack(); sx != sy {
			return sx < sy
		}
		return x.v.ID() < y.v.ID()
	})
	for _, n := range a.nodes {
		if n == nil {
			continue
		}
		span := n.v.Span()
		n.capacity = size - span + 1
		for _, m := range n.neighbors {
			n.weight += m.v.Span() + span - 1
		}
		worklist.ReplaceOrInsert(n)
	}

	stack := a.stack[:0]
	for worklist.Len() > 0 {
		n, _ := worklist.DeleteMin()
		n.removed = true
		stack = append(stack, n)
		for _, m := range n.neighbors {
			if m.removed {
				continue
			}
			// The key of m changes, so it must leave the tree before the update.
			worklist.Delete(m)
			m.weight -= m.v.Span() + n.v.Span() - 1
			worklist.ReplaceOrInsert(m)
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		n := stack[i]
		a.assignRange(n)
		if n.r == RealRegInvalid {
			n.spilled = true
			a.spilled = append(a.spilled, n)
		}
		if genapi.RegAllocLoggingEnabled {
			fmt.Printf("coloring %s\n", n)
		}
	}
	a.stack = stack[:0]
}

// assignRange gives n the first free range of its span, trying the ranges of its copy partners first.
func (a *Allocator) assignRange(n *node) {
	span := RealReg(n.v.Span())
	free := func(r RealReg) bool {
		if r < a.info.First || r+span > a.info.Limit {
			return false
		}
		for _, m := range n.neighbors {
			if m.r != RealRegInvalid && r < m.r+RealReg(m.v.Span()) && m.r < r+span {
				return false
			}
		}
		return true
	}
	for _, p := range n.copyPartners {
		if p.r != RealRegInvalid && free(p.r) {
			n.r = p.r
			return
		}
	}
	for r := a.info.First; r+span <= a.info.Limit; r++ {
		if free(r) {
			n.r = r
			return
		}
	}
}
