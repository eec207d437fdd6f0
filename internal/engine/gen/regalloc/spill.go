package regalloc

import "fmt"

// assignScratch gives every spilled register its own scratch location.
func (a *Allocator) assignScratch() {
	for _, n := range a.spilled {
		n.offset = a.scratch
		a.scratch += n.v.Span()
	}
}

// rewrite assigns the allocated registers to every instruction. Spilled registers are bound to a spill
// slot for the duration of the instruction: reloaded before it when used, and stored after it when
// defined and read anywhere in the function.
func (a *Allocator) rewrite(f Function) {
	for _, info := range a.order {
		for _, instr := range a.instrs[info.id] {
			vs := a.vs[:0]
			for _, u := range instr.Uses() {
				v := a.allocated(u, instr)
				if n := a.spilledNode(u); n != nil && !n.reloaded {
					f.ReloadRegisterBefore(v, n.offset, instr)
					n.reloaded = true
				}
				vs = append(vs, v)
			}
			instr.AssignUses(vs)

			vs = vs[:0]
			for _, d := range instr.Defs() {
				v := a.allocated(d, instr)
				if n := a.spilledNode(d); n != nil && n.used && !n.stored {
					f.StoreRegisterAfter(v, n.offset, instr)
					n.stored = true
				}
				vs = append(vs, v)
			}
			instr.AssignDefs(vs)
			a.vs = vs[:0]

			for _, n := range a.bound {
				n.slot, n.reloaded, n.stored = RealRegInvalid, false, false
			}
			a.bound = a.bound[:0]
		}
	}
}

func (a *Allocator) spilledNode(v VReg) *node {
	if v.IsRealReg() {
		return nil
	}
	if n := a.nodes[v.ID()]; n.spilled {
		return n
	}
	return nil
}

// allocated returns v with its RealReg set, binding a spill slot to spilled registers.
func (a *Allocator) allocated(v VReg, instr Instr) VReg {
	if v.IsRealReg() {
		return v
	}
	n := a.nodes[v.ID()]
	if !n.spilled {
		return v.SetRealReg(n.r)
	}
	if n.slot == RealRegInvalid {
		if len(a.bound) == len(a.info.SpillSlots) {
			panic(fmt.Sprintf("BUG: %s needs more than %d spill slots", instr, len(a.info.SpillSlots)))
		}
		n.slot = a.info.SpillSlots[len(a.bound)]
		a.bound = append(a.bound, n)
	}
	return v.SetRealReg(n.slot)
}
