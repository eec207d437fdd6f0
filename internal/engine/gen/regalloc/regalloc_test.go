package regalloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func v(id VRegID) VReg { return NewVReg(id, 1) }

func members(b *bitset) (ret []uint) {
	b.scan(func(i uint) { ret = append(ret, i) })
	return
}

func TestAllocator_livenessAnalysis(t *testing.T) {
	// b0 -> b1 -> b2 -> b3
	//        ^-----/
	b0 := newMockBlock(0,
		newMockInstr().def(v(1)),
		newMockInstr().def(v(2)),
	)
	b1 := newMockBlock(1,
		newMockInstr().use(v(1)).def(v(3)),
	)
	b2 := newMockBlock(2,
		newMockInstr().use(v(3)).def(v(1)),
	)
	b3 := newMockBlock(3,
		newMockInstr().use(v(2), FromRealReg(0, 1)),
	)
	b0.addSucc(b1)
	b1.addSucc(b2)
	b2.addSucc(b1)
	b2.addSucc(b3)

	a := NewAllocator()
	a.info = &RegisterInfo{First: 10, Limit: 20}
	a.collect(newMockFunction(b0, b1, b2, b3))
	a.livenessAnalysis()

	for _, tc := range []struct {
		id              int
		liveIn, liveOut []uint
	}{
		{id: 0, liveOut: []uint{1, 2}},
		{id: 1, liveIn: []uint{1, 2}, liveOut: []uint{2, 3}},
		{id: 2, liveIn: []uint{2, 3}, liveOut: []uint{1, 2}},
		{id: 3, liveIn: []uint{2}},
	} {
		info := a.blocks[tc.id]
		require.Equal(t, tc.liveIn, members(&info.liveIn), "block %d", tc.id)
		require.Equal(t, tc.liveOut, members(&info.liveOut), "block %d", tc.id)
	}
}

func TestAllocator_DoAllocation(t *testing.T) {
	t.Run("dying use shares the definition's register", func(t *testing.T) {
		add := newMockInstr().use(v(1), v(2)).def(v(3))
		f := newMockFunction(newMockBlock(0,
			newMockInstr().def(v(1)),
			newMockInstr().def(v(2)),
			add,
			newMockInstr().use(v(3)),
		))
		a := NewAllocator()
		require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 12}))
		require.True(t, f.done)
		require.False(t, add.uses[0].Overlaps(add.uses[1]))
		require.True(t, add.defs[0].IsRealReg())
		require.Zero(t, a.SpilledCount())
	})

	t.Run("early clobber", func(t *testing.T) {
		mul := newMockInstr().use(v(1), v(2)).def(v(3)).asEarlyClobber()
		f := newMockFunction(newMockBlock(0,
			newMockInstr().def(v(1)),
			newMockInstr().def(v(2)),
			mul,
			newMockInstr().use(v(3)),
		))
		a := NewAllocator()
		require.ErrorIs(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 12}), ErrRegisterPressureExceeded)

		a = NewAllocator()
		require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 13}))
		for _, u := range mul.uses {
			require.False(t, u.Overlaps(mul.defs[0]))
		}
	})

	t.Run("copy partner", func(t *testing.T) {
		cp := newMockInstr().use(NewVReg(1, 2)).def(NewVReg(2, 2)).asCopy()
		f := newMockFunction(newMockBlock(0,
			newMockInstr().def(v(5)),
			newMockInstr().def(NewVReg(1, 2)),
			cp,
			newMockInstr().use(NewVReg(2, 2), v(5)),
		))
		a := NewAllocator()
		require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 20}))
		require.Equal(t, cp.uses[0].RealReg(), cp.defs[0].RealReg())
	})

	t.Run("spans", func(t *testing.T) {
		last := newMockInstr().use(v(1), NewVReg(2, 2), NewVReg(3, 4))
		f := newMockFunction(newMockBlock(0,
			newMockInstr().def(v(1)),
			newMockInstr().def(NewVReg(2, 2)),
			newMockInstr().def(NewVReg(3, 4)),
			last,
		))
		a := NewAllocator()
		require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 17}))
		for i, x := range last.uses {
			require.GreaterOrEqual(t, x.RealReg(), RealReg(10))
			require.LessOrEqual(t, int(x.RealReg())+x.Span(), 17)
			for _, y := range last.uses[i+1:] {
				require.False(t, x.Overlaps(y), "%s vs %s", x, y)
			}
		}
		a = NewAllocator()
		require.ErrorIs(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 16}), ErrRegisterPressureExceeded)
	})

	t.Run("pre-colored registers are kept", func(t *testing.T) {
		r0 := FromRealReg(0, 1)
		mov := newMockInstr().use(r0).def(v(1))
		f := newMockFunction(newMockBlock(0, mov, newMockInstr().use(v(1)).def(FromRealReg(127, 1))))
		a := NewAllocator()
		require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 20}))
		require.Equal(t, r0, mov.uses[0])
		require.Equal(t, RealReg(10), mov.defs[0].RealReg())

		bad := newMockFunction(newMockBlock(0, newMockInstr().def(FromRealReg(12, 1))))
		require.Panics(t, func() { _ = a.DoAllocation(bad, &RegisterInfo{First: 10, Limit: 20}) })
	})
}

func TestAllocator_spill(t *testing.T) {
	def1 := newMockInstr().def(v(1))
	use := newMockInstr().use(v(1), v(2), v(3)).def(v(4))
	f := newMockFunction(newMockBlock(0,
		def1,
		newMockInstr().def(v(2)),
		newMockInstr().def(v(3)),
		use,
		newMockInstr().use(v(4)),
	))
	a := NewAllocator()
	slots := []RealReg{100, 104, 108}
	require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 12, SpillSlots: slots}))
	require.Equal(t, 1, a.SpilledCount())
	require.Equal(t, 1, a.ScratchSize())

	// v1 is the first of the interfering registers removed from the graph, and therefore colored last.
	require.Equal(t, RealReg(100), def1.defs[0].RealReg())
	require.Equal(t, []spillEvent{{v: v(1).SetRealReg(100), at: def1}}, f.stores())
	require.Equal(t, []spillEvent{{reload: true, v: v(1).SetRealReg(100), at: use}}, f.reloads())
	require.Equal(t, RealReg(100), use.uses[0].RealReg())
	require.False(t, use.uses[1].Overlaps(use.uses[2]))
	for _, u := range use.uses[1:] {
		require.Less(t, u.RealReg(), RealReg(12))
	}
}

func TestAllocator_spillSameInstruction(t *testing.T) {
	// Every register is live across the loop, so that some of them must be spilled. The
	// increment reads and writes the same register, which must use a single slot.
	var instrs []*mockInstr
	for i := VRegID(1); i <= 6; i++ {
		instrs = append(instrs, newMockInstr().def(NewVReg(i, 2)))
	}
	header := newMockBlock(0, instrs...)
	var body []*mockInstr
	for i := VRegID(1); i <= 6; i++ {
		body = append(body, newMockInstr().use(NewVReg(i, 2)).def(NewVReg(i, 2)))
	}
	loop := newMockBlock(1, body...)
	exit := newMockBlock(2, newMockInstr().use(NewVReg(1, 2), NewVReg(2, 2), NewVReg(3, 2), NewVReg(4, 2), NewVReg(5, 2), NewVReg(6, 2)))
	header.addSucc(loop)
	loop.addSucc(loop)
	loop.addSucc(exit)
	f := newMockFunction(header, loop, exit)

	a := NewAllocator()
	require.NoError(t, a.DoAllocation(f, &RegisterInfo{First: 10, Limit: 16, SpillSlots: []RealReg{100, 104, 108, 112, 116, 120}}))
	require.Equal(t, 3, a.SpilledCount())
	require.Equal(t, 6, a.ScratchSize())
	for _, instr := range body {
		require.Equal(t, instr.uses[0], instr.defs[0])
	}
	exitUses := exit.instrs[0].uses
	for i, x := range exitUses {
		for _, y := range exitUses[i+1:] {
			require.False(t, x.Overlaps(y), "%s vs %s", x, y)
		}
	}
}

// referenceLiveness computes the live-out set of every instruction with a naive fixpoint over maps.
func referenceLiveness(f *mockFunction, original map[*mockInstr]struct{ defs, uses []VReg }) map[*mockInstr]map[VRegID]bool {
	liveIn := map[int]map[VRegID]bool{}
	liveAfter := map[*mockInstr]map[VRegID]bool{}
	for changed := true; changed; {
		changed = false
		for i := len(f.blocks) - 1; i >= 0; i-- {
			b := f.blocks[i]
			live := map[VRegID]bool{}
			for _, s := range b.succs {
				for id := range liveIn[s.ID()] {
					live[id] = true
				}
			}
			for j := len(b.instrs) - 1; j >= 0; j-- {
				instr := b.instrs[j]
				after := map[VRegID]bool{}
				for id := range live {
					after[id] = true
				}
				liveAfter[instr] = after
				for _, d := range original[instr].defs {
					delete(live, d.ID())
				}
				for _, u := range original[instr].uses {
					live[u.ID()] = true
				}
			}
			if len(live) != len(liveIn[b.id]) {
				changed = true
			}
			liveIn[b.id] = live
		}
	}
	return liveAfter
}

func TestAllocator_safety(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		r := rand.New(rand.NewSource(seed))
		spans := map[VRegID]int{}
		span := func(id VRegID) VReg {
			if _, ok := spans[id]; !ok {
				spans[id] = []int{1, 2, 4}[r.Intn(3)]
			}
			return NewVReg(id, spans[id])
		}

		const numRegs = 24
		var blocks []*mockBlock
		original := map[*mockInstr]struct{ defs, uses []VReg }{}
		for b := 0; b < 6; b++ {
			blk := newMockBlock(b)
			for i := 0; i < 10; i++ {
				instr := newMockInstr()
				for n := r.Intn(3); n > 0; n-- {
					instr.uses = append(instr.uses, span(VRegID(r.Intn(numRegs))))
				}
				for n := 1 + r.Intn(2); n > 0; n-- {
					instr.defs = append(instr.defs, span(VRegID(r.Intn(numRegs))))
				}
				instr.earlyClobber = r.Intn(4) == 0
				original[instr] = struct{ defs, uses []VReg }{
					append([]VReg(nil), instr.defs...), append([]VReg(nil), instr.uses...),
				}
				blk.instrs = append(blk.instrs, instr)
			}
			blocks = append(blocks, blk)
		}
		for i, blk := range blocks {
			if i+1 < len(blocks) {
				blk.addSucc(blocks[i+1])
			}
			if i > 0 && r.Intn(2) == 0 {
				blk.addSucc(blocks[r.Intn(i+1)])
			}
		}
		f := newMockFunction(blocks...)

		a := NewAllocator()
		err := a.DoAllocation(f, &RegisterInfo{First: 8, Limit: 40, SpillSlots: []RealReg{80, 84, 88, 92, 96, 100}})
		require.NoError(t, err, "seed %d", seed)

		// Non-spilled registers keep their range everywhere.
		assigned := map[VRegID]VReg{}
		spilled := map[VRegID]bool{}
		for _, blk := range blocks {
			for _, instr := range blk.instrs {
				for _, x := range append(append([]VReg(nil), instr.defs...), instr.uses...) {
					require.True(t, x.IsRealReg())
					if x.RealReg() >= 80 {
						spilled[x.ID()] = true
						continue
					}
					require.GreaterOrEqual(t, x.RealReg(), RealReg(8))
					require.LessOrEqual(t, int(x.RealReg())+x.Span(), 40)
					if prev, ok := assigned[x.ID()]; ok {
						require.Equal(t, prev, x, "seed %d", seed)
					}
					assigned[x.ID()] = x
				}
			}
		}

		liveAfter := referenceLiveness(f, original)
		for _, blk := range blocks {
			for _, instr := range blk.instrs {
				for _, d := range instr.defs {
					if spilled[d.ID()] {
						continue
					}
					for id := range liveAfter[instr] {
						if other, ok := assigned[id]; ok && id != d.ID() && !spilled[id] {
							require.False(t, d.Overlaps(other), "seed %d: %s and %s", seed, d, other)
						}
					}
					if instr.earlyClobber {
						for _, u := range instr.uses {
							if u.ID() != d.ID() {
								require.False(t, d.Overlaps(u), "seed %d: %s and %s", seed, d, u)
							}
						}
					}
				}
			}
		}
	}
}
