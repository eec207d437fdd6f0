package regalloc

import (
	"fmt"
	"strings"
)

// mockFunction is a Function over hand-built blocks, iterated in slice order.
type mockFunction struct {
	blocks []*mockBlock
	pos    int
	// spills records the calls to StoreRegisterAfter and ReloadRegisterBefore in order.
	spills []spillEvent
	done   bool
}

// spillEvent is one spill code insertion requested by the allocator.
type spillEvent struct {
	reload bool
	v      VReg
	offset int
	at     Instr
}

type mockBlock struct {
	id     int
	instrs []*mockInstr
	succs  []Block
	pos    int
}

type mockInstr struct {
	defs, uses           []VReg
	isCopy, earlyClobber bool
}

func newMockFunction(blocks ...*mockBlock) *mockFunction {
	return &mockFunction{blocks: blocks}
}

func newMockBlock(id int, instrs ...*mockInstr) *mockBlock {
	return &mockBlock{id: id, instrs: instrs}
}

func newMockInstr() *mockInstr { return &mockInstr{} }

func (m *mockInstr) def(defs ...VReg) *mockInstr { m.defs = defs; return m }

func (m *mockInstr) use(uses ...VReg) *mockInstr { m.uses = uses; return m }

func (m *mockInstr) asCopy() *mockInstr { m.isCopy = true; return m }

func (m *mockInstr) asEarlyClobber() *mockInstr { m.earlyClobber = true; return m }

func (m *mockBlock) addSucc(b *mockBlock) { m.succs = append(m.succs, b) }

// stores and reloads split the recorded spill events.
func (m *mockFunction) stores() (ret []spillEvent) {
	for _, e := range m.spills {
		if !e.reload {
			ret = append(ret, e)
		}
	}
	return
}

func (m *mockFunction) reloads() (ret []spillEvent) {
	for _, e := range m.spills {
		if e.reload {
			ret = append(ret, e)
		}
	}
	return
}

func (m *mockFunction) String() string {
	var sb strings.Builder
	for _, b := range m.blocks {
		fmt.Fprintf(&sb, "b%d -> %d succs\n", b.id, len(b.succs))
		for _, i := range b.instrs {
			fmt.Fprintf(&sb, "\t%s\n", i)
		}
	}
	return sb.String()
}

func (m *mockInstr) String() string {
	return fmt.Sprintf("%v <- %v", m.defs, m.uses)
}

func (m *mockFunction) ReversePostOrderBlockIteratorBegin() Block {
	m.pos = 0
	return m.ReversePostOrderBlockIteratorNext()
}

func (m *mockFunction) ReversePostOrderBlockIteratorNext() Block {
	if m.pos >= len(m.blocks) {
		return nil
	}
	m.pos++
	return m.blocks[m.pos-1]
}

func (m *mockFunction) StoreRegisterAfter(v VReg, offset int, instr Instr) {
	m.spills = append(m.spills, spillEvent{v: v, offset: offset, at: instr})
}

func (m *mockFunction) ReloadRegisterBefore(v VReg, offset int, instr Instr) {
	m.spills = append(m.spills, spillEvent{reload: true, v: v, offset: offset, at: instr})
}

func (m *mockFunction) Done() { m.done = true }

func (m *mockBlock) ID() int { return m.id }

func (m *mockBlock) InstrIteratorBegin() Instr {
	m.pos = 0
	return m.InstrIteratorNext()
}

func (m *mockBlock) InstrIteratorNext() Instr {
	if m.pos >= len(m.instrs) {
		return nil
	}
	m.pos++
	return m.instrs[m.pos-1]
}

func (m *mockBlock) Succs() []Block { return m.succs }

func (m *mockInstr) Defs() []VReg { return m.defs }

func (m *mockInstr) Uses() []VReg { return m.uses }

func (m *mockInstr) IsCopy() bool { return m.isCopy }

func (m *mockInstr) EarlyClobber() bool { return m.earlyClobber }

func (m *mockInstr) AssignUses(vs []VReg) { m.uses = append([]VReg(nil), vs...) }

func (m *mockInstr) AssignDefs(vs []VReg) { m.defs = append([]VReg(nil), vs...) }

var (
	_ Function = (*mockFunction)(nil)
	_ Block    = (*mockBlock)(nil)
	_ Instr    = (*mockInstr)(nil)
)
