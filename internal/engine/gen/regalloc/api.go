package regalloc

import "fmt"

// These interfaces are implemented by the backend to abstract away the details of the selection
// instructions, so that the allocator only deals with virtual registers and their spans.

type (
	// Function is the top-level interface to do register allocation, which corresponds to a CFG containing
	// Blocks(s).
	Function interface {
		// ReversePostOrderBlockIteratorBegin returns the first block in the reverse post-order traversal of the CFG.
		// In other words, the first blocks in the CFG will be returned first.
		ReversePostOrderBlockIteratorBegin() Block
		// ReversePostOrderBlockIteratorNext returns the next block in the reverse post-order traversal of the CFG.
		// Blocks unreachable from the entry must still be visited, after the reachable ones.
		ReversePostOrderBlockIteratorNext() Block
		// StoreRegisterAfter inserts, right after instr, a store of the allocated register v into the
		// scratch space at the given offset, counted in registers.
		StoreRegisterAfter(v VReg, offset int, instr Instr)
		// ReloadRegisterBefore inserts, right before instr, a load of the allocated register v from the
		// scratch space at the given offset, counted in registers.
		ReloadRegisterBefore(v VReg, offset int, instr Instr)
		// Done tells the implementation that register allocation is done.
		Done()
	}

	// Block is a basic block in the CFG of a function, and it consists of multiple instructions, and successor Block(s).
	Block interface {
		// ID returns the unique identifier of this block, dense from zero.
		ID() int
		// InstrIteratorBegin returns the first instruction in this block. Instructions added by
		// StoreRegisterAfter or ReloadRegisterBefore must be skipped.
		InstrIteratorBegin() Instr
		// InstrIteratorNext returns the next instruction in this block.
		InstrIteratorNext() Instr
		// Succs returns the successors of this block in the CFG.
		// Note: multiple returned []Block will not be used at the same time, so it's safe to use the same slice for []Block.
		Succs() []Block
	}

	// Instr is an instruction in a block. Instr values must stay valid until Function.Done.
	Instr interface {
		fmt.Stringer

		// Defs returns the virtual registers defined by this instruction, temporaries included.
		// Note: multiple returned []VReg will not be held at the same time, so it's safe to use the same slice for this.
		Defs() []VReg
		// Uses returns the virtual registers used by this instruction.
		// Note: multiple returned []VReg will not be held at the same time, so it's safe to use the same slice for this.
		Uses() []VReg
		// AssignUses assigns the RealReg-allocated virtual registers used by this instruction, in the order of Uses.
		// Note: input []VReg is reused, so it's not safe to hold reference to it after the end of this call.
		AssignUses([]VReg)
		// AssignDefs assigns the RealReg-allocated virtual registers defined by this instruction, in the order of Defs.
		// Note: input []VReg is reused, so it's not safe to hold reference to it after the end of this call.
		AssignDefs([]VReg)
		// IsCopy returns true if this instruction is a move instruction between two registers of the same span.
		// If true, the instruction is of the form of dst = src, and the allocator tries to give both the same range.
		IsCopy() bool
		// EarlyClobber returns true if the definitions are written before every use is read, in which
		// case they must not share a register with any of the uses.
		EarlyClobber() bool
	}
)
