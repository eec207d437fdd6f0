package ir

import "fmt"

// Register is the index of a register in the register file of a Function.
type Register uint32

// LabelIndex identifies a label of a Function.
type LabelIndex uint32

// ImmediateIndex identifies an immediate value of a Function.
type ImmediateIndex uint32

// The special registers come first in the register file of every Function created by NewFunction.
// They are read-only, except RegStackPointer.
const (
	RegLocalID0 Register = iota
	RegLocalID1
	RegLocalID2
	RegGroupID0
	RegGroupID1
	RegGroupID2
	RegNumGroups0
	RegNumGroups1
	RegNumGroups2
	RegLocalSize0
	RegLocalSize1
	RegLocalSize2
	RegGlobalSize0
	RegGlobalSize1
	RegGlobalSize2
	RegGlobalOffset0
	RegGlobalOffset1
	RegGlobalOffset2
	RegStackPointer
	RegStackBuffer
	RegWorkDim
	RegThreadNum

	// NumSpecialRegisters is the number of special registers.
	NumSpecialRegisters = int(iota)
)

var specialRegisterNames = [NumSpecialRegisters]string{
	"local_id_0", "local_id_1", "local_id_2",
	"group_id_0", "group_id_1", "group_id_2",
	"num_groups_0", "num_groups_1", "num_groups_2",
	"local_size_0", "local_size_1", "local_size_2",
	"global_size_0", "global_size_1", "global_size_2",
	"global_offset_0", "global_offset_1", "global_offset_2",
	"stack_pointer", "stack_buffer", "work_dim", "thread_number",
}

// IsSpecial returns true if r is one of the special registers.
func (r Register) IsSpecial() bool {
	return int(r) < NumSpecialRegisters
}

// String implements fmt.Stringer.
func (r Register) String() string {
	if r.IsSpecial() {
		return "%" + specialRegisterNames[r]
	}
	return fmt.Sprintf("%%%d", uint32(r))
}
