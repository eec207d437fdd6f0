package api

// ArgType is the kind of a kernel argument as seen by the execution sink.
type ArgType uint32

const (
	ArgValue ArgType = iota
	ArgStructure
	ArgGlobalPointer
	ArgConstantPointer
	ArgLocalPointer
	ArgImage
	ArgSampler
)

// String implements fmt.Stringer.
func (a ArgType) String() string {
	switch a {
	case ArgValue:
		return "value"
	case ArgStructure:
		return "structure"
	case ArgGlobalPointer:
		return "global_ptr"
	case ArgConstantPointer:
		return "constant_ptr"
	case ArgLocalPointer:
		return "local_ptr"
	case ArgImage:
		return "image"
	case ArgSampler:
		return "sampler"
	default:
		return "invalid"
	}
}

// IsBuffer returns true if the argument refers to a buffer which must be bound by the execution sink.
func (a ArgType) IsBuffer() bool {
	return a == ArgGlobalPointer || a == ArgConstantPointer || a == ArgLocalPointer
}

// CurbeType is the semantic type of a constant-URB (curbe) entry pushed to each hardware thread.
type CurbeType uint32

const (
	CurbeKernelArgument CurbeType = iota
	CurbeLocalID
	CurbeGroupID
	CurbeLocalSize
	CurbeGlobalSize
	CurbeGlobalOffset
	CurbeGroupNum
	CurbeStackBuffer
	CurbeWorkDim
	CurbeThreadNum
)

// String implements fmt.Stringer.
func (c CurbeType) String() string {
	switch c {
	case CurbeKernelArgument:
		return "arg"
	case CurbeLocalID:
		return "local_id"
	case CurbeGroupID:
		return "group_id"
	case CurbeLocalSize:
		return "local_size"
	case CurbeGlobalSize:
		return "global_size"
	case CurbeGlobalOffset:
		return "global_offset"
	case CurbeGroupNum:
		return "group_num"
	case CurbeStackBuffer:
		return "stack_buffer"
	case CurbeWorkDim:
		return "work_dim"
	case CurbeThreadNum:
		return "thread_num"
	default:
		return "invalid"
	}
}
