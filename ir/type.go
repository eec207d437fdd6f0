package ir

import "fmt"

// Family is the storage class of a register: every register of a family occupies the same
// number of bytes per lane, whatever the Type of the instructions accessing it.
type Family byte

const (
	FamilyBool Family = iota
	FamilyByte
	FamilyWord
	FamilyDWord
	FamilyQWord
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case FamilyBool:
		return "bool"
	case FamilyByte:
		return "byte"
	case FamilyWord:
		return "word"
	case FamilyDWord:
		return "dword"
	case FamilyQWord:
		return "qword"
	}
	return fmt.Sprintf("family(%d)", byte(f))
}

// Type is the type of the values an instruction operates on.
type Type byte

const (
	TypeBool Type = iota
	TypeS8
	TypeU8
	TypeS16
	TypeU16
	TypeS32
	TypeU32
	TypeS64
	TypeU64
	TypeFloat
	TypeDouble

	typeEnd
)

// Valid returns true if t is one of the declared types.
func (t Type) Valid() bool {
	return t < typeEnd
}

// Family returns the register family holding values of type t.
func (t Type) Family() Family {
	switch t {
	case TypeBool:
		return FamilyBool
	case TypeS8, TypeU8:
		return FamilyByte
	case TypeS16, TypeU16:
		return FamilyWord
	case TypeS32, TypeU32, TypeFloat:
		return FamilyDWord
	case TypeS64, TypeU64, TypeDouble:
		return FamilyQWord
	}
	panic(fmt.Sprintf("BUG: invalid type %d", t))
}

// Size returns the size in bytes of a value of type t in memory.
func (t Type) Size() int {
	switch t.Family() {
	case FamilyBool, FamilyByte:
		return 1
	case FamilyWord:
		return 2
	case FamilyDWord:
		return 4
	default:
		return 8
	}
}

// IsFloat returns true for the floating point types.
func (t Type) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// IsSigned returns true for the signed integer types.
func (t Type) IsSigned() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeS8:
		return "int8"
	case TypeU8:
		return "uint8"
	case TypeS16:
		return "int16"
	case TypeU16:
		return "uint16"
	case TypeS32:
		return "int32"
	case TypeU32:
		return "uint32"
	case TypeS64:
		return "int64"
	case TypeU64:
		return "uint64"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}
