package ir

import (
	"fmt"
	"math"
)

// Immediate is a constant of a given type. Bits holds the value truncated to the size of the type.
type Immediate struct {
	Type Type
	Bits uint64
}

func newImmediate(t Type, v uint64) Immediate {
	if size := t.Size(); size < 8 {
		v &= 1<<(8*uint(size)) - 1
	}
	return Immediate{Type: t, Bits: v}
}

// ImmediateBool returns a boolean immediate.
func ImmediateBool(v bool) Immediate {
	if v {
		return Immediate{Type: TypeBool, Bits: 1}
	}
	return Immediate{Type: TypeBool}
}

// ImmediateS8 returns an int8 immediate.
func ImmediateS8(v int8) Immediate { return newImmediate(TypeS8, uint64(v)) }

// ImmediateU8 returns an uint8 immediate.
func ImmediateU8(v uint8) Immediate { return newImmediate(TypeU8, uint64(v)) }

// ImmediateS16 returns an int16 immediate.
func ImmediateS16(v int16) Immediate { return newImmediate(TypeS16, uint64(v)) }

// ImmediateU16 returns an uint16 immediate.
func ImmediateU16(v uint16) Immediate { return newImmediate(TypeU16, uint64(v)) }

// ImmediateS32 returns an int32 immediate.
func ImmediateS32(v int32) Immediate { return newImmediate(TypeS32, uint64(v)) }

// ImmediateU32 returns an uint32 immediate.
func ImmediateU32(v uint32) Immediate { return newImmediate(TypeU32, uint64(v)) }

// ImmediateS64 returns an int64 immediate.
func ImmediateS64(v int64) Immediate { return newImmediate(TypeS64, uint64(v)) }

// ImmediateU64 returns an uint64 immediate.
func ImmediateU64(v uint64) Immediate { return newImmediate(TypeU64, v) }

// ImmediateFloat returns a float immediate.
func ImmediateFloat(v float32) Immediate {
	return newImmediate(TypeFloat, uint64(math.Float32bits(v)))
}

// ImmediateDouble returns a double immediate.
func ImmediateDouble(v float64) Immediate {
	return newImmediate(TypeDouble, math.Float64bits(v))
}

// Int64 returns the value of an integer immediate, sign-extended for the signed types.
func (i Immediate) Int64() int64 {
	switch i.Type {
	case TypeS8:
		return int64(int8(i.Bits))
	case TypeS16:
		return int64(int16(i.Bits))
	case TypeS32:
		return int64(int32(i.Bits))
	}
	return int64(i.Bits)
}

// Float64 returns the value of a floating point immediate.
func (i Immediate) Float64() float64 {
	if i.Type == TypeFloat {
		return float64(math.Float32frombits(uint32(i.Bits)))
	}
	return math.Float64frombits(i.Bits)
}

// IsZero returns true if the immediate is zero. Negative zero is not.
func (i Immediate) IsZero() bool {
	return i.Bits == 0
}

// String implements fmt.Stringer.
func (i Immediate) String() string {
	switch {
	case i.Type == TypeBool:
		return fmt.Sprintf("%v", i.Bits != 0)
	case i.Type.IsFloat():
		return fmt.Sprintf("%v", i.Float64())
	case i.Type.IsSigned():
		return fmt.Sprintf("%d", i.Int64())
	}
	return fmt.Sprintf("%d", i.Bits)
}
