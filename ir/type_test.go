package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestType(t *testing.T) {
	for _, tc := range []struct {
		typ    Type
		family Family
		size   int
		float  bool
		signed bool
	}{
		{typ: TypeBool, family: FamilyBool, size: 1},
		{typ: TypeS8, family: FamilyByte, size: 1, signed: true},
		{typ: TypeU8, family: FamilyByte, size: 1},
		{typ: TypeS16, family: FamilyWord, size: 2, signed: true},
		{typ: TypeU16, family: FamilyWord, size: 2},
		{typ: TypeS32, family: FamilyDWord, size: 4, signed: true},
		{typ: TypeU32, family: FamilyDWord, size: 4},
		{typ: TypeFloat, family: FamilyDWord, size: 4, float: true},
		{typ: TypeS64, family: FamilyQWord, size: 8, signed: true},
		{typ: TypeU64, family: FamilyQWord, size: 8},
		{typ: TypeDouble, family: FamilyQWord, size: 8, float: true},
	} {
		t.Run(tc.typ.String(), func(t *testing.T) {
			require.True(t, tc.typ.Valid())
			require.Equal(t, tc.family, tc.typ.Family())
			require.Equal(t, tc.size, tc.typ.Size())
			require.Equal(t, tc.float, tc.typ.IsFloat())
			require.Equal(t, tc.signed, tc.typ.IsSigned())
		})
	}
	require.False(t, typeEnd.Valid())
}

func TestImmediate(t *testing.T) {
	for _, tc := range []struct {
		imm  Immediate
		bits uint64
		str  string
	}{
		{imm: ImmediateBool(true), bits: 1, str: "true"},
		{imm: ImmediateS8(-2), bits: 0xfe, str: "-2"},
		{imm: ImmediateU8(0xfe), bits: 0xfe, str: "254"},
		{imm: ImmediateS16(-1), bits: 0xffff, str: "-1"},
		{imm: ImmediateS32(math.MinInt32), bits: 0x80000000, str: "-2147483648"},
		{imm: ImmediateU64(math.MaxUint64), bits: math.MaxUint64, str: "18446744073709551615"},
		{imm: ImmediateFloat(1.5), bits: 0x3fc00000, str: "1.5"},
		{imm: ImmediateDouble(-0.25), bits: 0xbfd0000000000000, str: "-0.25"},
	} {
		t.Run(tc.str, func(t *testing.T) {
			require.Equal(t, tc.bits, tc.imm.Bits)
			require.Equal(t, tc.str, tc.imm.String())
		})
	}
	require.Equal(t, int64(-2), ImmediateS8(-2).Int64())
	require.Equal(t, int64(0xfe), ImmediateU8(0xfe).Int64())
	require.True(t, ImmediateS32(0).IsZero())
	require.False(t, ImmediateDouble(math.Copysign(0, -1)).IsZero())
}
