package encoder

import (
	"fmt"
	"math"
)

// GRFSize is the size in bytes of a general register.
const GRFSize = 32

// GRFNum is the number of general registers addressable by an instruction.
const GRFNum = 128

// RegFile is the register file an operand lives in.
type RegFile byte

const (
	FileARF RegFile = iota
	FileGRF
	FileMRF
	FileIMM
)

// String implements fmt.Stringer.
func (f RegFile) String() string {
	switch f {
	case FileARF:
		return "arf"
	case FileGRF:
		return "grf"
	case FileMRF:
		return "mrf"
	case FileIMM:
		return "imm"
	}
	return "invalid"
}

// ARF register numbers. The low nibble selects the instance (e.g. acc1, f1).
const (
	ARFNull         = 0x00
	ARFAddress      = 0x10
	ARFAccumulator  = 0x20
	ARFFlag         = 0x30
	ARFMask         = 0x40
	ARFState        = 0x70
	ARFControl      = 0x80
	ARFNotification = 0x90
	ARFIP           = 0xa0
)

// ElemType is the element type of an operand. The first eight values match the hardware
// register type encoding. UQ and Q only exist before lowering: they never reach a word.
type ElemType byte

const (
	TypeUD ElemType = iota
	TypeD
	TypeUW
	TypeW
	TypeUB
	TypeB
	TypeDF
	TypeF
	TypeUQ
	TypeQ
)

// Size returns the size of the element in bytes.
func (t ElemType) Size() int {
	switch t {
	case TypeUB, TypeB:
		return 1
	case TypeUW, TypeW:
		return 2
	case TypeUD, TypeD, TypeF:
		return 4
	case TypeDF, TypeUQ, TypeQ:
		return 8
	}
	panic(fmt.Sprintf("BUG: invalid element type %d", t))
}

// IsByte returns true for UB and B.
func (t ElemType) IsByte() bool { return t == TypeUB || t == TypeB }

// IsInt64 returns true for UQ and Q.
func (t ElemType) IsInt64() bool { return t == TypeUQ || t == TypeQ }

// IsFloat returns true for F and DF.
func (t ElemType) IsFloat() bool { return t == TypeF || t == TypeDF }

// IsSigned returns true for signed integer and float types.
func (t ElemType) IsSigned() bool {
	switch t {
	case TypeB, TypeW, TypeD, TypeQ, TypeF, TypeDF:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t ElemType) String() string {
	switch t {
	case TypeUD:
		return "ud"
	case TypeD:
		return "d"
	case TypeUW:
		return "uw"
	case TypeW:
		return "w"
	case TypeUB:
		return "ub"
	case TypeB:
		return "b"
	case TypeDF:
		return "df"
	case TypeF:
		return "f"
	case TypeUQ:
		return "uq"
	case TypeQ:
		return "q"
	}
	return "invalid"
}

// Reg references a region of a register file, or an immediate.
//
// Strides and width are in elements. For destinations only HStride is meaningful.
type Reg struct {
	File     RegFile
	Type     ElemType
	Nr       int
	SubNr    int // byte offset inside Nr.
	HStride  int
	Width    int
	VStride  int
	Negate   bool
	Abs      bool
	Indirect bool
	// Imm holds the bits of an immediate when File == FileIMM.
	Imm uint64
}

// Vec returns the GRF region <8;8,1> starting at nr.
func Vec(nr int, t ElemType) Reg {
	return Reg{File: FileGRF, Type: t, Nr: nr, HStride: 1, Width: 8, VStride: 8}
}

// Scalar returns the GRF region <0;1,0> at nr.subnr, broadcast to all channels.
func Scalar(nr, subnr int, t ElemType) Reg {
	return Reg{File: FileGRF, Type: t, Nr: nr, SubNr: subnr, Width: 1}
}

// Null returns the null register.
func Null(t ElemType) Reg {
	return Reg{File: FileARF, Type: t, Nr: ARFNull, HStride: 1, Width: 8, VStride: 8}
}

// Acc returns the accumulator acc0 viewed as a vector of t.
func Acc(t ElemType) Reg {
	return Reg{File: FileARF, Type: t, Nr: ARFAccumulator, HStride: 1, Width: 8, VStride: 8}
}

// IP returns the instruction pointer register.
func IP() Reg {
	return Reg{File: FileARF, Type: TypeUD, Nr: ARFIP, Width: 1}
}

// Flag returns the flag register fnr.subnr.
func Flag(nr, subnr int) Reg {
	return Reg{File: FileARF, Type: TypeUW, Nr: ARFFlag + nr, SubNr: subnr * 2, Width: 1}
}

// Notification returns the notification register used by WAIT.
func Notification() Reg {
	return Reg{File: FileARF, Type: TypeUD, Nr: ARFNotification + 1, Width: 1}
}

// ImmUD returns an unsigned dword immediate.
func ImmUD(v uint32) Reg { return Reg{File: FileIMM, Type: TypeUD, Imm: uint64(v), Width: 1} }

// ImmD returns a signed dword immediate.
func ImmD(v int32) Reg { return Reg{File: FileIMM, Type: TypeD, Imm: uint64(uint32(v)), Width: 1} }

// ImmUW returns an unsigned word immediate. The hardware expects it replicated in both halves.
func ImmUW(v uint16) Reg {
	return Reg{File: FileIMM, Type: TypeUW, Imm: uint64(v) | uint64(v)<<16, Width: 1}
}

// ImmW returns a signed word immediate.
func ImmW(v int16) Reg {
	u := uint16(v)
	return Reg{File: FileIMM, Type: TypeW, Imm: uint64(u) | uint64(u)<<16, Width: 1}
}

// ImmF returns a float immediate.
func ImmF(v float32) Reg {
	return Reg{File: FileIMM, Type: TypeF, Imm: uint64(math.Float32bits(v)), Width: 1}
}

// IsImm returns true if r is an immediate.
func (r Reg) IsImm() bool { return r.File == FileIMM }

// IsNull returns true if r is the null register.
func (r Reg) IsNull() bool { return r.File == FileARF && r.Nr == ARFNull }

// IsScalar returns true if every channel reads the same element.
func (r Reg) IsScalar() bool { return r.File == FileIMM || r.HStride == 0 }

// Retype returns r viewed as elements of t.
func (r Reg) Retype(t ElemType) Reg {
	r.Type = t
	return r
}

// Neg returns r with the negate modifier toggled.
func (r Reg) Neg() Reg {
	r.Negate = !r.Negate
	return r
}

// AbsOf returns r with the absolute-value modifier set.
func (r Reg) AbsOf() Reg {
	r.Abs, r.Negate = true, false
	return r
}

// ToScalar returns the <0;1,0> region at the first element of r.
func (r Reg) ToScalar() Reg {
	if r.File == FileIMM {
		return r
	}
	r.HStride, r.Width, r.VStride = 0, 1, 0
	return r
}

// H2 returns r with a horizontal stride of 2 elements.
func (r Reg) H2() Reg {
	r.HStride, r.Width, r.VStride = 2, 8, 16
	return r
}

// ByteOffset advances r by n bytes, carrying into the register number.
func (r Reg) ByteOffset(n int) Reg {
	if r.File == FileIMM || r.IsNull() {
		return r
	}
	r.SubNr += n
	r.Nr += r.SubNr / GRFSize
	r.SubNr %= GRFSize
	return r
}

// Offset advances r by nr registers and subnr bytes.
func (r Reg) Offset(nr, subnr int) Reg {
	return r.ByteOffset(nr*GRFSize + subnr)
}

// Suboffset advances r by n channels, honoring its horizontal stride.
// Scalars and immediates are left untouched.
func (r Reg) Suboffset(n int) Reg {
	if r.IsScalar() {
		return r
	}
	return r.ByteOffset(n * r.HStride * r.Type.Size())
}

// Quarter returns the region of r seen by the q-th group of 8 channels.
func (r Reg) Quarter(q int) Reg {
	return r.Suboffset(8 * q)
}

// Bottom returns the low 32-bit halves of a 64-bit register.
func (r Reg) Bottom() Reg {
	t := TypeUD
	if r.Type == TypeQ {
		t = TypeD
	}
	r.Type = t
	if r.IsScalar() {
		return r
	}
	return r.H2()
}

// Top returns the high 32-bit halves of a 64-bit register.
func (r Reg) Top() Reg {
	return r.Bottom().ByteOffset(4)
}

// ChannelStride returns the distance in bytes between two consecutive channels of a
// one-dimensional region.
func (r Reg) ChannelStride() int {
	return r.HStride * r.Type.Size()
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	var mod string
	if r.Negate {
		mod = "-"
	}
	if r.Abs {
		mod += "(abs)"
	}
	switch r.File {
	case FileIMM:
		switch r.Type {
		case TypeF:
			return fmt.Sprintf("%s%gf", mod, math.Float32frombits(uint32(r.Imm)))
		case TypeD:
			return fmt.Sprintf("%s%d:d", mod, int32(r.Imm))
		default:
			return fmt.Sprintf("%s0x%x:%s", mod, uint32(r.Imm), r.Type)
		}
	case FileARF:
		return mod + arfName(r.Nr, r.SubNr) + ":" + r.Type.String()
	default:
		return fmt.Sprintf("%sr%d.%d<%d;%d,%d>:%s", mod, r.Nr, r.SubNr/r.Type.Size(), r.VStride, r.Width, r.HStride, r.Type)
	}
}

func arfName(nr, subnr int) string {
	switch nr & 0xf0 {
	case ARFNull:
		return "null"
	case ARFAddress:
		return fmt.Sprintf("a%d.%d", nr&0xf, subnr)
	case ARFAccumulator:
		return fmt.Sprintf("acc%d", nr&0xf)
	case ARFFlag:
		return fmt.Sprintf("f%d.%d", nr&0xf, subnr/2)
	case ARFMask:
		return "mask"
	case ARFState:
		return "sr0"
	case ARFControl:
		return "cr0"
	case ARFNotification:
		return fmt.Sprintf("n%d", nr&0xf)
	case ARFIP:
		return "ip"
	}
	return fmt.Sprintf("arf%#x", nr)
}
