package encoder

import (
	"encoding/binary"
	"fmt"
)

// WordSize is the size in bytes of one instruction word.
const WordSize = 16

// Word is one 128-bit native instruction, stored as four little-endian dwords.
type Word [4]uint32

// Opcode is the native opcode stored in the low 7 bits of a word.
type Opcode byte

const (
	OpMov   Opcode = 1
	OpSel   Opcode = 2
	OpNot   Opcode = 4
	OpAnd   Opcode = 5
	OpOr    Opcode = 6
	OpXor   Opcode = 7
	OpShr   Opcode = 8
	OpShl   Opcode = 9
	OpAsr   Opcode = 12
	OpCmp   Opcode = 16
	OpJmpi  Opcode = 32
	OpWait  Opcode = 48
	OpSend  Opcode = 49
	OpMath  Opcode = 56
	OpAdd   Opcode = 64
	OpMul   Opcode = 65
	OpFrc   Opcode = 67
	OpRndu  Opcode = 68
	OpRndd  Opcode = 69
	OpRnde  Opcode = 70
	OpRndz  Opcode = 71
	OpMach  Opcode = 73
	OpLzd   Opcode = 74
	OpFbh   Opcode = 75
	OpFbl   Opcode = 76
	OpAddc  Opcode = 78
	OpSubb  Opcode = 79
	OpMad   Opcode = 91
	OpNop   Opcode = 126
)

var opcodeNames = map[Opcode]string{
	OpMov: "mov", OpSel: "sel", OpNot: "not", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShr: "shr", OpShl: "shl", OpAsr: "asr", OpCmp: "cmp", OpJmpi: "jmpi", OpWait: "wait",
	OpSend: "send", OpMath: "math", OpAdd: "add", OpMul: "mul", OpFrc: "frc", OpRndu: "rndu",
	OpRndd: "rndd", OpRnde: "rnde", OpRndz: "rndz", OpMach: "mach", OpLzd: "lzd", OpFbh: "fbh",
	OpFbl: "fbl", OpAddc: "addc", OpSubb: "subb", OpMad: "mad", OpNop: "nop",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op%d", byte(o))
}

// QuarterControl selects which group of 8 channels an 8-wide word operates on.
type QuarterControl byte

const (
	QuarterQ1 QuarterControl = 1 + iota
	QuarterQ2
	QuarterQ3
	QuarterQ4
)

// PredicateMode is the predicate control of a word.
type PredicateMode byte

const (
	PredicateNone PredicateMode = iota
	PredicateNormal
	PredicateAnyV
	PredicateAllV
	PredicateAny2H
	PredicateAll2H
	PredicateAny4H
	PredicateAll4H
	PredicateAny8H
	PredicateAll8H
	PredicateAny16H
	PredicateAll16H
)

var predicateSuffixes = [...]string{
	PredicateAnyV:   ".anyv",
	PredicateAllV:   ".allv",
	PredicateAny2H:  ".any2h",
	PredicateAll2H:  ".all2h",
	PredicateAny4H:  ".any4h",
	PredicateAll4H:  ".all4h",
	PredicateAny8H:  ".any8h",
	PredicateAll8H:  ".all8h",
	PredicateAny16H: ".any16h",
	PredicateAll16H: ".all16h",
}

// Suffix returns the assembly suffix of a horizontal predicate, empty for the per-channel ones.
func (p PredicateMode) Suffix() string {
	if int(p) < len(predicateSuffixes) {
		return predicateSuffixes[p]
	}
	return fmt.Sprintf(".pred%d", byte(p))
}

// CondMod is the condition modifier of compare-like words.
type CondMod byte

const (
	CondNone CondMod = iota
	CondEQ
	CondNE
	CondGT
	CondGE
	CondLT
	CondLE
	CondR
	CondO
	CondU
)

var condNames = [...]string{"", "eq", "ne", "g", "ge", "l", "le", "r", "o", "u"}

// String implements fmt.Stringer.
func (c CondMod) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "invalid"
}

// SFID identifies the shared function unit a SEND word targets.
type SFID byte

const (
	SFIDNull          SFID = 0
	SFIDSampler       SFID = 2
	SFIDGateway       SFID = 3
	SFIDRenderCache   SFID = 5
	SFIDThreadSpawner SFID = 7
	SFIDConstantCache SFID = 9
	SFIDDataCache     SFID = 10
	SFIDDataCache1    SFID = 12
)

// String implements fmt.Stringer.
func (s SFID) String() string {
	switch s {
	case SFIDNull:
		return "null"
	case SFIDSampler:
		return "sampler"
	case SFIDGateway:
		return "gateway"
	case SFIDRenderCache:
		return "render"
	case SFIDThreadSpawner:
		return "thread_spawner"
	case SFIDConstantCache:
		return "const"
	case SFIDDataCache:
		return "data"
	case SFIDDataCache1:
		return "data1"
	}
	return fmt.Sprintf("sfid%d", byte(s))
}

// field is a bit range inside one of the dwords of a Word.
type field struct {
	dw, shift, width uint8
}

// Header (dword 0).
var (
	fOpcode           = field{0, 0, 7}
	fAccessMode       = field{0, 8, 1}
	fMaskControl      = field{0, 9, 1}
	fQuarterControl   = field{0, 12, 2}
	fPredicateControl = field{0, 16, 4}
	fPredicateInverse = field{0, 20, 1}
	fExecSize         = field{0, 21, 3}
	fCondModOrSFID    = field{0, 24, 4}
	fAccWrControl     = field{0, 28, 1}
	fSaturate         = field{0, 31, 1}
)

// Direct align1 operands (dwords 1-3).
var (
	fDstRegFile     = field{1, 0, 2}
	fDstRegType     = field{1, 2, 3}
	fSrc0RegFile    = field{1, 5, 2}
	fSrc0RegType    = field{1, 7, 3}
	fSrc1RegFile    = field{1, 10, 2}
	fSrc1RegType    = field{1, 12, 3}
	fNibControl     = field{1, 15, 1}
	fDstSubRegNr    = field{1, 16, 5}
	fDstRegNr       = field{1, 21, 8}
	fDstHorizStride = field{1, 29, 2}
	fDstAddrMode    = field{1, 31, 1}

	fSrc0SubRegNr    = field{2, 0, 5}
	fSrc0RegNr       = field{2, 5, 8}
	fSrc0Abs         = field{2, 13, 1}
	fSrc0Negate      = field{2, 14, 1}
	fSrc0AddrMode    = field{2, 15, 1}
	fSrc0HorizStride = field{2, 16, 2}
	fSrc0Width       = field{2, 18, 3}
	fSrc0VertStride  = field{2, 21, 4}
	fFlagSubRegNr    = field{2, 25, 1}
	fFlagRegNr       = field{2, 26, 1}

	fSrc1SubRegNr    = field{3, 0, 5}
	fSrc1RegNr       = field{3, 5, 8}
	fSrc1Abs         = field{3, 13, 1}
	fSrc1Negate      = field{3, 14, 1}
	fSrc1AddrMode    = field{3, 15, 1}
	fSrc1HorizStride = field{3, 16, 2}
	fSrc1Width       = field{3, 18, 3}
	fSrc1VertStride  = field{3, 21, 4}
)

// Three-source align16 operands.
var (
	f3FlagSubRegNr = field{1, 1, 1}
	f3FlagRegNr    = field{1, 2, 1}
	f3Src0Abs      = field{1, 4, 1}
	f3Src0Negate   = field{1, 5, 1}
	f3Src1Abs      = field{1, 6, 1}
	f3Src1Negate   = field{1, 7, 1}
	f3Src2Abs      = field{1, 8, 1}
	f3Src2Negate   = field{1, 9, 1}
	f3DstWriteMask = field{1, 17, 4}
	f3DstSubRegNr  = field{1, 21, 3}
	f3DstRegNr     = field{1, 24, 8}

	f3Src0RepCtrl  = field{2, 0, 1}
	f3Src0Swizzle  = field{2, 1, 8}
	f3Src0SubRegNr = field{2, 9, 3}
	f3Src0RegNr    = field{2, 12, 8}
	f3Src1RepCtrl  = field{2, 21, 1}
	f3Src1Swizzle  = field{2, 22, 8}
	f3Src1SubLow   = field{2, 30, 2}

	f3Src1SubHigh  = field{3, 0, 1}
	f3Src1RegNr    = field{3, 1, 8}
	f3Src2RepCtrl  = field{3, 10, 1}
	f3Src2Swizzle  = field{3, 11, 8}
	f3Src2SubRegNr = field{3, 19, 3}
	f3Src2RegNr    = field{3, 22, 8}
)

// Message descriptor (dword 3 of a SEND).
var (
	fMsgFunctionControl = field{3, 0, 19}
	fMsgHeaderPresent   = field{3, 19, 1}
	fMsgResponseLength  = field{3, 20, 5}
	fMsgLength          = field{3, 25, 4}
	fMsgEndOfThread     = field{3, 31, 1}
)

func (f field) mask() uint32 { return uint32(1)<<f.width - 1 }

func (w *Word) set(f field, v uint32) {
	if v > f.mask() {
		panic(fmt.Sprintf("BUG: value %#x overflows %d-bit field at dword %d bit %d", v, f.width, f.dw, f.shift))
	}
	w[f.dw] = w[f.dw]&^(f.mask()<<f.shift) | v<<f.shift
}

func (w Word) get(f field) uint32 {
	return w[f.dw] >> f.shift & f.mask()
}

// AppendBytes appends the little-endian encoding of w to b.
func (w Word) AppendBytes(b []byte) []byte {
	for _, dw := range w {
		b = binary.LittleEndian.AppendUint32(b, dw)
	}
	return b
}

// WordsFromBytes decodes a byte stream produced by AppendBytes.
func WordsFromBytes(b []byte) ([]Word, error) {
	if len(b)%WordSize != 0 {
		return nil, fmt.Errorf("code size %d is not a multiple of %d", len(b), WordSize)
	}
	ret := make([]Word, len(b)/WordSize)
	for i := range ret {
		for j := range ret[i] {
			ret[i][j] = binary.LittleEndian.Uint32(b[i*WordSize+j*4:])
		}
	}
	return ret, nil
}

// Opcode returns the opcode of w.
func (w Word) Opcode() Opcode { return Opcode(w.get(fOpcode)) }

// ExecWidth returns the execution width of w.
func (w Word) ExecWidth() int { return 1 << w.get(fExecSize) }

// Quarter returns the quarter control of w.
func (w Word) Quarter() QuarterControl { return QuarterControl(w.get(fQuarterControl)) + QuarterQ1 }

// Nib returns the nibble control of w.
func (w Word) Nib() int {
	if w.IsThreeSource() {
		return 0
	}
	return int(w.get(fNibControl))
}

// Predicate returns the predicate control and inverse flag of w.
func (w Word) Predicate() (PredicateMode, bool) {
	return PredicateMode(w.get(fPredicateControl)), w.get(fPredicateInverse) == 1
}

// FlagReg returns the flag register (nr, subnr) used for predication and condition modifiers.
func (w Word) FlagReg() (nr, subnr int) {
	if w.IsThreeSource() {
		return int(w.get(f3FlagRegNr)), int(w.get(f3FlagSubRegNr))
	}
	return int(w.get(fFlagRegNr)), int(w.get(fFlagSubRegNr))
}

// NoMask returns true if w ignores the execution mask.
func (w Word) NoMask() bool { return w.get(fMaskControl) == 1 }

// Saturate returns true if w saturates its result.
func (w Word) Saturate() bool { return w.get(fSaturate) == 1 }

// AccWrite returns true if w also writes the accumulator.
func (w Word) AccWrite() bool { return w.get(fAccWrControl) == 1 }

// CondMod returns the condition modifier of w. For MATH it holds the function and for SEND the SFID.
func (w Word) CondMod() CondMod { return CondMod(w.get(fCondModOrSFID)) }

// MathFunction returns the math function of a MATH word.
func (w Word) MathFunction() MathFunction { return MathFunction(w.get(fCondModOrSFID)) }

// SFID returns the shared function targeted by a SEND word.
func (w Word) SFID() SFID { return SFID(w.get(fCondModOrSFID)) }

// IsThreeSource returns true if w uses the align16 three-source layout.
func (w Word) IsThreeSource() bool { return w.Opcode() == OpMad }

// Imm returns the raw 32-bit immediate (or message descriptor) in dword 3.
func (w Word) Imm() uint32 { return w[3] }

var (
	hstrideCodes = map[int]uint32{0: 0, 1: 1, 2: 2, 4: 3}
	widthCodes   = map[int]uint32{1: 0, 2: 1, 4: 2, 8: 3, 16: 4}
	vstrideCodes = map[int]uint32{0: 0, 1: 1, 2: 2, 4: 3, 8: 4, 16: 5, 32: 6}
)

func decodeCode(m map[int]uint32, code uint32) int {
	for k, v := range m {
		if v == code {
			return k
		}
	}
	return -1
}

// Dst decodes the destination operand of a two-source word.
func (w Word) Dst() Reg {
	if w.IsThreeSource() {
		return Reg{
			File: FileGRF, Type: TypeF,
			Nr: int(w.get(f3DstRegNr)), SubNr: int(w.get(f3DstSubRegNr)) * 4, HStride: 1,
		}
	}
	return Reg{
		File:     RegFile(w.get(fDstRegFile)),
		Type:     ElemType(w.get(fDstRegType)),
		Nr:       int(w.get(fDstRegNr)),
		SubNr:    int(w.get(fDstSubRegNr)),
		HStride:  decodeCode(hstrideCodes, w.get(fDstHorizStride)),
		Indirect: w.get(fDstAddrMode) == 1,
	}
}

// Src0 decodes the first source operand.
func (w Word) Src0() Reg {
	if w.IsThreeSource() {
		return w.src3(f3Src0RegNr, w.get(f3Src0SubRegNr), f3Src0RepCtrl, f3Src0Abs, f3Src0Negate)
	}
	file := RegFile(w.get(fSrc0RegFile))
	if file == FileIMM {
		return Reg{File: FileIMM, Type: ElemType(w.get(fSrc0RegType)), Imm: uint64(w[3]), Width: 1}
	}
	return Reg{
		File:     file,
		Type:     ElemType(w.get(fSrc0RegType)),
		Nr:       int(w.get(fSrc0RegNr)),
		SubNr:    int(w.get(fSrc0SubRegNr)),
		HStride:  decodeCode(hstrideCodes, w.get(fSrc0HorizStride)),
		Width:    decodeCode(widthCodes, w.get(fSrc0Width)),
		VStride:  decodeCode(vstrideCodes, w.get(fSrc0VertStride)),
		Abs:      w.get(fSrc0Abs) == 1,
		Negate:   w.get(fSrc0Negate) == 1,
		Indirect: w.get(fSrc0AddrMode) == 1,
	}
}

// Src1 decodes the second source operand. ok is false when the word has no second source.
func (w Word) Src1() (r Reg, ok bool) {
	if w.IsThreeSource() {
		sub := w.get(f3Src1SubLow) | w.get(f3Src1SubHigh)<<2
		return w.src3(f3Src1RegNr, sub, f3Src1RepCtrl, f3Src1Abs, f3Src1Negate), true
	}
	if RegFile(w.get(fSrc0RegFile)) == FileIMM || w.Opcode() == OpSend {
		return Reg{}, false
	}
	file := RegFile(w.get(fSrc1RegFile))
	if file == FileIMM {
		return Reg{File: FileIMM, Type: ElemType(w.get(fSrc1RegType)), Imm: uint64(w[3]), Width: 1}, true
	}
	return Reg{
		File:     file,
		Type:     ElemType(w.get(fSrc1RegType)),
		Nr:       int(w.get(fSrc1RegNr)),
		SubNr:    int(w.get(fSrc1SubRegNr)),
		HStride:  decodeCode(hstrideCodes, w.get(fSrc1HorizStride)),
		Width:    decodeCode(widthCodes, w.get(fSrc1Width)),
		VStride:  decodeCode(vstrideCodes, w.get(fSrc1VertStride)),
		Abs:      w.get(fSrc1Abs) == 1,
		Negate:   w.get(fSrc1Negate) == 1,
		Indirect: w.get(fSrc1AddrMode) == 1,
	}, true
}

// Src2 decodes the third source of a three-source word.
func (w Word) Src2() Reg {
	return w.src3(f3Src2RegNr, w.get(f3Src2SubRegNr), f3Src2RepCtrl, f3Src2Abs, f3Src2Negate)
}

func (w Word) src3(nr field, sub uint32, rep, abs, neg field) Reg {
	r := Reg{
		File: FileGRF, Type: TypeF, Nr: int(w.get(nr)), SubNr: int(sub) * 4,
		HStride: 1, Width: 4, VStride: 4,
		Abs: w.get(abs) == 1, Negate: w.get(neg) == 1,
	}
	if w.get(rep) == 1 {
		r = r.ToScalar()
	}
	return r
}

// Channels returns the number of channels the word actually executes. Words touching a
// region with 8 bytes between channels (doubles, or the dword halves of 64-bit integers)
// process at most 4 channels, selected by the quarter and nibble controls.
func (w Word) Channels() int {
	n := w.ExecWidth()
	if n <= 4 || w.IsThreeSource() || w.Opcode() == OpSend {
		return n
	}
	if isQWordRegion(w.Dst()) || isQWordRegion(w.Src0()) {
		return 4
	}
	if src1, ok := w.Src1(); ok && isQWordRegion(src1) {
		return 4
	}
	return n
}

func isQWordRegion(r Reg) bool {
	if r.IsImm() {
		return false
	}
	return r.Type == TypeDF || (!r.IsScalar() && r.ChannelStride() == 8)
}

// FirstChannel returns the index of the first channel of the execution mask covered by w.
func (w Word) FirstChannel() int {
	return (int(w.Quarter())-1)*8 + w.Nib()*4
}

// MessageDescriptor is the decoded trailer of a SEND word.
type MessageDescriptor struct {
	FunctionControl uint32
	HeaderPresent   bool
	ResponseLength  int
	MessageLength   int
	EndOfThread     bool
}

// BTI returns the binding table index encoded in the function control.
func (m MessageDescriptor) BTI() uint32 { return m.FunctionControl & 0xff }

// Message decodes the message descriptor of a SEND word.
func (w Word) Message() MessageDescriptor {
	return MessageDescriptor{
		FunctionControl: w.get(fMsgFunctionControl),
		HeaderPresent:   w.get(fMsgHeaderPresent) == 1,
		ResponseLength:  int(w.get(fMsgResponseLength)),
		MessageLength:   int(w.get(fMsgLength)),
		EndOfThread:     w.get(fMsgEndOfThread) == 1,
	}
}
