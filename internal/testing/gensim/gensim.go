// Package gensim executes instruction words lane by lane, enough of the ALU and control flow to
// check emitted sequences against Go arithmetic in tests.
package gensim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
)

// maxSteps bounds the words executed by Run.
const maxSteps = 1 << 22

// Send is a SEND word reached by Run. Messages are recorded, not executed: the response
// registers are left untouched.
type Send struct {
	// Pos is the index of the word.
	Pos  int
	Word encoder.Word
	// Lanes has bit i set when channel i was enabled.
	Lanes uint16
	// Payload is a copy of the message registers at the time of the send.
	Payload []byte
}

// PayloadU32 returns the dword of lane in the payload register reg, counted from the first.
func (s *Send) PayloadU32(reg, lane int) uint32 {
	return binary.LittleEndian.Uint32(s.Payload[reg*encoder.GRFSize+lane*4:])
}

// Machine is a hardware thread: a general register file, the accumulator and the flag registers.
// Every channel is dispatched.
type Machine struct {
	GRF   [encoder.GRFNum * encoder.GRFSize]byte
	acc   [16]uint64
	flags [4]uint16
	// Sends holds the messages in execution order.
	Sends []Send
	// Ended is true once an end of thread message was sent.
	Ended bool
}

type val struct {
	isFloat bool
	i       int64
	f       float64
}

func (v val) asInt() int64 {
	if v.isFloat {
		return int64(v.f)
	}
	return v.i
}

func (v val) asFloat() float64 {
	if v.isFloat {
		return v.f
	}
	return float64(v.i)
}

func sizeMask(t encoder.ElemType) uint64 {
	if t.Size() == 8 {
		return math.MaxUint64
	}
	return 1<<(8*uint(t.Size())) - 1
}

func decodeVal(t encoder.ElemType, bits uint64) val {
	bits &= sizeMask(t)
	switch t {
	case encoder.TypeF:
		return val{isFloat: true, f: float64(math.Float32frombits(uint32(bits)))}
	case encoder.TypeDF:
		return val{isFloat: true, f: math.Float64frombits(bits)}
	case encoder.TypeB:
		return val{i: int64(int8(bits))}
	case encoder.TypeW:
		return val{i: int64(int16(bits))}
	case encoder.TypeD:
		return val{i: int64(int32(bits))}
	}
	return val{i: int64(bits)}
}

func encodeVal(t encoder.ElemType, v val) uint64 {
	switch t {
	case encoder.TypeF:
		return uint64(math.Float32bits(float32(v.asFloat())))
	case encoder.TypeDF:
		return math.Float64bits(v.asFloat())
	}
	return uint64(v.asInt()) & sizeMask(t)
}

func isAcc(r encoder.Reg) bool {
	return r.File == encoder.FileARF && r.Nr&0xf0 == encoder.ARFAccumulator
}

func elemAddr(r encoder.Reg, i int, dst bool) int {
	base := r.Nr*encoder.GRFSize + r.SubNr
	if dst {
		return base + i*r.HStride*r.Type.Size()
	}
	width := r.Width
	if width == 0 {
		width = 1
	}
	return base + ((i/width)*r.VStride+(i%width)*r.HStride)*r.Type.Size()
}

func (m *Machine) loadBits(addr, size int) uint64 {
	var buf [8]byte
	copy(buf[:size], m.GRF[addr:addr+size])
	return binary.LittleEndian.Uint64(buf[:])
}

func (m *Machine) storeBits(addr, size int, bits uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	copy(m.GRF[addr:addr+size], buf[:size])
}

func (m *Machine) src(r encoder.Reg, ch, i int) val {
	var bits uint64
	switch {
	case r.IsImm():
		bits = r.Imm
	case isAcc(r):
		bits = m.acc[ch]
	case r.File == encoder.FileGRF:
		bits = m.loadBits(elemAddr(r, i, false), r.Type.Size())
	default:
		panic(fmt.Sprintf("unsupported source %s", r))
	}
	v := decodeVal(r.Type, bits)
	if r.Abs {
		v.i, v.f = absInt(v.i), math.Abs(v.f)
	}
	if r.Negate {
		v.i, v.f = -v.i, -v.f
	}
	return v
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (m *Machine) write(r encoder.Reg, ch, i int, v val) {
	switch {
	case r.IsNull():
	case isAcc(r):
		m.acc[ch] = encodeVal(r.Type, v)
	case r.File == encoder.FileGRF:
		m.storeBits(elemAddr(r, i, true), r.Type.Size(), encodeVal(r.Type, v))
	default:
		panic(fmt.Sprintf("unsupported destination %s", r))
	}
}

func (m *Machine) flag(w encoder.Word) *uint16 {
	nr, sub := w.FlagReg()
	return &m.flags[nr*2+sub]
}

// Flag returns the flag register fnr.subnr, one bit per channel.
func (m *Machine) Flag(nr, subnr int) uint16 {
	return m.flags[nr*2+subnr]
}

func (m *Machine) predicated(w encoder.Word, ch int) bool {
	pred, inv := w.Predicate()
	if pred == encoder.PredicateNone {
		return true
	}
	bits := *m.flag(w)
	var on bool
	switch pred {
	case encoder.PredicateNormal:
		on = bits>>uint(ch)&1 == 1
	case encoder.PredicateAny8H:
		on = bits&0xff != 0
	case encoder.PredicateAny16H:
		on = bits != 0
	case encoder.PredicateAll8H:
		on = bits&0xff == 0xff
	case encoder.PredicateAll16H:
		on = bits == 0xffff
	default:
		panic(fmt.Sprintf("unsupported predicate %d", pred))
	}
	return on != inv
}

func compare(c encoder.CondMod, x, y val) bool {
	var d float64
	if x.isFloat || y.isFloat {
		d = x.asFloat() - y.asFloat()
	} else if x.i != y.i {
		d = 1
		if x.i < y.i {
			d = -1
		}
	}
	switch c {
	case encoder.CondEQ:
		return d == 0
	case encoder.CondNE:
		return d != 0
	case encoder.CondGT:
		return d > 0
	case encoder.CondGE:
		return d >= 0
	case encoder.CondLT:
		return d < 0
	case encoder.CondLE:
		return d <= 0
	}
	panic(fmt.Sprintf("unsupported condition %s", c))
}

// Run executes words from the first one until the end of the stream or an end of thread message.
// It panics on words it cannot execute, and when the program does not stop.
func (m *Machine) Run(words []encoder.Word) {
	for ip, steps := 0, 0; ip < len(words) && !m.Ended; steps++ {
		if steps > maxSteps {
			panic("runaway program")
		}
		w := words[ip]
		if offset, ok := w.JumpOffset(); ok {
			if m.predicated(w, 0) {
				ip += offset
			} else {
				ip++
			}
			continue
		}
		switch w.Opcode() {
		case encoder.OpSend:
			m.send(ip, w)
		case encoder.OpNop, encoder.OpWait:
		default:
			m.exec(w)
		}
		ip++
	}
}

func (m *Machine) send(pos int, w encoder.Word) {
	s := Send{Pos: pos, Word: w}
	first := w.FirstChannel()
	for i := 0; i < w.Channels(); i++ {
		if ch := first + i; m.predicated(w, ch) {
			s.Lanes |= 1 << uint(ch)
		}
	}
	msg := w.Message()
	start := w.Src0().Nr * encoder.GRFSize
	s.Payload = append([]byte(nil), m.GRF[start:start+msg.MessageLength*encoder.GRFSize]...)
	m.Sends = append(m.Sends, s)
	m.Ended = msg.EndOfThread
}

func (m *Machine) exec(w encoder.Word) {
	op := w.Opcode()
	dst := w.Dst()
	src0 := w.Src0()
	src1, hasSrc1 := w.Src1()
	first := w.FirstChannel()
	for i := 0; i < w.Channels(); i++ {
		ch := first + i
		// A disabled channel writes neither its destination nor its flag bit.
		if op != encoder.OpSel && !m.predicated(w, ch) {
			continue
		}
		x := m.src(src0, ch, i)
		var y val
		if hasSrc1 {
			y = m.src(src1, ch, i)
		}
		float := dst.Type.IsFloat() || x.isFloat
		var r val
		switch op {
		case encoder.OpMov:
			r = x
		case encoder.OpNot:
			r.i = ^x.i
		case encoder.OpAnd:
			r.i = x.i & y.i
		case encoder.OpOr:
			r.i = x.i | y.i
		case encoder.OpXor:
			r.i = x.i ^ y.i
		case encoder.OpShl:
			r.i = x.i << uint(y.i&31)
		case encoder.OpShr:
			r.i = int64((uint64(x.i) & sizeMask(src0.Type)) >> uint(y.i&31))
		case encoder.OpAsr:
			r.i = x.i >> uint(y.i&31)
		case encoder.OpAdd:
			if float {
				r = val{isFloat: true, f: x.asFloat() + y.asFloat()}
			} else {
				r.i = x.i + y.i
			}
		case encoder.OpMul:
			if float {
				r = val{isFloat: true, f: x.asFloat() * y.asFloat()}
			} else if isAcc(dst) {
				m.acc[ch] = uint64(x.i * y.i)
				continue
			} else {
				r.i = x.i * y.i
			}
		case encoder.OpMach:
			if src0.Type.IsSigned() {
				r.i = x.i * y.i >> 32
			} else {
				r.i = int64(uint64(x.i) * uint64(y.i) >> 32)
			}
		case encoder.OpAddc:
			sum := uint64(uint32(x.i)) + uint64(uint32(y.i))
			r.i = int64(sum)
			m.acc[ch] = sum >> 32
		case encoder.OpSubb:
			r.i = int64(uint32(x.i) - uint32(y.i))
			m.acc[ch] = 0
			if uint32(x.i) < uint32(y.i) {
				m.acc[ch] = 1
			}
		case encoder.OpSel:
			if c := w.CondMod(); c != encoder.CondNone {
				r = y
				if compare(c, x, y) {
					r = x
				}
			} else if m.predicated(w, ch) {
				r = x
			} else {
				r = y
			}
		case encoder.OpCmp:
			bit := uint16(1) << uint(ch)
			f := m.flag(w)
			*f &^= bit
			r.i = 0
			if compare(w.CondMod(), x, y) {
				*f |= bit
				r.i = -1
			}
		default:
			panic(fmt.Sprintf("unsupported opcode %s", op))
		}
		m.write(dst, ch, i, r)
	}
}

// SetU16 sets the word of lane in register nr.
func (m *Machine) SetU16(nr, lane int, v uint16) {
	binary.LittleEndian.PutUint16(m.GRF[nr*encoder.GRFSize+lane*2:], v)
}

// U16 returns the word of lane in register nr.
func (m *Machine) U16(nr, lane int) uint16 {
	return binary.LittleEndian.Uint16(m.GRF[nr*encoder.GRFSize+lane*2:])
}

// SetU32 sets the dword of lane counted from register nr.
func (m *Machine) SetU32(nr, lane int, v uint32) {
	binary.LittleEndian.PutUint32(m.GRF[nr*encoder.GRFSize+lane*4:], v)
}

// U32 returns the dword of lane counted from register nr.
func (m *Machine) U32(nr, lane int) uint32 {
	return binary.LittleEndian.Uint32(m.GRF[nr*encoder.GRFSize+lane*4:])
}

// SetU64 sets the qword of lane counted from register nr.
func (m *Machine) SetU64(nr, lane int, v uint64) {
	binary.LittleEndian.PutUint64(m.GRF[nr*encoder.GRFSize+lane*8:], v)
}

// U64 returns the qword of lane counted from register nr.
func (m *Machine) U64(nr, lane int) uint64 {
	return binary.LittleEndian.Uint64(m.GRF[nr*encoder.GRFSize+lane*8:])
}
