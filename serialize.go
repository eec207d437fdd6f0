package gbe

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/ir"
)

// Programs and kernels are framed by the same magic numbers and end with the size in bytes of
// everything before the size field.
const (
	magicBegin uint32 = 0x42454247 // "GBEB"
	magicEnd   uint32 = 0x45454247 // "GBEE"
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *Program) MarshalBinary() ([]byte, error) {
	var w binWriter
	start := len(w.b)
	w.u32(magicBegin)
	if c := p.Constants; c != nil {
		w.u32(1)
		w.bytes(c.Data)
		w.u32(uint32(len(c.Constants)))
		for _, k := range c.Constants {
			w.str(k.Name)
			w.u32(k.Size)
			w.u32(k.Align)
			w.u32(k.Offset)
		}
	} else {
		w.u32(0)
	}
	w.u32(uint32(len(p.Kernels)))
	for _, k := range p.Kernels {
		k.appendBinary(&w)
	}
	w.u32(magicEnd)
	w.u64(uint64(len(w.b) - start))
	return w.b, nil
}

func (k *Kernel) appendBinary(w *binWriter) {
	start := len(w.b)
	w.u32(magicBegin)
	w.str(k.Name)
	w.u32(uint32(len(k.Args)))
	for _, a := range k.Args {
		w.u32(uint32(a.Type))
		w.u32(a.Size)
		w.u32(a.Align)
		w.str(a.Name)
	}
	w.u32(uint32(len(k.Patches)))
	for _, p := range k.Patches {
		w.u32(uint32(p.Type))
		w.u32(p.Sub)
		w.u32(p.Offset)
	}
	w.u32(k.CurbeSize)
	w.u32(uint32(k.SIMDWidth))
	w.u32(k.StackSize)
	w.u32(k.ScratchSize)
	w.bool(k.UseSLM)
	w.u32(k.SLMSize)
	for _, s := range k.WorkGroupSize {
		w.u32(s)
	}
	w.bool(len(k.Samplers) > 0)
	if len(k.Samplers) > 0 {
		w.u32(uint32(len(k.Samplers)))
		for _, s := range k.Samplers {
			w.u32(s)
		}
	}
	w.bool(len(k.Images) > 0)
	if len(k.Images) > 0 {
		w.u32(uint32(len(k.Images)))
		for _, img := range k.Images {
			w.u32(img.Arg)
			w.u32(img.Slot)
		}
	}
	w.bytes(k.Code)
	w.u32(magicEnd)
	w.u64(uint64(len(w.b) - start))
}

// DecodeProgram decodes a program serialized by Program.MarshalBinary. It returns nil and an error
// wrapping api.ErrInvalidBinary when a magic number, a count or a recorded size does not match, in
// which case the program is expected to be compiled again from its IR.
func DecodeProgram(b []byte) (*Program, error) {
	r := &binReader{b: b}
	p := r.program()
	if r.err == nil && r.pos != len(b) {
		r.fail("%d trailing bytes", len(b)-r.pos)
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func (r *binReader) program() *Program {
	start := r.pos
	r.magic(magicBegin)
	p := &Program{}
	if r.bool() {
		c := &ir.ConstantSet{Data: r.bytes()}
		n := r.count(16)
		for i := 0; i < n; i++ {
			c.Constants = append(c.Constants, ir.Constant{Name: r.str(), Size: r.u32(), Align: r.u32(), Offset: r.u32()})
		}
		p.Constants = c
	}
	n := r.count(32)
	for i := 0; i < n && r.err == nil; i++ {
		p.Kernels = append(p.Kernels, r.kernel())
	}
	r.magic(magicEnd)
	r.size(start)
	return p
}

func (r *binReader) kernel() *Kernel {
	start := r.pos
	r.magic(magicBegin)
	k := &Kernel{Name: r.str()}
	n := r.count(16)
	for i := 0; i < n; i++ {
		k.Args = append(k.Args, Arg{Type: api.ArgType(r.u32()), Size: r.u32(), Align: r.u32(), Name: r.str()})
	}
	n = r.count(12)
	for i := 0; i < n; i++ {
		k.Patches = append(k.Patches, Patch{Type: api.CurbeType(r.u32()), Sub: r.u32(), Offset: r.u32()})
	}
	k.CurbeSize = r.u32()
	k.SIMDWidth = int(r.u32())
	k.StackSize = r.u32()
	k.ScratchSize = r.u32()
	k.UseSLM = r.bool()
	k.SLMSize = r.u32()
	for i := range k.WorkGroupSize {
		k.WorkGroupSize[i] = r.u32()
	}
	if r.bool() {
		n = r.count(4)
		for i := 0; i < n; i++ {
			k.Samplers = append(k.Samplers, r.u32())
		}
	}
	if r.bool() {
		n = r.count(8)
		for i := 0; i < n; i++ {
			k.Images = append(k.Images, Image{Arg: r.u32(), Slot: r.u32()})
		}
	}
	k.Code = r.bytes()
	r.magic(magicEnd)
	r.size(start)
	return k
}

type binWriter struct {
	b []byte
}

func (w *binWriter) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }

func (w *binWriter) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *binWriter) bool(v bool) {
	if v {
		w.u32(1)
	} else {
		w.u32(0)
	}
}

func (w *binWriter) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.b = append(w.b, v...)
}

func (w *binWriter) str(v string) {
	w.u32(uint32(len(v)))
	w.b = append(w.b, v...)
}

// binReader decodes little endian fields. After the first failure every read returns zero and err
// keeps the first failure.
type binReader struct {
	b   []byte
	pos int
	err error
}

func (r *binReader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.Wrapf(api.ErrInvalidBinary, format, args...)
	}
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.pos {
		r.fail("%d bytes needed at offset %d, %d left", n, r.pos, len(r.b)-r.pos)
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *binReader) u32() uint32 {
	if v := r.take(4); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (r *binReader) u64() uint64 {
	if v := r.take(8); v != nil {
		return binary.LittleEndian.Uint64(v)
	}
	return 0
}

func (r *binReader) bool() bool {
	switch v := r.u32(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("flag %d at offset %d", v, r.pos-4)
		return false
	}
}

// count reads an element count and checks the remaining bytes can hold that many elements of at
// least minSize bytes.
func (r *binReader) count(minSize int) int {
	n := r.u32()
	if r.err == nil && uint64(n)*uint64(minSize) > uint64(len(r.b)-r.pos) {
		r.fail("count %d at offset %d exceeds the binary", n, r.pos-4)
		return 0
	}
	return int(n)
}

func (r *binReader) bytes() []byte {
	n := r.u32()
	if n > math.MaxInt32 {
		r.fail("length %d", n)
		return nil
	}
	v := r.take(int(n))
	if len(v) == 0 {
		return nil
	}
	return append([]byte(nil), v...)
}

func (r *binReader) str() string {
	return string(r.take(int(r.u32())))
}

func (r *binReader) magic(want uint32) {
	if got := r.u32(); r.err == nil && got != want {
		r.fail("magic %#x at offset %d, want %#x", got, r.pos-4, want)
	}
}

// size checks the recorded size of the frame starting at start.
func (r *binReader) size(start int) {
	end := r.pos
	if got := r.u64(); r.err == nil && got != uint64(end-start) {
		r.fail("recorded size %d, want %d", got, end-start)
	}
}
