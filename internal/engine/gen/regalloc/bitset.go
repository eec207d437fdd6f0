package regalloc

import "math/bits"

// bitset is a set of virtual register ids used by the liveness analysis.
type bitset struct {
	bits []uint64
	// Most of the bitset values have short backing arrays, to reduce the memory
	// footprint we use this buffer as backing array for storing up to 320 bits.
	// When more bits need to be stored, the backing array are offloaded to the
	// heap.
	buf [5]uint64
}

func (b *bitset) reset() {
	b.bits, b.buf = b.bits[:0], [5]uint64{}
}

func (b *bitset) scan(f func(uint)) {
	for i, v := range b.bits {
		for j := uint(i * 64); v != 0; j++ {
			n := uint(bits.TrailingZeros64(v))
			j += n
			v >>= n + 1
			f(j)
		}
	}
}

func (b *bitset) has(i uint) bool {
	index, shift := i/64, i%64
	return index < uint(len(b.bits)) && ((b.bits[index] & (1 << shift)) != 0)
}

func (b *bitset) grow(words int) {
	if words <= len(b.bits) {
		return
	}
	if words <= len(b.buf) && len(b.bits) == 0 {
		b.bits = b.buf[:words]
		return
	}
	b.bits = append(b.bits, make([]uint64, words-len(b.bits))...)
}

func (b *bitset) set(i uint) {
	index, shift := i/64, i%64
	b.grow(int(index) + 1)
	b.bits[index] |= 1 << shift
}

func (b *bitset) unset(i uint) {
	index, shift := i/64, i%64
	if index < uint(len(b.bits)) {
		b.bits[index] &^= 1 << shift
	}
}

// union adds every member of o to b, and returns true if b changed.
func (b *bitset) union(o *bitset) (changed bool) {
	b.grow(len(o.bits))
	for i, v := range o.bits {
		if n := b.bits[i] | v; n != b.bits[i] {
			b.bits[i] = n
			changed = true
		}
	}
	return
}

// unionDiff adds every member of x which is not in y to b, and returns true if b changed.
func (b *bitset) unionDiff(x, y *bitset) (changed bool) {
	b.grow(len(x.bits))
	for i, v := range x.bits {
		if i < len(y.bits) {
			v &^= y.bits[i]
		}
		if n := b.bits[i] | v; n != b.bits[i] {
			b.bits[i] = n
			changed = true
		}
	}
	return
}

func (b *bitset) copyFrom(o *bitset) {
	b.reset()
	b.grow(len(o.bits))
	copy(b.bits, o.bits)
}
