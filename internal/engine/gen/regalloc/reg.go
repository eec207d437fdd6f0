package regalloc

import (
	"fmt"
)

// VReg represents a register which is assigned to an IR value. A VReg may or may not be
// backed by a physical register, and the info of the physical register can be obtained by RealReg.
//
// Besides the identifier, a VReg carries its span: the number of consecutive GRFs it occupies.
type VReg uint64

// VRegID is the lower 32bit of VReg, which is the pure identifier of VReg without RealReg info.
type VRegID uint32

// RealReg is the number of a general register.
type RealReg byte

const (
	// RealRegInvalid is returned by VReg.RealReg for a VReg which is not yet allocated.
	RealRegInvalid RealReg = 0xff
	// MaxSpan is the largest number of consecutive GRFs a VReg can occupy.
	MaxSpan = 4

	vRegIDInvalid VRegID = 1<<32 - 1
)

// VRegInvalid is the zero-value-safe sentinel for "no register".
const VRegInvalid = VReg(vRegIDInvalid)

// NewVReg returns a virtual register with the given identifier and span.
func NewVReg(id VRegID, span int) VReg {
	if span < 1 || span > MaxSpan {
		panic(fmt.Sprintf("BUG: invalid span %d for v%d", span, id))
	}
	return VReg(id).SetSpan(span)
}

// FromRealReg returns a VReg pre-colored to r. Pre-colored registers never take part in allocation.
func FromRealReg(r RealReg, span int) VReg {
	return VReg(r).SetRealReg(r).SetSpan(span)
}

// RealReg returns the RealReg of this VReg.
func (v VReg) RealReg() RealReg {
	// The field stores r+1 so that the zero value means unallocated.
	return RealReg(v>>32) - 1
}

// IsRealReg returns true if this VReg is backed by a physical register.
func (v VReg) IsRealReg() bool {
	return v.RealReg() != RealRegInvalid
}

// SetRealReg sets the RealReg of this VReg and returns the updated VReg.
func (v VReg) SetRealReg(r RealReg) VReg {
	return VReg(r+1)<<32 | (v & 0xff_00_ffffffff)
}

// Span returns the number of consecutive GRFs occupied by this VReg.
func (v VReg) Span() int {
	return int(v >> 40 & 0xff)
}

// SetSpan sets the span of this VReg and returns the updated VReg.
func (v VReg) SetSpan(span int) VReg {
	return VReg(span)<<40 | (v & 0x00_ff_ffffffff)
}

// ID returns the VRegID of this VReg.
func (v VReg) ID() VRegID {
	return VRegID(v & 0xffffffff)
}

// Valid returns true if this VReg is Valid.
func (v VReg) Valid() bool {
	return v.ID() != vRegIDInvalid && v.Span() != 0
}

// Overlaps returns true if the GRF ranges of two allocated registers intersect.
func (v VReg) Overlaps(o VReg) bool {
	a, b := int(v.RealReg()), int(o.RealReg())
	return a < b+o.Span() && b < a+v.Span()
}

// String implements fmt.Stringer.
func (v VReg) String() string {
	if v.IsRealReg() {
		if v.Span() > 1 {
			return fmt.Sprintf("r%d-r%d", v.RealReg(), int(v.RealReg())+v.Span()-1)
		}
		return fmt.Sprintf("r%d", v.RealReg())
	}
	return fmt.Sprintf("v%d<%d>", v.ID(), v.Span())
}
