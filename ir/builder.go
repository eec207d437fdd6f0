package ir

// Builder appends instructions to a Function. A block is opened on demand: emitting after a
// terminator, or into an empty function, starts a block with a fresh label.
type Builder struct {
	fn  *Function
	cur *BasicBlock
}

// NewBuilder returns a Builder appending to fn.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

// Function returns the function being built.
func (b *Builder) Function() *Function {
	return b.fn
}

// Label starts a new block with the label l, declared with Function.NewLabel.
func (b *Builder) Label(l LabelIndex) {
	ins := b.fn.allocateInstruction()
	ins.Opcode, ins.Label = OpcodeLabel, l
	b.cur = &BasicBlock{Label: l, Instrs: []*Instruction{ins}}
	b.fn.Blocks = append(b.fn.Blocks, b.cur)
}

// NewBlock starts a new block with a fresh label, and returns the label.
func (b *Builder) NewBlock() LabelIndex {
	l := b.fn.NewLabel()
	b.Label(l)
	return l
}

func (b *Builder) insert(op Opcode, t Type, dst []Register, src []Register) *Instruction {
	if b.cur == nil || b.cur.Terminator() != nil {
		b.NewBlock()
	}
	ins := b.fn.allocateInstruction()
	ins.Opcode, ins.Type = op, t
	if len(dst) > 0 {
		ins.Dst = append([]Register(nil), dst...)
	}
	if len(src) > 0 {
		ins.Src = append([]Register(nil), src...)
	}
	b.cur.Instrs = append(b.cur.Instrs, ins)
	return ins
}

// Unary appends dst = op(src).
func (b *Builder) Unary(op Opcode, t Type, dst, src Register) {
	b.insert(op, t, []Register{dst}, []Register{src})
}

// Mov appends dst = src.
func (b *Builder) Mov(t Type, dst, src Register) {
	b.Unary(OpcodeMov, t, dst, src)
}

// Binary appends dst = x op y.
func (b *Builder) Binary(op Opcode, t Type, dst, x, y Register) {
	b.insert(op, t, []Register{dst}, []Register{x, y})
}

// Compare appends the boolean dst = x op y.
func (b *Builder) Compare(op Opcode, t Type, dst, x, y Register) {
	b.insert(op, t, []Register{dst}, []Register{x, y})
}

// Select appends dst = cond ? x : y.
func (b *Builder) Select(t Type, dst, cond, x, y Register) {
	b.insert(OpcodeSel, t, []Register{dst}, []Register{cond, x, y})
}

// Mad appends dst = x * y + z.
func (b *Builder) Mad(t Type, dst, x, y, z Register) {
	b.insert(OpcodeMad, t, []Register{dst}, []Register{x, y, z})
}

// Convert appends dst = (dt)src where src is of type st.
func (b *Builder) Convert(dt, st Type, dst, src Register) {
	b.insert(OpcodeCvt, dt, []Register{dst}, []Register{src}).SrcType = st
}

// LoadImm appends dst = imm.
func (b *Builder) LoadImm(dst Register, imm Immediate) {
	b.insert(OpcodeLoadi, imm.Type, []Register{dst}, nil).Immediate = b.fn.NewImmediate(imm)
}

// Load appends the load of len(dst) consecutive values of type t at addr.
func (b *Builder) Load(t Type, space AddressSpace, aligned bool, addr Register, dst ...Register) {
	ins := b.insert(OpcodeLoad, t, dst, []Register{addr})
	ins.Space, ins.Aligned = space, aligned
}

// Store appends the store of consecutive values of type t at addr.
func (b *Builder) Store(t Type, space AddressSpace, aligned bool, addr Register, values ...Register) {
	ins := b.insert(OpcodeStore, t, nil, append([]Register{addr}, values...))
	ins.Space, ins.Aligned = space, aligned
}

// Atomic appends dst = atomic op at addr with the given operands.
func (b *Builder) Atomic(op AtomicOp, t Type, space AddressSpace, dst, addr Register, operands ...Register) {
	ins := b.insert(OpcodeAtomic, t, []Register{dst}, append([]Register{addr}, operands...))
	ins.Space, ins.Atomic = space, op
}

// Sample appends the sampling of image with sampler at coords of type ct, into four channels of type t.
func (b *Builder) Sample(t, ct Type, image, sampler uint32, dst [4]Register, coords ...Register) {
	ins := b.insert(OpcodeSample, t, dst[:], coords)
	ins.SrcType, ins.Image, ins.Sampler = ct, image, sampler
}

// TypedWrite appends the write of four channels of type t into image at the integer coords.
func (b *Builder) TypedWrite(t Type, image uint32, coords []Register, values [4]Register) {
	src := append(append([]Register(nil), coords...), values[:]...)
	b.insert(OpcodeTypedWrite, t, nil, src).Image = image
}

// GetImageInfo appends dst = the dimension info of image.
func (b *Builder) GetImageInfo(info ImageInfo, image uint32, dst Register) {
	ins := b.insert(OpcodeGetImageInfo, TypeS32, []Register{dst}, nil)
	ins.Info, ins.Image = info, image
}

// Sync appends a barrier or fence.
func (b *Builder) Sync(flags SyncFlags) {
	b.insert(OpcodeSync, TypeU32, nil, nil).Sync = flags
}

// Branch appends an unconditional jump to l.
func (b *Builder) Branch(l LabelIndex) {
	b.insert(OpcodeBra, TypeBool, nil, nil).Label = l
}

// BranchIf appends a jump to l taken when pred is true, and falls through otherwise.
func (b *Builder) BranchIf(pred Register, l LabelIndex) {
	b.insert(OpcodeBra, TypeBool, nil, []Register{pred}).Label = l
}

// Ret appends the end of the kernel.
func (b *Builder) Ret() {
	b.insert(OpcodeRet, TypeBool, nil, nil)
}
