package encoder

// Message types and function control bits.
const (
	msgDwordScatteredRead = 3
	msgByteScatteredRead  = 4
	msgUntypedRead        = 5
	msgUntypedAtomic      = 6
	msgMemoryFence        = 7
	msgByteScatteredWrite = 12
	msgUntypedWrite       = 13
	msgTypedWrite         = 13
	msgHSWUntypedRead     = 1
	msgHSWUntypedAtomic   = 2
	msgHSWUntypedWrite    = 9
	msgSamplerSample      = 0
	msgSamplerLD          = 7
	msgSamplerResInfo     = 10
	msgGatewayBarrier     = 4
	scratchCategory       = 1 << 18
	scratchWrite          = 1 << 17
	scratchDwordChannels  = 1 << 16
	fenceCommitEnable     = 1 << 13
	atomicReturnData      = 1 << 13
	dwordGatherBlock8     = 2
	dwordGatherBlock16    = 3
	untypedSIMD16         = 1
	untypedSIMD8          = 2
)

// AtomicOp is the operation of an untyped atomic message.
type AtomicOp byte

const (
	AtomicAnd     AtomicOp = 1
	AtomicOr      AtomicOp = 2
	AtomicXor     AtomicOp = 3
	AtomicXchg    AtomicOp = 4
	AtomicInc     AtomicOp = 5
	AtomicDec     AtomicOp = 6
	AtomicAdd     AtomicOp = 7
	AtomicSub     AtomicOp = 8
	AtomicRevSub  AtomicOp = 9
	AtomicIMax    AtomicOp = 10
	AtomicIMin    AtomicOp = 11
	AtomicUMax    AtomicOp = 12
	AtomicUMin    AtomicOp = 13
	AtomicCmpXchg AtomicOp = 14
)

// SourceCount returns the number of payload registers per 8 channels, including the address.
func (a AtomicOp) SourceCount() int {
	switch a {
	case AtomicInc, AtomicDec:
		return 1
	case AtomicCmpXchg:
		return 3
	default:
		return 2
	}
}

// groups returns the number of 8-channel groups covered by a message at the current width.
func (e *Encoder) groups(what string) int {
	switch e.Curr.ExecWidth {
	case 8:
		return 1
	case 16:
		return 2
	}
	unimplemented("%s at execution width %d", what, e.Curr.ExecWidth)
	return 0
}

func (e *Encoder) send(sfid SFID, dst, src Reg, d MessageDescriptor) {
	if src.File != FileGRF {
		encodingError(OpSend, "message payload %s must be in the general register file", src)
	}
	if dst.File != FileGRF && !dst.IsNull() {
		encodingError(OpSend, "message response %s must be in the general register file", dst)
	}
	w := e.next(OpSend)
	w.set(fCondModOrSFID, uint32(sfid))
	e.setDst(w, OpSend, dst)
	e.setSrc0(w, OpSend, src)
	w.set(fSrc1RegFile, uint32(FileIMM))
	w.set(fSrc1RegType, uint32(TypeD))
	w[3] = 0
	w.set(fMsgFunctionControl, d.FunctionControl)
	w.set(fMsgHeaderPresent, b2u(d.HeaderPresent))
	w.set(fMsgResponseLength, uint32(d.ResponseLength))
	w.set(fMsgLength, uint32(d.MessageLength))
	w.set(fMsgEndOfThread, b2u(d.EndOfThread))
}

// untypedTarget returns the port and message type of untyped surface messages, which moved
// to the second data cache port on Haswell.
func (e *Encoder) untypedTarget(gen7Type, gen75Type uint32) (SFID, uint32) {
	if e.gen == Gen75 {
		return SFIDDataCache1, gen75Type
	}
	return SFIDDataCache, gen7Type
}

func checkElemNum(op string, n int) {
	if n < 1 || n > 4 {
		encodingError(OpSend, "%s of %d elements: must be within 1 and 4", op, n)
	}
}

func (e *Encoder) untypedSIMDMode() uint32 {
	if e.Curr.ExecWidth == 16 {
		return untypedSIMD16
	}
	return untypedSIMD8
}

// UntypedRead reads elemNum consecutive dwords per channel from the addresses in src.
func (e *Encoder) UntypedRead(dst, src Reg, bti uint32, elemNum int) {
	checkElemNum("untyped read", elemNum)
	g := e.groups("untyped read")
	sfid, typ := e.untypedTarget(msgUntypedRead, msgHSWUntypedRead)
	rgba := uint32(0xf) &^ (1<<uint(elemNum) - 1)
	e.send(sfid, dst.Retype(TypeUW), src, MessageDescriptor{
		FunctionControl: bti | rgba<<8 | e.untypedSIMDMode()<<12 | typ<<14,
		MessageLength:   g,
		ResponseLength:  elemNum * g,
	})
}

// UntypedWrite writes elemNum dwords per channel. msg holds the addresses followed by the data.
func (e *Encoder) UntypedWrite(msg Reg, bti uint32, elemNum int) {
	checkElemNum("untyped write", elemNum)
	g := e.groups("untyped write")
	sfid, typ := e.untypedTarget(msgUntypedWrite, msgHSWUntypedWrite)
	rgba := uint32(0xf) &^ (1<<uint(elemNum) - 1)
	e.send(sfid, Null(TypeUW), msg, MessageDescriptor{
		FunctionControl: bti | rgba<<8 | e.untypedSIMDMode()<<12 | typ<<14,
		MessageLength:   (1 + elemNum) * g,
	})
}

func byteDataSize(op string, elemSize int) uint32 {
	switch elemSize {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	encodingError(OpSend, "%s of %d-byte elements", op, elemSize)
	return 0
}

// ByteGather reads one elemSize-byte value per channel, zero-extended to a dword, from any alignment.
func (e *Encoder) ByteGather(dst, src Reg, bti uint32, elemSize int) {
	g := e.groups("byte gather")
	ds := byteDataSize("byte gather", elemSize)
	e.send(SFIDDataCache, dst.Retype(TypeUW), src, MessageDescriptor{
		FunctionControl: bti | uint32(g-1)<<8 | ds<<9 | msgByteScatteredRead<<14,
		MessageLength:   g,
		ResponseLength:  g,
	})
}

// ByteScatter writes one elemSize-byte value per channel. msg holds the addresses followed by the data.
func (e *Encoder) ByteScatter(msg Reg, bti uint32, elemSize int) {
	g := e.groups("byte scatter")
	ds := byteDataSize("byte scatter", elemSize)
	e.send(SFIDDataCache, Null(TypeUW), msg, MessageDescriptor{
		FunctionControl: bti | uint32(g-1)<<8 | ds<<9 | msgByteScatteredWrite<<14,
		MessageLength:   2 * g,
	})
}

// DwordGather reads one dword per channel through the constant cache.
func (e *Encoder) DwordGather(dst, src Reg, bti uint32) {
	g := e.groups("dword gather")
	block := uint32(dwordGatherBlock8)
	if g == 2 {
		block = dwordGatherBlock16
	}
	e.send(SFIDConstantCache, dst.Retype(TypeUW), src, MessageDescriptor{
		FunctionControl: bti | block<<8 | msgDwordScatteredRead<<14,
		MessageLength:   g,
		ResponseLength:  g,
	})
}

// Atomic performs op at the addresses in the first register(s) of src and returns the old values.
func (e *Encoder) Atomic(dst Reg, op AtomicOp, src Reg, bti uint32, srcNum int) {
	if srcNum < 1 || srcNum > 3 {
		encodingError(OpSend, "atomic with %d sources", srcNum)
	}
	g := e.groups("atomic")
	sfid, typ := e.untypedTarget(msgUntypedAtomic, msgHSWUntypedAtomic)
	simd := uint32(0)
	if g == 1 {
		simd = 1
	}
	e.send(sfid, dst.Retype(TypeUW), src, MessageDescriptor{
		FunctionControl: bti | uint32(op)<<8 | simd<<12 | atomicReturnData | typ<<14,
		MessageLength:   srcNum * g,
		ResponseLength:  g,
	})
}

// Sample issues a sampler message with coordNum coordinate registers per 8 channels, after the
// header register when header is true. When ld is true the coordinates are integers and no
// filtering happens.
func (e *Encoder) Sample(dst, msg Reg, bti, sampler uint32, coordNum int, ld, header bool) {
	if coordNum < 1 || coordNum > 4 {
		encodingError(OpSend, "sample with %d coordinates", coordNum)
	}
	g := e.groups("sample")
	typ := uint32(msgSamplerSample)
	if ld {
		typ = msgSamplerLD
	}
	msgLen := coordNum * g
	if header {
		msgLen++
	}
	e.send(SFIDSampler, dst.Retype(TypeUW), msg, MessageDescriptor{
		FunctionControl: bti | sampler<<8 | typ<<12 | uint32(g)<<17,
		MessageLength:   msgLen,
		ResponseLength:  4 * g,
		HeaderPresent:   header,
	})
}

// GetImageInfo queries the dimensions of the surface at bti.
func (e *Encoder) GetImageInfo(dst, msg Reg, bti uint32) {
	g := e.groups("get image info")
	e.send(SFIDSampler, dst.Retype(TypeUW), msg, MessageDescriptor{
		FunctionControl: bti | msgSamplerResInfo<<12 | uint32(g)<<17,
		MessageLength:   g,
		ResponseLength:  4 * g,
	})
}

// TypedWrite writes one texel per channel for 8 channels. msg holds a header, four coordinate
// registers and four color registers. The current quarter selects the slot group.
func (e *Encoder) TypedWrite(msg Reg, bti uint32) {
	if e.Curr.ExecWidth != 8 {
		unimplemented("typed write at execution width %d", e.Curr.ExecWidth)
	}
	sfid := SFIDRenderCache
	if e.gen == Gen75 {
		sfid = SFIDDataCache1
	}
	slot := uint32(1)
	if e.Curr.Quarter == QuarterQ2 {
		slot = 2
	}
	e.send(sfid, Null(TypeUW), msg, MessageDescriptor{
		FunctionControl: bti | slot<<12 | msgTypedWrite<<14,
		HeaderPresent:   true,
		MessageLength:   9,
	})
}

func scratchBlockSize(numRegs int) uint32 {
	switch numRegs {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 3
	}
	unimplemented("scratch access of %d registers", numRegs)
	return 0
}

func scratchOffset(offset int) uint32 {
	if offset%GRFSize != 0 || offset < 0 || offset/GRFSize >= 1<<12 {
		encodingError(OpSend, "scratch offset %d is not a register-aligned offset below %d", offset, GRFSize<<12)
	}
	return uint32(offset / GRFSize)
}

// ScratchWrite stores numRegs registers following the header msg at the byte offset
// of the thread's scratch space.
func (e *Encoder) ScratchWrite(msg Reg, offset, numRegs int) {
	e.send(SFIDDataCache, Null(TypeUW), msg, MessageDescriptor{
		FunctionControl: scratchOffset(offset) | scratchBlockSize(numRegs)<<12 | scratchDwordChannels | scratchWrite | scratchCategory,
		HeaderPresent:   true,
		MessageLength:   numRegs + 1,
	})
}

// ScratchRead loads numRegs registers into dst from the byte offset of the thread's scratch space.
func (e *Encoder) ScratchRead(dst, header Reg, offset, numRegs int) {
	e.send(SFIDDataCache, dst.Retype(TypeUW), header, MessageDescriptor{
		FunctionControl: scratchOffset(offset) | scratchBlockSize(numRegs)<<12 | scratchDwordChannels | scratchCategory,
		HeaderPresent:   true,
		MessageLength:   1,
		ResponseLength:  numRegs,
	})
}

// Fence waits until all the outstanding memory writes of the thread are globally visible.
// dst receives the commit acknowledgment.
func (e *Encoder) Fence(dst Reg) {
	e.Push()
	e.Curr.ExecWidth = 8
	e.Curr.Predicate = PredicateNone
	e.Curr.NoMask = true
	e.Curr.Quarter, e.Curr.Nib = QuarterQ1, 0
	e.send(SFIDDataCache, dst.Retype(TypeUW), dst, MessageDescriptor{
		FunctionControl: fenceCommitEnable | msgMemoryFence<<14,
		MessageLength:   1,
		ResponseLength:  1,
	})
	e.Pop()
}

// Barrier signals the work-group barrier. src is a copy of the thread payload header.
// A Wait must follow before the thread relies on the barrier.
func (e *Encoder) Barrier(src Reg) {
	e.Push()
	e.Curr.ExecWidth = 8
	e.Curr.Predicate = PredicateNone
	e.Curr.NoMask = true
	e.Curr.Quarter, e.Curr.Nib = QuarterQ1, 0
	e.send(SFIDGateway, Null(TypeUW), src, MessageDescriptor{
		FunctionControl: msgGatewayBarrier,
		MessageLength:   1,
	})
	e.Pop()
}

// EOT terminates the hardware thread. msgNr holds a copy of the thread payload header.
func (e *Encoder) EOT(msgNr int) {
	e.Push()
	e.Curr = State{ExecWidth: 8, Quarter: QuarterQ1, NoMask: true}
	e.send(SFIDThreadSpawner, Null(TypeUD), Vec(msgNr, TypeUD), MessageDescriptor{
		MessageLength: 1,
		EndOfThread:   true,
	})
	e.Pop()
}
