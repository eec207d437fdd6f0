package encoder

// JumpSlot is the position of a JMPI word. The word right after it is a NOP reserved for
// PatchJump, which may need it when the distance does not fit in the immediate.
// JumpSlot values are only created by Jmpi, so every patchable jump owns its reserved word.
type JumpSlot struct {
	pos int
}

// Pos returns the index of the JMPI word.
func (s JumpSlot) Pos() int { return s.pos }

const (
	// jmpiUnitsPerWord converts word distances to the 64-bit units of the JMPI immediate.
	jmpiUnitsPerWord = 2
	// ipBytesPerJmpiUnit converts JMPI units to bytes, the unit of the instruction pointer.
	ipBytesPerJmpiUnit = 8
	jmpiImmMin         = -32768
	jmpiImmMax         = 32767
)

// Jmpi emits a jump, taken under the current predicate, with a zero distance to be fixed by
// PatchJump, followed by its reserved NOP.
func (e *Encoder) Jmpi() JumpSlot {
	slot := JumpSlot{pos: len(e.words)}
	e.Push()
	e.Curr.ExecWidth = 1
	e.Curr.NoMask = true
	e.Curr.Quarter, e.Curr.Nib = QuarterQ1, 0
	e.emit2(OpJmpi, IP(), IP(), ImmD(0))
	e.Pop()
	e.Nop()
	return slot
}

// PatchJump sets the target of the jump at slot to distance words after the word following
// the jump. When the distance does not fit in the JMPI immediate, the jump is rewritten into
// an explicit instruction pointer addition, using the reserved word for predicated jumps.
func (e *Encoder) PatchJump(slot JumpSlot, distance int32) {
	if slot.pos+1 >= len(e.words) {
		encodingError(OpJmpi, "jump slot %d is out of the stream", slot.pos)
	}
	jmp, reserved := &e.words[slot.pos], &e.words[slot.pos+1]
	if jmp.Opcode() != OpJmpi {
		encodingError(OpJmpi, "word %d is %s, not a jump", slot.pos, jmp.Opcode())
	}
	if reserved.Opcode() != OpNop {
		encodingError(OpJmpi, "reserved word after jump %d was overwritten by %s", slot.pos, reserved.Opcode())
	}

	imm := int64(distance) * jmpiUnitsPerWord
	if imm >= jmpiImmMin && imm <= jmpiImmMax {
		jmp[3] = uint32(int32(imm))
		return
	}

	pred, inverse := jmp.Predicate()
	if pred == PredicateNone {
		// The jump itself becomes ip += target - ip, ip being the position of this word.
		e.rewriteIPAdd(jmp, int32((imm+jmpiUnitsPerWord)*ipBytesPerJmpiUnit))
		return
	}
	// Skip the reserved word when the condition fails, otherwise fall into it.
	jmp.set(fPredicateInverse, b2u(!inverse))
	jmp[3] = uint32(int32(jmpiUnitsPerWord))
	e.rewriteIPAdd(reserved, int32(imm*ipBytesPerJmpiUnit))
	reserved.set(fPredicateControl, uint32(PredicateNone))
	reserved.set(fPredicateInverse, 0)
}

func (e *Encoder) rewriteIPAdd(w *Word, bytes int32) {
	flagNr, flagSubNr := w.FlagReg()
	pred, inverse := w.Predicate()
	*w = Word{}
	w.set(fOpcode, uint32(OpAdd))
	w.set(fExecSize, execSizeCodes[1])
	w.set(fMaskControl, 1)
	w.set(fPredicateControl, uint32(pred))
	w.set(fPredicateInverse, b2u(inverse))
	w.set(fFlagRegNr, uint32(flagNr))
	w.set(fFlagSubRegNr, uint32(flagSubNr))
	e.setDst(w, OpAdd, IP())
	e.setSrc0(w, OpAdd, IP())
	e.setSrc1(w, OpAdd, ImmD(bytes))
}

// JumpTarget returns the index of the word the jump at pos lands on when taken, following
// the instruction pointer additions produced by out-of-range patches. ok is false if pos
// is not a patched jump.
func JumpTarget(words []Word, pos int) (target int, ok bool) {
	if pos < 0 || pos >= len(words) {
		return 0, false
	}
	w := words[pos]
	if w.Opcode() == OpJmpi {
		if pred, _ := w.Predicate(); pred != PredicateNone && int32(w.Imm()) == jmpiUnitsPerWord {
			// An inverted out-of-range jump: taken means falling into the ip addition.
			if next := pos + 1; next < len(words) && words[next].IsIPAdd() {
				return JumpTarget(words, next)
			}
		}
	}
	offset, ok := w.JumpOffset()
	if !ok {
		return 0, false
	}
	return pos + offset, true
}

// IsIPAdd returns true if w adds an immediate to the instruction pointer, the form PatchJump
// gives to jumps out of the JMPI range.
func (w Word) IsIPAdd() bool {
	d := w.Dst()
	return w.Opcode() == OpAdd && d.File == FileARF && d.Nr == ARFIP
}

// JumpOffset returns the distance in words from w to the word executed after it when w is a
// taken jump. ok is false if w is neither a JMPI nor an instruction pointer addition.
func (w Word) JumpOffset() (offset int, ok bool) {
	switch {
	case w.Opcode() == OpJmpi:
		return 1 + int(int32(w.Imm()))/jmpiUnitsPerWord, true
	case w.IsIPAdd():
		return int(int32(w.Imm())) / WordSize, true
	}
	return 0, false
}
