package encoder

import (
	"fmt"
	"strings"
)

// String returns a human readable form of w, close to the usual assembly syntax.
func (w Word) String() string {
	var sb strings.Builder
	if pred, inv := w.Predicate(); pred != PredicateNone {
		nr, sub := w.FlagReg()
		sign := "+"
		if inv {
			sign = "-"
		}
		fmt.Fprintf(&sb, "(%sf%d.%d%s) ", sign, nr, sub, pred.Suffix())
	}
	op := w.Opcode()
	sb.WriteString(op.String())
	switch op {
	case OpMath:
		sb.WriteString("." + w.MathFunction().String())
	case OpSend:
	default:
		if c := w.CondMod(); c != CondNone {
			sb.WriteString("." + c.String())
		}
	}
	if w.Saturate() {
		sb.WriteString(".sat")
	}
	fmt.Fprintf(&sb, " (%d", w.ExecWidth())
	if w.ExecWidth() == 8 && !w.IsThreeSource() {
		fmt.Fprintf(&sb, ",q%d", w.Quarter())
		if n := w.Nib(); n != 0 {
			fmt.Fprintf(&sb, ",n%d", n)
		}
	}
	sb.WriteString(") ")

	switch {
	case op == OpNop:
		return strings.TrimSpace(sb.String())
	case op == OpSend:
		m := w.Message()
		fmt.Fprintf(&sb, "%s %s %s msglen=%d rlen=%d fc=%#x", w.Dst(), w.Src0(), w.SFID(),
			m.MessageLength, m.ResponseLength, m.FunctionControl)
		if m.HeaderPresent {
			sb.WriteString(" header")
		}
		if m.EndOfThread {
			sb.WriteString(" EOT")
		}
	case w.IsThreeSource():
		s1, _ := w.Src1()
		fmt.Fprintf(&sb, "%s %s %s %s", w.Dst(), w.Src0(), s1, w.Src2())
	case op == OpJmpi:
		fmt.Fprintf(&sb, "%d", int32(w.Imm()))
	default:
		fmt.Fprintf(&sb, "%s %s", w.Dst(), w.Src0())
		if s1, ok := w.Src1(); ok {
			fmt.Fprintf(&sb, " %s", s1)
		}
	}
	if w.NoMask() {
		sb.WriteString(" {nomask}")
	}
	if w.AccWrite() {
		sb.WriteString(" {accwr}")
	}
	return sb.String()
}

// Disassemble renders words one per line, prefixed with their byte offset.
func Disassemble(words []Word) string {
	var sb strings.Builder
	for i, w := range words {
		fmt.Fprintf(&sb, "%06x: %s\n", i*WordSize, w)
	}
	return sb.String()
}
