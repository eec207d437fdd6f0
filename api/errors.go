// Package api includes constants, errors and types shared by both end-users and internal implementations.
package api

import (
	"errors"
	"fmt"
)

var (
	// ErrRegisterPressureExceeded is returned when a kernel cannot be scheduled within the register file,
	// even after re-selecting it with register pressure limited.
	ErrRegisterPressureExceeded = errors.New("register pressure exceeded")

	// ErrInvalidBinary is returned when a serialized program or kernel fails magic or size validation.
	// Callers are expected to recompile from source.
	ErrInvalidBinary = errors.New("invalid program binary")
)

// EncodingError is raised when an operand/opcode combination cannot be represented by the instruction word.
type EncodingError struct {
	// Op is the mnemonic of the instruction being encoded.
	Op     string
	Reason string
}

// Error implements error.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s: %s", e.Op, e.Reason)
}

// MalformedInstructionError is raised when an IR or selection instruction fails its structural self-check.
type MalformedInstructionError struct {
	// Instruction is the textual form of the offending instruction, possibly empty.
	Instruction string
	Reason      string
}

// Error implements error.
func (e *MalformedInstructionError) Error() string {
	if e.Instruction == "" {
		return "malformed instruction: " + e.Reason
	}
	return fmt.Sprintf("malformed instruction %q: %s", e.Instruction, e.Reason)
}

// UnimplementedError is raised when a valid but unsupported combination of width, type and opcode is requested.
type UnimplementedError struct {
	What string
}

// Error implements error.
func (e *UnimplementedError) Error() string {
	return "not implemented: " + e.What
}
