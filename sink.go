package gbe

import (
	"context"
	"sync"
)

// CodeSink receives the result of CompileProgram, typically to upload the kernels to the device.
type CodeSink interface {
	// BindKernel is called once per successfully compiled kernel, in name order, before EmitProgram.
	BindKernel(ctx context.Context, k *Kernel) error
	// EmitProgram is called once with the program holding every bound kernel.
	EmitProgram(ctx context.Context, p *Program) error
}

// MemorySink is a CodeSink keeping what it receives in memory. It is safe for concurrent use.
type MemorySink struct {
	mux     sync.Mutex
	kernels []*Kernel
	binary  []byte
}

// BindKernel implements CodeSink.BindKernel
func (s *MemorySink) BindKernel(_ context.Context, k *Kernel) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.kernels = append(s.kernels, k)
	return nil
}

// EmitProgram implements CodeSink.EmitProgram. It serializes p.
func (s *MemorySink) EmitProgram(_ context.Context, p *Program) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.binary = b
	return nil
}

// Kernels returns the bound kernels in binding order.
func (s *MemorySink) Kernels() []*Kernel {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]*Kernel(nil), s.kernels...)
}

// Binary returns the serialized form of the last emitted program, or nil.
func (s *MemorySink) Binary() []byte {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.binary
}
