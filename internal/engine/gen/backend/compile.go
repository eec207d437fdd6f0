package backend

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
	"github.com/gbe-go/gbe/internal/engine/gen/regalloc"
	"github.com/gbe-go/gbe/ir"
)

// spillFirst is the first register of the spill slots, right below the staging area.
const spillFirst = stageFirst - spillSlotNum*regalloc.MaxSpan

// Options configures a Compiler.
type Options struct {
	Generation encoder.Generation
	// SIMDWidth overrides the width of every kernel when non-zero.
	SIMDWidth int
	// AllowSpilling lets the allocator spill to scratch memory when a kernel does not fit in registers.
	AllowSpilling bool
	Logger        logrus.FieldLogger
}

// Output is a compiled kernel.
type Output struct {
	Name      string
	Code      []byte
	Words     int
	SIMDWidth int
	// CurbeSize is in bytes.
	CurbeSize uint32
	// Patches are sorted by type and sub, see SearchPatch.
	Patches []Patch
	// StackSize is the private memory per lane in bytes.
	StackSize uint32
	// ScratchSize is the spill space per thread in bytes.
	ScratchSize uint32
	SLMSize     uint32
	UseSLM      bool
	// Retried is true when the kernel was selected a second time with limited register pressure.
	Retried bool
	// Spilled is the number of spilled virtual registers.
	Spilled int
}

// Compiler compiles IR functions one at a time. It is not goroutine-safe: its buffers are reused
// across Compile calls.
type Compiler struct {
	opts  Options
	log   logrus.FieldLogger
	f     *function
	alloc regalloc.Allocator
	enc   *encoder.Encoder
	em    emitter
}

// NewCompiler returns a Compiler for the given options.
func NewCompiler(opts Options) *Compiler {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if opts.Generation == 0 {
		opts.Generation = encoder.Gen7
	}
	return &Compiler{
		opts:  opts,
		log:   log,
		f:     newFunction(),
		alloc: regalloc.NewAllocator(),
		enc:   encoder.New(opts.Generation, 16),
	}
}

// simdWidth returns the width fn is compiled at.
func (c *Compiler) simdWidth(fn *ir.Function) int {
	switch {
	case c.opts.SIMDWidth != 0:
		return c.opts.SIMDWidth
	case fn.SIMDWidth != 0:
		return fn.SIMDWidth
	}
	return 16
}

// Compile selects, allocates and emits fn. When the kernel does not fit in the register file, it is
// selected again with limited register pressure, spilling if allowed.
func (c *Compiler) Compile(fn *ir.Function) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, recoverTyped(r, fn.Name)
		}
	}()

	if err := fn.WellFormed(); err != nil {
		return nil, errors.Wrapf(err, "kernel %s", fn.Name)
	}
	simd := c.simdWidth(fn)
	if simd != 8 && simd != 16 {
		return nil, errors.Wrapf(&api.UnimplementedError{What: fmt.Sprintf("SIMD width %d", simd)}, "kernel %s", fn.Name)
	}
	log := c.log.WithField("kernel", fn.Name)

	out, err = c.compile(fn, simd, false)
	if errors.Is(err, regalloc.ErrRegisterPressureExceeded) {
		log.WithField("spilling", c.opts.AllowSpilling).Warn("register pressure exceeded, selecting again with limited pressure")
		out, err = c.compile(fn, simd, true)
		if err == nil {
			out.Retried = true
		}
	}
	if errors.Is(err, regalloc.ErrRegisterPressureExceeded) {
		return nil, errors.Wrapf(api.ErrRegisterPressureExceeded, "kernel %s", fn.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "kernel %s", fn.Name)
	}
	return out, nil
}

// recoverTyped turns the typed panics of the selector, the emitter and the encoder into errors.
func recoverTyped(r interface{}, name string) error {
	switch e := r.(type) {
	case *api.EncodingError:
		return errors.Wrapf(e, "kernel %s", name)
	case *api.MalformedInstructionError:
		return errors.Wrapf(e, "kernel %s", name)
	case *api.UnimplementedError:
		return errors.Wrapf(e, "kernel %s", name)
	}
	panic(r)
}

func (c *Compiler) compile(fn *ir.Function, simd int, limited bool) (*Output, error) {
	f := c.f
	f.reset(fn.Name, simd)

	s := newSelector(f, fn, limited)
	s.selectFunction()
	cb := s.curbe
	if genapi.PrintSelection {
		fmt.Printf("[[[selection of %s (limited=%t)]]]\n%s\n", fn.Name, limited, f)
	}

	info := &regalloc.RegisterInfo{First: regalloc.RealReg(cb.first), Limit: stageFirst}
	if limited && c.opts.AllowSpilling {
		info.Limit = spillFirst
		for k := 0; k < spillSlotNum; k++ {
			info.SpillSlots = append(info.SpillSlots, regalloc.RealReg(spillFirst+k*regalloc.MaxSpan))
		}
	}
	if cb.first >= int(info.Limit) {
		return nil, errors.Errorf("curbe of %d bytes leaves no register to allocate", cb.size)
	}

	f.computeRPO()
	if err := c.alloc.DoAllocation(f, info); err != nil {
		return nil, err
	}
	if genapi.PrintRegisterAllocated {
		fmt.Printf("[[[allocated %s]]]\n%s\n", fn.Name, f)
	}

	c.enc.Reset(c.opts.Generation, simd)
	c.em = emitter{enc: c.enc, f: f, curbe: cb, stackSize: fn.StackSize, jumps: c.em.jumps}
	c.em.emitFunction(len(s.blocks))
	if genapi.PrintFinalizedWords {
		fmt.Printf("[[[words of %s]]]\n%s\n", fn.Name, encoder.Disassemble(c.enc.Words()))
	}

	return &Output{
		Name:        fn.Name,
		Code:        c.enc.Bytes(),
		Words:       c.enc.Len(),
		SIMDWidth:   simd,
		CurbeSize:   cb.size,
		Patches:     cb.patches,
		StackSize:   fn.StackSize,
		ScratchSize: uint32(c.alloc.ScratchSize() * encoder.GRFSize),
		SLMSize:     fn.SLMSize,
		UseSLM:      fn.SLMSize > 0,
		Spilled:     c.alloc.SpilledCount(),
	}, nil
}
