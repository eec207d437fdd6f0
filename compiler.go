// Package gbe compiles GPU kernels expressed in the ir package into instruction words for Gen7 and
// Gen7.5 graphics hardware.
//
// A Compiler created from a Config compiles every function of an ir.Unit concurrently, and hands the
// resulting kernels to a CodeSink. Programs serialize with Program.MarshalBinary and DecodeProgram.
package gbe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gbe-go/gbe/api"
	"github.com/gbe-go/gbe/internal/compilationcache"
	"github.com/gbe-go/gbe/internal/engine/gen/backend"
	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
	"github.com/gbe-go/gbe/internal/engine/gen/genapi"
	"github.com/gbe-go/gbe/ir"
)

// Compiler compiles IR units into programs of Gen instruction words.
type Compiler interface {
	// CompileProgram compiles every function of unit into a kernel, concurrently up to the configured
	// parallelism, and hands the kernels which compiled to sink, which may be nil.
	//
	// When some kernels fail, the returned Program holds the others and the error is a *BuildError.
	// Failed kernels are never bound. The context is checked before each kernel starts; once it is
	// done, CompileProgram returns its error and nothing is bound.
	CompileProgram(ctx context.Context, unit *ir.Unit, sink CodeSink) (*Program, error)
}

// NewCompiler returns a Compiler configured by config. It returns an error if the metrics cannot be
// registered.
func NewCompiler(c Config) (Compiler, error) {
	cfg, ok := c.(*config)
	if !ok {
		return nil, errors.Errorf("unsupported Config implementation %T", c)
	}
	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}
	ret := &compiler{cfg: cfg.clone(), metrics: m}
	if fc, ok := cfg.cache.(*cache); ok {
		ret.cache = fc
	}
	ret.pool.New = func() interface{} {
		return backend.NewCompiler(backend.Options{
			Generation:    encoder.Generation(cfg.generation),
			SIMDWidth:     cfg.simdWidth,
			AllowSpilling: cfg.allowSpilling,
			Logger:        cfg.logger,
		})
	}
	return ret, nil
}

type compiler struct {
	cfg     *config
	metrics *metrics
	cache   *cache
	// pool holds *backend.Compiler, which are reused across kernels but not goroutine-safe.
	pool sync.Pool
}

// KernelError is the failure of one kernel.
type KernelError struct {
	Kernel string
	Err    error
}

// Error implements error.
func (e *KernelError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the cause.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// BuildError lists the kernels of a program which failed to compile.
type BuildError struct {
	Failed []*KernelError
}

// Error implements error.
func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d kernel(s) failed to compile", len(e.Failed))
	for _, f := range e.Failed {
		sb.WriteString("\n\t")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap returns the errors of the failed kernels, so that errors.Is and errors.As match any of them.
func (e *BuildError) Unwrap() []error {
	ret := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		ret[i] = f
	}
	return ret
}

// CompileProgram implements Compiler.CompileProgram
func (c *compiler) CompileProgram(ctx context.Context, unit *ir.Unit, sink CodeSink) (*Program, error) {
	log := c.cfg.logger.WithField("program", unit.Name)
	if err := checkNames(unit); err != nil {
		return nil, err
	}

	var key compilationcache.Key
	if c.cache != nil {
		key = cacheKey(c.cfg, unit)
		if p, ok := c.cache.get(key, log); ok {
			log.WithField("kernels", len(p.Kernels)).Debug("program loaded from the compilation cache")
			c.metrics.cached(len(p.Kernels))
			return p, c.emit(ctx, p, sink)
		}
	}

	kernels := make([]*Kernel, len(unit.Functions))
	failures := make([]*KernelError, len(unit.Functions))
	var g errgroup.Group
	g.SetLimit(c.cfg.parallelism)
	for i, fn := range unit.Functions {
		i, fn := i, fn
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			kernels[i], failures[i] = c.compileKernel(fn, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &Program{Constants: unit.Constants}
	var buildErr *BuildError
	for i := range kernels {
		if failures[i] != nil {
			if buildErr == nil {
				buildErr = &BuildError{}
			}
			buildErr.Failed = append(buildErr.Failed, failures[i])
			continue
		}
		p.Kernels = append(p.Kernels, kernels[i])
	}
	sort.Slice(p.Kernels, func(i, j int) bool { return p.Kernels[i].Name < p.Kernels[j].Name })

	if buildErr == nil && c.cache != nil {
		c.cache.add(key, p, log)
	}
	if err := c.emit(ctx, p, sink); err != nil {
		return nil, err
	}
	if buildErr != nil {
		return p, buildErr
	}
	return p, nil
}

// compileKernel compiles fn with a pooled backend compiler.
func (c *compiler) compileKernel(fn *ir.Function, log logrus.FieldLogger) (*Kernel, *KernelError) {
	log = log.WithField("kernel", fn.Name)
	log.Debug("compiling kernel")

	bc := c.pool.Get().(*backend.Compiler)
	defer c.pool.Put(bc)

	out, err := bc.Compile(fn)
	if err != nil {
		log.WithError(err).Error("kernel failed to compile")
		c.metrics.failed()
		return nil, &KernelError{Kernel: fn.Name, Err: err}
	}
	k := newKernel(fn, out)
	if genapi.PrintKernelMetadataDump {
		fmt.Printf("[[[kernel %s]]]\nargs=%v\npatches=%v\ncurbe=%d stack=%d scratch=%d slm=%d\n",
			k.Name, k.Args, k.Patches, k.CurbeSize, k.StackSize, k.ScratchSize, k.SLMSize)
	}
	c.metrics.compiled(k, out.Retried, out.Spilled)
	log.WithFields(logrus.Fields{
		"simd":    out.SIMDWidth,
		"words":   out.Words,
		"retried": out.Retried,
		"spilled": out.Spilled,
	}).Debug("kernel compiled")
	return k, nil
}

// emit binds every kernel of p then emits p.
func (c *compiler) emit(ctx context.Context, p *Program, sink CodeSink) error {
	if sink == nil {
		return nil
	}
	for _, k := range p.Kernels {
		if err := sink.BindKernel(ctx, k); err != nil {
			return errors.Wrapf(err, "bind kernel %s", k.Name)
		}
	}
	return errors.Wrap(sink.EmitProgram(ctx, p), "emit program")
}

// checkNames rejects units with an unnamed function or two functions of the same name.
func checkNames(unit *ir.Unit) error {
	seen := make(map[string]struct{}, len(unit.Functions))
	for _, fn := range unit.Functions {
		if fn.Name == "" {
			return &api.MalformedInstructionError{Reason: "unnamed kernel"}
		}
		if _, ok := seen[fn.Name]; ok {
			return &api.MalformedInstructionError{Reason: fmt.Sprintf("kernel %s defined twice", fn.Name)}
		}
		seen[fn.Name] = struct{}{}
	}
	return nil
}
