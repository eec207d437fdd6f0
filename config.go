package gbe

import (
	"fmt"
	"io"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
)

// Generation is the hardware generation kernels are compiled for.
type Generation uint8

const (
	// Gen7 is Ivy Bridge.
	Gen7 = Generation(encoder.Gen7)
	// Gen75 is Haswell.
	Gen75 = Generation(encoder.Gen75)
)

// String implements fmt.Stringer.
func (g Generation) String() string {
	return encoder.Generation(g).String()
}

// Config controls how programs are compiled, with the default implementation as NewConfig.
//
// Note: Config is immutable. Each WithXXX function returns a new instance including the corresponding
// change.
type Config interface {
	// WithGeneration sets the targeted hardware generation. Defaults to Gen7.
	WithGeneration(Generation) Config

	// WithSIMDWidth forces every kernel to be compiled at the given width, 8 or 16. Zero, the default,
	// uses the width requested by each function, or 16 when it requests none.
	WithSIMDWidth(simdWidth int) Config

	// WithParallelism limits the number of kernels compiled concurrently. Defaults to
	// runtime.GOMAXPROCS(0). Values below one are treated as one.
	WithParallelism(n int) Config

	// WithSpilling allows kernels which do not fit in the register file to spill to scratch memory.
	// Defaults to true. When false, such kernels fail with api.ErrRegisterPressureExceeded.
	WithSpilling(enabled bool) Config

	// WithLogger sets the logger receiving one entry per kernel, with a "kernel" field. Defaults to a
	// logger discarding everything.
	WithLogger(logrus.FieldLogger) Config

	// WithMetricsRegisterer registers the compiler metrics on r. Defaults to nil, which does not
	// register them.
	//
	// Note: Compilers created with the same registerer share the same collectors.
	WithMetricsRegisterer(r prometheus.Registerer) Config

	// WithCache reuses program binaries compiled previously for the same unit and configuration.
	// Defaults to nil, which compiles every program.
	WithCache(Cache) Config
}

// NewConfig returns the default Config.
func NewConfig() Config {
	return defaultConfig.clone()
}

type config struct {
	generation    Generation
	simdWidth     int
	parallelism   int
	allowSpilling bool
	logger        logrus.FieldLogger
	registerer    prometheus.Registerer
	cache         Cache
}

var defaultConfig = &config{
	generation:    Gen7,
	parallelism:   runtime.GOMAXPROCS(0),
	allowSpilling: true,
	logger:        discardLogger(),
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// clone makes a deep copy of this config.
func (c *config) clone() *config {
	ret := *c
	return &ret
}

// WithGeneration implements Config.WithGeneration
func (c *config) WithGeneration(g Generation) Config {
	if g != Gen7 && g != Gen75 {
		panic(fmt.Errorf("unsupported generation %s", g))
	}
	ret := c.clone()
	ret.generation = g
	return ret
}

// WithSIMDWidth implements Config.WithSIMDWidth
func (c *config) WithSIMDWidth(simdWidth int) Config {
	if simdWidth != 0 && simdWidth != 8 && simdWidth != 16 {
		panic(fmt.Errorf("simdWidth invalid: %d is not 8 or 16", simdWidth))
	}
	ret := c.clone()
	ret.simdWidth = simdWidth
	return ret
}

// WithParallelism implements Config.WithParallelism
func (c *config) WithParallelism(n int) Config {
	if n < 1 {
		n = 1
	}
	ret := c.clone()
	ret.parallelism = n
	return ret
}

// WithSpilling implements Config.WithSpilling
func (c *config) WithSpilling(enabled bool) Config {
	ret := c.clone()
	ret.allowSpilling = enabled
	return ret
}

// WithLogger implements Config.WithLogger
func (c *config) WithLogger(l logrus.FieldLogger) Config {
	if l == nil {
		l = discardLogger()
	}
	ret := c.clone()
	ret.logger = l
	return ret
}

// WithMetricsRegisterer implements Config.WithMetricsRegisterer
func (c *config) WithMetricsRegisterer(r prometheus.Registerer) Config {
	ret := c.clone()
	ret.registerer = r
	return ret
}

// WithCache implements Config.WithCache
func (c *config) WithCache(cache Cache) Config {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// identity returns the part of the configuration which changes the compiled code.
func (c *config) identity() []byte {
	return []byte(fmt.Sprintf("%s simd=%d spill=%t", c.generation, c.simdWidth, c.allowSpilling))
}
