package gbe

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gbe-go/gbe/internal/engine/gen/encoder"
)

const (
	metricsNamespace = "gbe"
	metricsSubsystem = "compiler"
)

// Values of the "result" label of the kernels counter.
const (
	resultCompiled = "compiled"
	resultFailed   = "failed"
	resultCached   = "cached"
)

// metrics are the collectors updated by a compiler. They are goroutine-safe.
type metrics struct {
	kernels *prometheus.CounterVec
	retries prometheus.Counter
	spilled prometheus.Counter
	words   prometheus.Histogram
}

func newMetrics(r prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		kernels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "kernels_total",
			Help:      "Kernels processed, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "register_pressure_retries_total",
			Help:      "Kernels selected again with limited register pressure.",
		}),
		spilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "spilled_registers_total",
			Help:      "Virtual registers spilled to scratch memory.",
		}),
		words: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "kernel_words",
			Help:      "Instruction words emitted per kernel.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
	}
	if r == nil {
		return m, nil
	}

	var err error
	m.kernels = register(r, m.kernels, &err)
	m.retries = register(r, m.retries, &err)
	m.spilled = register(r, m.spilled, &err)
	m.words = register(r, m.words, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c on r, returning the collector registered previously under the same
// description if any. The first error is kept in err.
func register[C prometheus.Collector](r prometheus.Registerer, c C, err *error) C {
	if *err != nil {
		return c
	}
	e := r.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(e, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	if e != nil {
		*err = errors.Wrap(e, "register metrics")
	}
	return c
}

// compiled records a kernel compiled successfully.
func (m *metrics) compiled(k *Kernel, retried bool, spilled int) {
	m.kernels.WithLabelValues(resultCompiled).Inc()
	if retried {
		m.retries.Inc()
	}
	m.spilled.Add(float64(spilled))
	m.words.Observe(float64(len(k.Code) / encoder.WordSize))
}

func (m *metrics) failed() {
	m.kernels.WithLabelValues(resultFailed).Inc()
}

func (m *metrics) cached(n int) {
	m.kernels.WithLabelValues(resultCached).Add(float64(n))
}
