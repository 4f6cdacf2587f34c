package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Sink = (*Prometheus)(nil)

// Prometheus exposes emissions as Prometheus gauges and counters. Collectors
// are created on first use, so metric names don't have to be declared up
// front. Dots in names become underscores.
type Prometheus struct {
	namespace string
	reg       prometheus.Registerer
	logger    *zap.Logger

	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewPrometheus creates a sink registering on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Prometheus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prometheus{
		namespace: namespace,
		reg:       reg,
		logger:    logger,
		gauges:    make(map[string]prometheus.Gauge),
		counters:  make(map[string]prometheus.Counter),
	}
}

func (p *Prometheus) Gauge(name string, value float64) {
	if g := p.gauge(name); g != nil {
		g.Set(value)
	}
}

func (p *Prometheus) Count(name string, delta float64) {
	if delta < 0 {
		return
	}
	if c := p.counter(name); c != nil {
		c.Add(delta)
	}
}

func (p *Prometheus) gauge(name string) prometheus.Gauge {
	p.mu.RLock()
	g, ok := p.gauges[name]
	p.mu.RUnlock()
	if ok {
		return g
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[name]; ok {
		return g
	}

	g = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      sanitize(name),
		Help:      "Gauge " + name + ".",
	})
	if err := p.reg.Register(g); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			p.logger.Warn("failed to register gauge", zap.String("name", name), zap.Error(err))
			return nil
		}
		g = are.ExistingCollector.(prometheus.Gauge)
	}
	p.gauges[name] = g
	return g
}

func (p *Prometheus) counter(name string) prometheus.Counter {
	p.mu.RLock()
	c, ok := p.counters[name]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}

	c = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      sanitize(name) + "_total",
		Help:      "Counter " + name + ".",
	})
	if err := p.reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			p.logger.Warn("failed to register counter", zap.String("name", name), zap.Error(err))
			return nil
		}
		c = are.ExistingCollector.(prometheus.Counter)
	}
	p.counters[name] = c
	return c
}

var nameReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

func sanitize(name string) string {
	return nameReplacer.Replace(name)
}
