// Package telemetry provides fire-and-forget metric sinks. Emitting a metric
// never blocks and never fails the operation that emits it.
package telemetry

import "sync"

// Sink accepts named metric emissions.
type Sink interface {
	// Gauge records the current value of name.
	Gauge(name string, value float64)

	// Count adds delta to the counter name.
	Count(name string, delta float64)
}

// Compile-time interface guards.
var (
	_ Sink = Nop{}
	_ Sink = Multi(nil)
	_ Sink = (*Capture)(nil)
)

// Nop discards everything.
type Nop struct{}

func (Nop) Gauge(string, float64) {}
func (Nop) Count(string, float64) {}

// Multi fans emissions out to every sink.
type Multi []Sink

func (m Multi) Gauge(name string, value float64) {
	for _, s := range m {
		s.Gauge(name, value)
	}
}

func (m Multi) Count(name string, delta float64) {
	for _, s := range m {
		s.Count(name, delta)
	}
}

// Emission is one recorded call on a Capture sink.
type Emission struct {
	Kind  string // "gauge" or "count"
	Name  string
	Value float64
}

// Capture records emissions in memory so tests can assert on them.
type Capture struct {
	mu        sync.Mutex
	emissions []Emission
}

// NewCapture returns an empty capture sink.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Gauge(name string, value float64) {
	c.record(Emission{Kind: "gauge", Name: name, Value: value})
}

func (c *Capture) Count(name string, delta float64) {
	c.record(Emission{Kind: "count", Name: name, Value: delta})
}

func (c *Capture) record(e Emission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emissions = append(c.emissions, e)
}

// Emissions returns a copy of everything recorded so far.
func (c *Capture) Emissions() []Emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Emission, len(c.emissions))
	copy(out, c.emissions)
	return out
}

// Gauges returns the last value recorded for each gauge name.
func (c *Capture) Gauges() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64)
	for _, e := range c.emissions {
		if e.Kind == "gauge" {
			out[e.Name] = e.Value
		}
	}
	return out
}
