// Package pmetrics tracks engine metrics (the engine records the last
// block-processing duration and a processed-blocks count) in
// a small internal registry adapted from the teacher's metrics/registry.go
// get-or-create Counter/Gauge shape, then exposes them to Prometheus via
// github.com/prometheus/client_golang rather than the teacher's hand-rolled
// text formatter — client_golang is already present in the example pack's
// dependency closure and is the more idiomatic ecosystem choice than
// reimplementing exposition formatting by hand.
package pmetrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing metric, safe for concurrent use.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

func (c *Counter) Add(n uint64) { c.value.Add(n) }
func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a metric that can move up or down, safe for concurrent use.
type Gauge struct {
	name  string
	help  string
	bits  atomic.Uint64 // math.Float64bits
}

func (g *Gauge) Set(v float64) { g.bits.Store(floatBits(v)) }
func (g *Gauge) Value() float64 { return floatFromBits(g.bits.Load()) }

// Registry holds every metric registered by the engine, keyed by name with
// get-or-create semantics so callers never need a nil check.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the Counter registered under name, creating it (with the
// given help text) on first access.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns the Gauge registered under name, creating it (with the
// given help text) on first access.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g = &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Collector adapts a Registry into a prometheus.Collector so it can be
// registered with a prometheus.Registry and served over promhttp.
type Collector struct {
	namespace string
	reg       *Registry
}

// NewCollector wraps reg for Prometheus export under the given namespace
// (e.g. "poscd" produces "poscd_block_processing_ms").
func NewCollector(namespace string, reg *Registry) *Collector {
	return &Collector{namespace: namespace, reg: reg}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamically registered metrics: no fixed descriptor set. Prometheus
	// permits unchecked collectors for this (NewServer registers it that
	// way).
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	for _, ctr := range c.reg.counters {
		desc := prometheus.NewDesc(c.namespace+"_"+ctr.name, ctr.help, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(ctr.Value()))
	}
	for _, g := range c.reg.gauges {
		desc := prometheus.NewDesc(c.namespace+"_"+g.name, g.help, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, g.Value())
	}
}
