// Package prometrics backs the metric ports with Prometheus vectors.
package prometrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry creates vectors once per name and hands out port adapters over them.
type Registry struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
}

// New registers into reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer, namespace string) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Registry{
		reg:        reg,
		namespace:  namespace,
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
	}
}

// Counter returns the counter vector for name, creating it on first use. A vector
// already registered elsewhere under the same name is reused.
func (r *Registry) Counter(name, help string, labelKeys ...string) (observability.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c, nil
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: r.namespace, Name: name, Help: help}, labelKeys)
	if err := r.reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("prometrics: register %s: %w", name, err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("prometrics: %s is registered as another collector type", name)
		}
		cv = existing
	}
	c := &counter{v: cv, keys: labelKeys}
	r.counters[name] = c
	return c, nil
}

// Histogram is Counter for histograms. Nil buckets mean prometheus.DefBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labelKeys ...string) (observability.Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h, nil
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	if err := r.reg.Register(hv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("prometrics: register %s: %w", name, err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("prometrics: %s is registered as another collector type", name)
		}
		hv = existing
	}
	h := &histogram{v: hv, keys: labelKeys}
	r.histograms[name] = h
	return h, nil
}

// labelsFor keeps exactly the declared keys. Missing ones become "" and extra ones
// are dropped, so a caller mistake costs a label instead of a panic in With.
func labelsFor(keys []string, ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		m[k] = ""
	}
	for _, l := range ls {
		if _, ok := m[l.Key]; ok {
			m[l.Key] = l.Value
		}
	}
	return m
}

type counter struct {
	v    *prometheus.CounterVec
	keys []string
}

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelsFor(c.keys, labels)).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return boundCounter{c: c.v.With(labelsFor(c.keys, labels))}
}

type boundCounter struct{ c prometheus.Counter }

func (b boundCounter) Add(d float64) { b.c.Add(d) }

type histogram struct {
	v    *prometheus.HistogramVec
	keys []string
}

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelsFor(h.keys, labels)).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return boundHistogram{o: h.v.With(labelsFor(h.keys, labels))}
}

type boundHistogram struct{ o prometheus.Observer }

func (b boundHistogram) Observe(v float64) { b.o.Observe(v) }
