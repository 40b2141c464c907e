// Package observability assembles the telemetry ports from the zap, Prometheus
// and OpenTelemetry adapters.
package observability

import (
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/observability/prometrics"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
)

// Instrument describes one metric the service exports.
type Instrument struct {
	Key       observability.MetricKey
	Help      string
	Labels    []string
	Histogram bool
	Buckets   []float64
}

// Instruments is every metric the use cases, HTTP layer and workers resolve.
var Instruments = []Instrument{
	{Key: observability.MUsecaseRequests, Help: "Use case executions.", Labels: []string{"use_case", "outcome"}},
	{Key: observability.MUsecaseDuration, Help: "Use case latency in seconds.", Labels: []string{"use_case"}, Histogram: true},
	{Key: observability.MHTTPRequests, Help: "HTTP requests served.", Labels: []string{"method", "route", "status"}},
	{Key: observability.MHTTPRequestDuration, Help: "HTTP request latency in seconds.",
		Labels: []string{"method", "route", "status"}, Histogram: true},
	{Key: observability.MExternalRequests, Help: "Calls to payment gateways and the outbox.",
		Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: observability.MExternalRequestDuration, Help: "External call latency in seconds.",
		Labels: []string{"peer", "endpoint"}, Histogram: true,
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}},
	{Key: observability.MNotificationsDelivered, Help: "Notifications handed to the sinks.", Labels: []string{"kind", "outcome"}},
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopHistogram()
}

// NewMetrics registers every instrument in reg.
func NewMetrics(reg *prometrics.Registry, instruments []Instrument) (observability.Metrics, error) {
	m := &registeredMetrics{
		counters:   make(map[observability.MetricKey]observability.Counter),
		histograms: make(map[observability.MetricKey]observability.Histogram),
	}
	for _, in := range instruments {
		if in.Histogram {
			h, err := reg.Histogram(string(in.Key), in.Help, in.Buckets, in.Labels...)
			if err != nil {
				return nil, err
			}
			m.histograms[in.Key] = h
			continue
		}
		c, err := reg.Counter(string(in.Key), in.Help, in.Labels...)
		if err != nil {
			return nil, err
		}
		m.counters[in.Key] = c
	}
	return m, nil
}

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

// New bundles the signals. Nil parts fall back to no-ops.
func New(tracer observability.Tracer, logger observability.Logger, metrics observability.Metrics) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &provider{tracer: tracer, logger: logger, metrics: metrics}
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
