package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MENT2022/studio/internal/ports"
)

// PromObs backs ports.Observability with Prometheus collectors and a slog logger.
// Unknown metric names are ignored.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			"studio_messages_received_total":  counter("studio_messages_received_total", "Broker messages handled while connected."),
			"studio_samples_accepted_total":   counter("studio_samples_accepted_total", "Messages that normalized into a sample."),
			"studio_payloads_rejected_total":  counter("studio_payloads_rejected_total", "Messages whose payload produced no sample."),
			"studio_stale_events_total":       counter("studio_stale_events_total", "Transport events dropped because their session was superseded."),
			"studio_readings_persisted_total": counter("studio_readings_persisted_total", "Readings written to the reading store."),
			"studio_readings_failed_total":    counter("studio_readings_failed_total", "Readings the reading store refused."),
			"studio_readings_dropped_total":   counter("studio_readings_dropped_total", "Readings dropped because the persistence queue was full."),
		},
		gauges: map[string]prometheus.Gauge{
			"studio_window_length":        gauge("studio_window_length", "Samples currently held in the live window."),
			"studio_connection_status":    gauge("studio_connection_status", "Connection status: 0 disconnected, 1 connecting, 2 connected, 3 error."),
			"studio_persist_queue_length": gauge("studio_persist_queue_length", "Readings waiting for the reading store."),
		},
		histos: map[string]prometheus.Observer{
			"studio_persist_latency_seconds": prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "studio_persist_latency_seconds",
				Help:    "Time spent in a single reading store append.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			}),
		},
	}

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h.(prometheus.Collector))
	}
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(nil, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, attrs(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(err, fields), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func attrs(err error, fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+1)
	if err != nil {
		out = append(out, slog.Any("error", err))
	}
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
