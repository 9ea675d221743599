package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// Metrics collects processor metrics.
//
// Tracked series:
//   - Stream events consumed, by event type
//   - Retries scheduled and doom-loop blocks
//   - Token consumption by bucket and cost, per provider/model
//   - Process call duration and concurrently open parts
type Metrics struct {
	EventsTotal *prometheus.CounterVec

	RetriesTotal    prometheus.Counter
	DoomLoopsTotal  prometheus.Counter
	MessagesStopped *prometheus.CounterVec

	TokensTotal *prometheus.CounterVec
	CostTotal   *prometheus.CounterVec

	ProcessDuration prometheus.Histogram
	OpenParts       prometheus.Gauge
}

// NewMetrics creates the metric set and registers it with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_events_total",
			Help: "Stream events consumed, by event type.",
		}, []string{"event"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_retries_total",
			Help: "Retries scheduled after transient provider failures.",
		}),
		DoomLoopsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_doom_loop_blocks_total",
			Help: "Tool calls blocked by the doom-loop guard.",
		}),
		MessagesStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_messages_total",
			Help: "Finalized messages, by verdict.",
		}, []string{"verdict"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_tokens_total",
			Help: "Tokens consumed, by bucket.",
		}, []string{"provider", "model", "bucket"}),
		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_cost_usd_total",
			Help: "Estimated cost in USD.",
		}, []string{"provider", "model"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "processor_process_duration_seconds",
			Help:    "Duration of one Process call.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		OpenParts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "processor_open_parts",
			Help: "Parts currently open across the processor's in-flight maps.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsTotal, m.RetriesTotal, m.DoomLoopsTotal, m.MessagesStopped,
			m.TokensTotal, m.CostTotal, m.ProcessDuration, m.OpenParts,
		)
	}
	return m
}

// ObserveStep records one step's normalized usage and cost.
func (m *Metrics) ObserveStep(provider, model string, tokens models.TokenUsage, cost float64) {
	if m == nil {
		return
	}
	buckets := map[string]int64{
		"input":       tokens.Input,
		"output":      tokens.Output,
		"reasoning":   tokens.Reasoning,
		"cache_read":  tokens.Cache.Read,
		"cache_write": tokens.Cache.Write,
	}
	for bucket, n := range buckets {
		if n > 0 {
			m.TokensTotal.WithLabelValues(provider, model, bucket).Add(float64(n))
		}
	}
	if cost > 0 {
		m.CostTotal.WithLabelValues(provider, model).Add(cost)
	}
}

// ObserveEvent counts one consumed stream event.
func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}
