package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for intake turns.
type IntakeMetrics struct {
	turnsTotal      *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	modelDuration   prometheus.Histogram
	modelTokens     *prometheus.CounterVec
	completedTotal  prometheus.Counter
	deliveriesTotal *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "turns_total",
			Help:      "Total chat turns by step and outcome",
		}, []string{"step", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "turn_duration_seconds",
			Help:      "Latency of a chat turn including the model call and the write",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		modelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "model_duration_seconds",
			Help:      "Latency of the text-generation call",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "model_tokens_total",
			Help:      "Tokens billed by the text-generation call, by direction",
		}, []string{"direction"}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "completed_total",
			Help:      "Sessions that reached the completed step",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox deliveries by event type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnDuration, m.modelDuration, m.modelTokens, m.completedTotal, m.deliveriesTotal)
	return m
}

func (m *IntakeMetrics) ObserveTurn(step, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(step, outcome).Inc()
	m.turnDuration.WithLabelValues(step).Observe(seconds)
}

// ObserveModel records one model call's latency and token usage.
func (m *IntakeMetrics) ObserveModel(seconds float64, inputTokens, outputTokens int32) {
	if m == nil {
		return
	}
	m.modelDuration.Observe(seconds)
	if inputTokens > 0 {
		m.modelTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.modelTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

func (m *IntakeMetrics) ObserveCompleted() {
	if m == nil {
		return
	}
	m.completedTotal.Inc()
}

// ObserveDelivery counts one outbox hand-off; status is "delivered" or "failed".
func (m *IntakeMetrics) ObserveDelivery(eventType, status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(eventType, status).Inc()
}
