package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestIntakeMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIntakeMetrics(reg)
	m.ObserveTurn("name_step", "ok", 0.8)
	m.ObserveTurn("name_step", "ok", 1.2)
	m.ObserveTurn("phone_step", "model", 0.1)
	m.ObserveModel(0.7, 120, 35)
	m.ObserveCompleted()
	m.ObserveDelivery("intake.completed.v1", "delivered")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	turns := byName["intake_turns_total"]
	if turns == nil {
		t.Fatalf("expected intake_turns_total, got %v", families)
	}
	var okCount float64
	for _, metric := range turns.GetMetric() {
		if labelValue(metric, "step") == "name_step" && labelValue(metric, "outcome") == "ok" {
			okCount = metric.GetCounter().GetValue()
		}
	}
	if okCount != 2 {
		t.Fatalf("expected 2 ok name_step turns, got %v", okCount)
	}
	if got := byName["intake_completed_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 completion, got %v", got)
	}
	if got := byName["intake_model_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 model sample, got %v", got)
	}
	tokens := map[string]float64{}
	for _, metric := range byName["intake_model_tokens_total"].GetMetric() {
		tokens[labelValue(metric, "direction")] = metric.GetCounter().GetValue()
	}
	if tokens["input"] != 120 || tokens["output"] != 35 {
		t.Fatalf("unexpected token counts: %v", tokens)
	}
	if byName["intake_outbox_deliveries_total"] == nil {
		t.Fatal("expected intake_outbox_deliveries_total")
	}
}

func TestIntakeMetricsDefaultRegistry(t *testing.T) {
	m := NewIntakeMetrics(nil)
	m.ObserveTurn("birth_step", "ok", 0.5)
	prometheus.DefaultRegisterer.Unregister(m.turnsTotal)
	prometheus.DefaultRegisterer.Unregister(m.turnDuration)
	prometheus.DefaultRegisterer.Unregister(m.modelDuration)
	prometheus.DefaultRegisterer.Unregister(m.modelTokens)
	prometheus.DefaultRegisterer.Unregister(m.completedTotal)
	prometheus.DefaultRegisterer.Unregister(m.deliveriesTotal)
}

func TestIntakeMetricsNilSafe(t *testing.T) {
	var m *IntakeMetrics
	m.ObserveTurn("name_step", "ok", 0.1)
	m.ObserveModel(0.1, 0, 0)
	m.ObserveCompleted()
	m.ObserveDelivery("intake.completed.v1", "failed")
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
