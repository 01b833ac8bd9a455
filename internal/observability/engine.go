package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts settlement engine business events.
type EngineMetrics struct {
	settlementsCreated prometheus.Counter
	paymentsDecided    *prometheus.CounterVec
}

// NewEngineMetrics registers the engine counters on the given registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetpact_settlements_created_total",
		Help: "Number of settlements materialized.",
	})
	decided := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetpact_payments_decided_total",
		Help: "Number of payment decisions by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(created, decided)
	return &EngineMetrics{settlementsCreated: created, paymentsDecided: decided}
}

// SettlementCreated increments the materialization counter.
func (m *EngineMetrics) SettlementCreated() {
	if m != nil {
		m.settlementsCreated.Inc()
	}
}

// PaymentDecided increments the decision counter for an outcome
// (approved, rejected or cancelled).
func (m *EngineMetrics) PaymentDecided(outcome string) {
	if m != nil {
		m.paymentsDecided.WithLabelValues(outcome).Inc()
	}
}
