package service

import "github.com/prometheus/client_golang/prometheus"

// ClaimMetrics counts claim attempts by outcome.
type ClaimMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewClaimMetrics(reg prometheus.Registerer) *ClaimMetrics {
	m := &ClaimMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grave",
			Subsystem: "heritage",
			Name:      "claim_attempts_total",
			Help:      "Heritage claim attempts partitioned by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes)
	}
	return m
}

func (m *ClaimMetrics) observe(outcome ClaimOutcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome.String()).Inc()
}
