package obs

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// PricingMetrics records pricing pass statistics. It satisfies pricing.Recorder.
type PricingMetrics struct {
	Proposals    *prometheus.CounterVec
	Applications *prometheus.CounterVec
	Units        *prometheus.CounterVec
	Discount     *prometheus.CounterVec
	PassDuration prometheus.Histogram
}

var _ pricing.Recorder = (*PricingMetrics)(nil)

// NewPricingMetrics registers and returns the pricing collectors.
func NewPricingMetrics(namespace string, reg prometheus.Registerer) *PricingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PricingMetrics{
		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rule_proposals_total",
			Help:      "Rule proposals by rule type and outcome.",
		}, []string{"rule_type", "result"}),
		Applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rule_applications_total",
			Help:      "Committed rule applications by rule type.",
		}, []string{"rule_type"}),
		Units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_discounted_units_total",
			Help:      "Units discounted by committed rules.",
		}, []string{"rule_type"}),
		Discount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_discount_amount_total",
			Help:      "Discount amount granted by committed rules.",
		}, []string{"rule_type"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_pass_duration_ms",
			Help:      "Pricing pass latency in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
	}
	mustRegisterCollector(reg, m.Proposals, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Proposals = v
		}
	})
	mustRegisterCollector(reg, m.Applications, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Applications = v
		}
	})
	mustRegisterCollector(reg, m.Units, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Units = v
		}
	})
	mustRegisterCollector(reg, m.Discount, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Discount = v
		}
	})
	mustRegisterCollector(reg, m.PassDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(prometheus.Histogram); ok {
			m.PassDuration = v
		}
	})
	return m
}

// Proposed counts a rule proposal.
func (m *PricingMetrics) Proposed(ruleType string, accepted bool) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.Proposals.WithLabelValues(ruleType, result).Inc()
}

// Applied counts a committed rule and what it granted.
func (m *PricingMetrics) Applied(ruleType string, outcome pricing.Outcome) {
	m.Applications.WithLabelValues(ruleType).Inc()
	m.Units.WithLabelValues(ruleType).Add(float64(outcome.Units))
	m.Discount.WithLabelValues(ruleType).Add(outcome.Discount.InexactFloat64())
}

// Pass observes the duration of a finished pass.
func (m *PricingMetrics) Pass(d time.Duration, _ int) {
	m.PassDuration.Observe(DurationMillis(d))
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register pricing metric: %w", err))
	}
}
