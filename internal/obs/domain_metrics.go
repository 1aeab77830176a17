package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingCalculationsTotal counts calculations by result status.
	PricingCalculationsTotal *prometheus.CounterVec
	// PricingRuleApplicationsTotal counts rules that changed a price, by method.
	PricingRuleApplicationsTotal *prometheus.CounterVec
	// PricingRuleSkipsTotal counts diagnostics raised while walking a rule chain.
	PricingRuleSkipsTotal *prometheus.CounterVec
	// PricingBatchDuration records batch recalculation latency in milliseconds.
	PricingBatchDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers pricing Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingCalculationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Count of sell price calculations by result.",
		}, []string{"result"}))
		PricingRuleApplicationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_applications_total",
			Help:      "Count of pricing rules applied by method.",
		}, []string{"method"}))
		PricingRuleSkipsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_skips_total",
			Help:      "Count of pricing rule diagnostics by reason.",
		}, []string{"reason"}))
		PricingBatchDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_ms",
			Help:      "Latency of batch recalculation runs in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"result"}))
	})
}
