package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/obs"
)

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("pricing", registry)
	obs.MustRegisterDomainMetrics("pricing", registry)

	require.NotNil(t, obs.PricingCalculationsTotal)
	obs.PricingCalculationsTotal.WithLabelValues("priced").Inc()
	obs.PricingRuleSkipsTotal.WithLabelValues("no_history").Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("priced")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["pricing_calculations_total"])
	require.True(t, names["pricing_rule_skips_total"])
}
