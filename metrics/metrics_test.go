package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPoolMetricsRegisterOnce(t *testing.T) {
	a := NewDefaultPoolMetrics("metrics_test")
	b := NewDefaultPoolMetrics("metrics_test")

	a.Commits(StatusSuccess).Inc()
	b.Commits(StatusSuccess).Inc()

	// Both instances share the registered collectors.
	require.Equal(t, 2.0, testutil.ToFloat64(a.Commits(StatusSuccess)))
	require.Equal(t, 0.0, testutil.ToFloat64(a.Commits(StatusFailure)))
}

func TestJudgmentLabels(t *testing.T) {
	m := NewDefaultPoolMetrics("metrics_labels_test")
	m.Judgments(true).Inc()
	m.Judgments(false).Add(2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Judgments(true)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Judgments(false)))
}

func TestRegisterOnce(t *testing.T) {
	opts := prometheus.CounterOpts{Name: "metrics_register_once_test", Help: "Test counter."}
	first := registerOnce(prometheus.NewCounter(opts))
	second := registerOnce(prometheus.NewCounter(opts))
	second.Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(first), "the first registered collector is reused")

	// Same name, different labels: not an identical collector.
	require.Panics(t, func() {
		registerOnce(prometheus.NewCounterVec(opts, []string{"status"}))
	})
}
