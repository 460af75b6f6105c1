package cfq

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestCollectorExportsLedger(t *testing.T) {
	metrics := NewMetrics()
	s, _, _ := newTestScheduler(t, &Options{Metrics: metrics})

	queueRequest(t, s, 1, ClassNormal, 100, 8, DirRead)
	queueRequest(t, s, 2, ClassNormal, 500, 16, DirRead)
	metrics.RecordCompletion(DirRead, ClassNormal, 4096, 1_000_000, true)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(s, metrics, "sim0")))

	families, err := reg.Gather()
	require.NoError(t, err)

	m := findMetric(t, families, "cfq_busy_queues", map[string]string{"class": "19", "device": "sim0"})
	assert.Equal(t, 2.0, m.GetGauge().GetValue())
	m = findMetric(t, families, "cfq_busy_sectors", map[string]string{"class": "19"})
	assert.Equal(t, 24.0, m.GetGauge().GetValue())
	m = findMetric(t, families, "cfq_class_requests_total", map[string]string{"class": "19", "direction": "in"})
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
	m = findMetric(t, families, "cfq_io_operations_total", map[string]string{"op": "read"})
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
	m = findMetric(t, families, "cfq_completions_total", map[string]string{"class": "19"})
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
	m = findMetric(t, families, "cfq_completion_seconds_total", map[string]string{"class": "19"})
	assert.InDelta(t, 0.001, m.GetCounter().GetValue(), 1e-9)

	require.NotNil(t, s.NextRequest())
	families, err = reg.Gather()
	require.NoError(t, err)
	m = findMetric(t, families, "cfq_dispatch_list_length", nil)
	assert.Equal(t, 2.0, m.GetGauge().GetValue())
	m = findMetric(t, families, "cfq_dispatched_requests_total", map[string]string{"class": "19"})
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestCollectorWithoutMetrics(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(s, nil, "sim1")))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		assert.NotEqual(t, "cfq_merges_total", mf.GetName())
	}
	findMetric(t, families, "cfq_busy_requests", map[string]string{"class": "0"})
}
