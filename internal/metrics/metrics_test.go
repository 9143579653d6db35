package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WorkersConnected.Set(3)
	m.LifecycleState.Set(1)
	m.SetCounts(10, 4, 2, 3, 1, 0)
	// A histogram vector contributes a family to Gather only once one of
	// its labelled children exists.
	m.FilterApply.WithLabelValues("f", "sequential").Observe(0.01)
	m.FilterCallback.WithLabelValues("f", "sequential").Observe(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["coordinator_workers_connected"])
	assert.True(t, names["coordinator_resources_total"])
	assert.True(t, names["coordinator_lifecycle_state"])
	assert.True(t, names["coordinator_filter_apply_seconds"])
	assert.True(t, names["coordinator_filter_callback_seconds"])
}

func TestSetCountsLabelsEachStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetCounts(10, 4, 2, 3, 1, 0)

	var metric dto.Metric
	require.NoError(t, m.ResourcesTotal.WithLabelValues("SUCCEEDED").Write(&metric))
	assert.Equal(t, float64(4), metric.GetGauge().GetValue())
}
