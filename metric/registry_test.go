package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: "test counter",
	})
}

func TestRegisterCounter(t *testing.T) {
	r := NewRegistry()

	c := testCounter("frames_total")
	require.NoError(t, r.RegisterCounter("buffer", "frames_total", c))
	c.Add(3)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "frames_total", families[0].GetName())
	assert.Equal(t, float64(3), families[0].GetMetric()[0].GetCounter().GetValue())
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("buffer", "frames_total", testCounter("frames_total")))
	err := r.RegisterCounter("buffer", "frames_total", testCounter("frames_total_2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestSameMetricNameDifferentComponents(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("buffer", "ops_total", testCounter("buffer_ops_total")))
	require.NoError(t, r.RegisterCounter("adapter", "ops_total", testCounter("adapter_ops_total")))
}

func TestRegisterRejectsPrometheusDuplicate(t *testing.T) {
	r := NewRegistry()

	// same fully-qualified prometheus name under two registry keys
	require.NoError(t, r.RegisterCounter("a", "m1", testCounter("collision_total")))
	err := r.RegisterCounter("b", "m2", testCounter("collision_total"))
	require.Error(t, err)
}

func TestRegisterGaugeAndVecs(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth", Help: "test"})
	require.NoError(t, r.RegisterGauge("buffer", "depth", gauge))

	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_total", Help: "test"},
		[]string{"kind"})
	require.NoError(t, r.RegisterCounterVec("adapter", "events_total", cv))

	gv := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "state", Help: "test"},
		[]string{"connection"})
	require.NoError(t, r.RegisterGaugeVec("adapter", "state", gv))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("buffer", "frames_total", testCounter("frames_total")))
	assert.True(t, r.Unregister("buffer", "frames_total"))
	assert.False(t, r.Unregister("buffer", "frames_total"))

	// slot is free again after unregistering
	require.NoError(t, r.RegisterCounter("buffer", "frames_total", testCounter("frames_total")))
}
