package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceMetricsTrackOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMaintenanceMetrics(reg)
	end := time.Unix(1_780_000_000, 0)

	m.ObserveRun("invitation-expiry", 200*time.Millisecond, end, nil)
	m.ObserveRun("invitation-expiry", time.Second, end.Add(time.Hour), errors.New("db down"))
	m.ObserveRun("", time.Millisecond, end, nil)
	m.CycleSkipped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("invitation-expiry", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("invitation-expiry", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", OutcomeSuccess)))
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("invitation-expiry")),
		"a failure must not move the last success")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotNil(t, findMetricFamily(mfs, "accountable_maintenance_job_duration_seconds"))
}

func TestMaintenanceMetricsNilSafe(t *testing.T) {
	m := NewMaintenanceMetrics(nil)
	assert.Nil(t, m)
	m.ObserveRun("x", time.Second, time.Now(), nil)
	m.CycleSkipped()
}
