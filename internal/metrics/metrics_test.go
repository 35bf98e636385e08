package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestIncStartIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	IncStart("web")
	IncStart("web")

	count := testutil.ToFloat64(starts.WithLabelValues("web"))
	require.Equal(t, float64(2), count)
}

func TestIncRestartAndIncStopIncrementTheirOwnCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	IncRestart("web")
	IncStop("web")
	IncStop("web")

	require.Equal(t, float64(1), testutil.ToFloat64(restarts.WithLabelValues("web")))
	require.Equal(t, float64(2), testutil.ToFloat64(stops.WithLabelValues("web")))
}

func TestSetRunningReflectsState(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	SetRunning("web", true)
	require.Equal(t, float64(1), testutil.ToFloat64(running.WithLabelValues("web")))

	SetRunning("web", false)
	require.Equal(t, float64(0), testutil.ToFloat64(running.WithLabelValues("web")))
}

func TestRecordStateTransitionLabelsFromAndTo(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	RecordStateTransition("web", "running", "cooling_down")
	count := testutil.ToFloat64(stateTransitions.WithLabelValues("web", "running", "cooling_down"))
	require.Equal(t, float64(1), count)
}
