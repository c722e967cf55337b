package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestSetKnownVersion(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetKnownVersion(42)
	require.Equal(t, float64(42), gaugeValue(t, m.knownVersion))
}

func TestIncSyncRequestsAndObserveProgress(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncSyncRequests("success")
	m.ObserveSyncProgress(250 * time.Millisecond)

	var counter dto.Metric
	require.NoError(t, m.syncRequests.WithLabelValues("success").Write(&counter))
	require.Equal(t, float64(1), counter.GetCounter().GetValue())

	var hist dto.Metric
	require.NoError(t, m.syncDuration.Write(&hist))
	require.EqualValues(t, 1, hist.GetHistogram().GetSampleCount())
}

func TestPeerScoreSetAndRemove(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetPeerScore("p1", 1.5)

	var g dto.Metric
	require.NoError(t, m.peerScores.WithLabelValues("p1").Write(&g))
	require.Equal(t, 1.5, g.GetGauge().GetValue())

	m.RemovePeer("p1")
	require.False(t, m.peerScores.DeleteLabelValues("p1"), "series already removed")
}

func TestSubscriptionsActive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetSubscriptionsActive(3)
	require.Equal(t, float64(3), gaugeValue(t, m.subscriptions))
}
