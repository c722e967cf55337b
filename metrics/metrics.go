// Package metrics is the Prometheus-backed implementation of
// coordinator.Metrics: the coordinator package only depends on a small
// interface so it never imports Prometheus directly.
//
// Grounded on the teacher's own go.mod dependency on
// github.com/prometheus/client_golang (shared with the rest of the
// retrieved pack): collectors held in a Metrics value and registered
// against a caller-supplied *prometheus.Registry.
package metrics

import (
	"time"

	"github.com/anacrolix/sync"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus-backed coordinator.Metrics implementation.
type Metrics struct {
	knownVersion     prometheus.Gauge
	syncRequests     *prometheus.CounterVec
	chunkRequestsOut prometheus.Counter
	chunkResponses   *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	subscriptions    prometheus.Gauge

	mu         sync.Mutex
	peerScores *prometheus.GaugeVec
}

// New builds and registers a Metrics against reg. reg must not be nil;
// pass prometheus.NewRegistry() for an isolated registry in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		knownVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "known_version",
			Help:      "Latest ledger version known to this node.",
		}),
		syncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "sync_requests_total",
			Help:      "Completed sync requests by outcome.",
		}, []string{"result"}),
		chunkRequestsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "chunk_requests_sent_total",
			Help:      "Chunk requests sent to peers.",
		}),
		chunkResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statesync",
			Name:      "chunk_responses_total",
			Help:      "Chunk responses received by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statesync",
			Name:      "sync_progress_duration_seconds",
			Help:      "Time since the active SyncRequest started, observed at each Commit that advances known_version while the next version is outstanding.",
			Buckets:   prometheus.DefBuckets,
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "subscriptions_active",
			Help:      "Long-poll chunk-request subscriptions currently pending.",
		}),
		peerScores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statesync",
			Name:      "peer_score",
			Help:      "Current selection score of each upstream peer.",
		}, []string{"peer"}),
	}
	reg.MustRegister(
		m.knownVersion,
		m.syncRequests,
		m.chunkRequestsOut,
		m.chunkResponses,
		m.syncDuration,
		m.subscriptions,
		m.peerScores,
	)
	return m
}

func (m *Metrics) SetKnownVersion(v uint64) {
	m.knownVersion.Set(float64(v))
}

func (m *Metrics) IncSyncRequests(result string) {
	m.syncRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSyncProgress(d time.Duration) {
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) IncChunkRequestsSent() {
	m.chunkRequestsOut.Inc()
}

func (m *Metrics) IncChunkResponses(outcome string) {
	m.chunkResponses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSubscriptionsActive(n int) {
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) SetPeerScore(peer string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerScores.WithLabelValues(peer).Set(score)
}

// RemovePeer drops a disabled peer's score series so stale peers don't
// linger in scrape output forever.
func (m *Metrics) RemovePeer(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerScores.DeleteLabelValues(peer)
}
