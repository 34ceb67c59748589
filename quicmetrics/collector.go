// Package quicmetrics exposes quicsession.Session's Statistics block
// (spec.md §6) as a prometheus.Collector, modeled on the teacher's
// metrics.go (promauto counters under a package-scoped namespace), but
// implemented as a direct prometheus.Collector rather than promauto
// globals: sessions come and go with connections, so the set of label
// values is dynamic instead of fixed at package init.
package quicmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caddyserver/quictransport/quicsession"
)

const namespace = "quic_session"

var (
	bytesSentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "bytes_sent_total"),
		"Bytes sent on this session.",
		[]string{"session_id", "role"}, nil,
	)
	bytesReceivedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "bytes_received_total"),
		"Bytes received on this session.",
		[]string{"session_id", "role"}, nil,
	)
	keyUpdateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "key_updates_total"),
		"Number of 1-RTT key updates performed on this session.",
		[]string{"session_id", "role"}, nil,
	)
	streamsOpenedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "streams_opened_total"),
		"Number of streams opened on this session, by direction.",
		[]string{"session_id", "role", "direction"}, nil,
	)
	activeCIDsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "active_connection_ids"),
		"Number of connection IDs currently active for this session.",
		[]string{"session_id", "role"}, nil,
	)
	handshakeCompleteDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "handshake_completed"),
		"1 once this session's TLS handshake has completed, else 0.",
		[]string{"session_id", "role"}, nil,
	)
)

// Collector exports every currently-registered Session's Statistics
// block as Prometheus metrics. The zero value is ready to use; a host
// embedder registers it once with a prometheus.Registry and calls
// Register/Unregister as sessions are created and destroyed.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]*quicsession.Session
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{sessions: make(map[string]*quicsession.Session)}
}

// Register adds s to the set of sessions this Collector reports on. A
// session already registered under its DiagnosticID is replaced.
func (c *Collector) Register(s *quicsession.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions == nil {
		c.sessions = make(map[string]*quicsession.Session)
	}
	c.sessions[s.DiagnosticID()] = s
}

// Unregister removes the session with the given diagnostic id, called
// once a Session has been destroyed.
func (c *Collector) Unregister(diagnosticID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, diagnosticID)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bytesSentDesc
	ch <- bytesReceivedDesc
	ch <- keyUpdateDesc
	ch <- streamsOpenedDesc
	ch <- activeCIDsDesc
	ch <- handshakeCompleteDesc
}

// Collect implements prometheus.Collector, snapshotting every
// registered session's Statistics under the collector's lock so the
// set of sessions reported doesn't shift mid-scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sessions := make([]*quicsession.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		id := s.DiagnosticID()
		role := s.Role().String()
		snap := s.Stats()

		ch <- prometheus.MustNewConstMetric(bytesSentDesc, prometheus.CounterValue, float64(snap.BytesSent), id, role)
		ch <- prometheus.MustNewConstMetric(bytesReceivedDesc, prometheus.CounterValue, float64(snap.BytesReceived), id, role)
		ch <- prometheus.MustNewConstMetric(keyUpdateDesc, prometheus.CounterValue, float64(snap.KeyUpdateCount), id, role)
		ch <- prometheus.MustNewConstMetric(streamsOpenedDesc, prometheus.CounterValue, float64(snap.BidiStreamCount), id, role, "bidi")
		ch <- prometheus.MustNewConstMetric(streamsOpenedDesc, prometheus.CounterValue, float64(snap.UniStreamCount), id, role, "uni")
		ch <- prometheus.MustNewConstMetric(activeCIDsDesc, prometheus.GaugeValue, float64(s.ActiveCIDCount()), id, role)

		completed := 0.0
		if snap.HandshakeCompletedAt != 0 {
			completed = 1.0
		}
		ch <- prometheus.MustNewConstMetric(handshakeCompleteDesc, prometheus.GaugeValue, completed, id, role)
	}
}
