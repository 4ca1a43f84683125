// Package metrics exposes Prometheus instruments for the token lifecycle.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reddit_broker"

// Metrics groups the broker's instruments.
type Metrics struct {
	bearerTokens        *prometheus.CounterVec
	decryptFailures     prometheus.Counter
	acquisitions        *prometheus.CounterVec
	acquisitionDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bearerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bearer_tokens_total",
			Help:      "Bearer tokens handed to clients, by how they were produced.",
		}, []string{"type"}),
		decryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_decrypt_failures_total",
			Help:      "Session cookies that could not be decrypted.",
		}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_acquisitions_total",
			Help:      "Calls to the Reddit token endpoint, by grant and result.",
		}, []string{"grant", "result"}),
		acquisitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_acquisition_duration_seconds",
			Help:      "Latency of calls to the Reddit token endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant"}),
	}

	reg.MustRegister(m.bearerTokens, m.decryptFailures, m.acquisitions, m.acquisitionDuration)

	return m
}

// BearerIssued counts a bearer token of the given type.
func (m *Metrics) BearerIssued(kind string) {
	if m == nil {
		return
	}

	m.bearerTokens.WithLabelValues(kind).Inc()
}

// DecryptFailed counts a session that failed to decrypt.
func (m *Metrics) DecryptFailed() {
	if m == nil {
		return
	}

	m.decryptFailures.Inc()
}

// Acquired records one token endpoint call. result is "ok" or an error class.
func (m *Metrics) Acquired(grant, result string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.acquisitions.WithLabelValues(grant, result).Inc()
	m.acquisitionDuration.WithLabelValues(grant).Observe(elapsed.Seconds())
}
