package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.BearerIssued("cached")
		m.DecryptFailed()
		m.Acquired("refresh_token", "ok", time.Second)
	})
}

func TestBearerIssued(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BearerIssued("cached")
	m.BearerIssued("cached")
	m.BearerIssued("newanon")

	assert.InDelta(t, 2, testutil.ToFloat64(m.bearerTokens.WithLabelValues("cached")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.bearerTokens.WithLabelValues("newanon")), 0)
}

func TestDecryptFailed(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DecryptFailed()

	assert.InDelta(t, 1, testutil.ToFloat64(m.decryptFailures), 0)
}

func TestAcquired(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Acquired("client_credentials", "ok", 20*time.Millisecond)
	m.Acquired("client_credentials", "exchange_error", 5*time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.acquisitions.WithLabelValues("client_credentials", "ok")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.acquisitionDuration))

	expected := `
# HELP reddit_broker_token_acquisitions_total Calls to the Reddit token endpoint, by grant and result.
# TYPE reddit_broker_token_acquisitions_total counter
reddit_broker_token_acquisitions_total{grant="client_credentials",result="exchange_error"} 1
reddit_broker_token_acquisitions_total{grant="client_credentials",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "reddit_broker_token_acquisitions_total"))
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}
