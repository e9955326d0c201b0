package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics("tracksync", reg)
	require.NoError(t, err)

	m.RecordPhase(PhaseConnecting)
	m.RecordPhase(PhaseConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues(string(PhaseConnected))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues(string(PhaseConnecting))))

	m.RecordConnectionLoss(reasonChannelClosed)
	m.RecordConnectionLoss(reasonChannelClosed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionLosses.WithLabelValues(reasonChannelClosed)))

	m.RecordRetryScheduled(1, 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesScheduled))

	m.RecordRetriesExhausted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesExhausted))

	m.RecordPayload(true)
	m.RecordPayload(false)
	m.RecordPayload(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloads.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payloads.WithLabelValues("ignored")))
}

func TestPrometheusMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMetrics("tracksync", reg)
	require.NoError(t, err)

	_, err = NewPrometheusMetrics("tracksync", reg)
	assert.Error(t, err)
}

func TestEngineRecordsRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics("tracksync", reg)
	require.NoError(t, err)

	h := newHarness(t, nil, WithMetrics(m))
	h.open(h.connect("room-1")).EmitClose()
	h.state()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesScheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionLosses.WithLabelValues(reasonChannelClosed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues(string(PhaseError))))
}
