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

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.TransactionStarted("client_invite")
	m.TransactionStarted("client_invite")
	m.TransactionStarted("server_non_invite")
	m.TransactionEnded()
	m.Retransmission("client_invite")
	m.TransactionTimeout("client_invite")
	m.DialogCreated("uac")
	m.Event("CallAnswered")
	m.MessageDropped("parse_error")
	m.ObserveCallback(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("client_invite")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retransmissions.WithLabelValues("client_invite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dialogsActive))

	expected := `
# HELP test_stack_messages_dropped_total Total number of inbound messages dropped
# TYPE test_stack_messages_dropped_total counter
test_stack_messages_dropped_total{reason="parse_error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_stack_messages_dropped_total"))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry(), "")
		New(prometheus.NewRegistry(), "")
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransactionStarted("x")
		m.TransactionEnded()
		m.Retransmission("x")
		m.TransactionTimeout("x")
		m.DialogCreated("uas")
		m.DialogEnded()
		m.Event("x")
		m.MessageDropped("x")
		m.ObserveCallback(time.Second)
	})
}
