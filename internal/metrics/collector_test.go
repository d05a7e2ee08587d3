package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("convoloop", reg)

	c.RecordTurn("sess-1", "ok", 120*time.Millisecond)
	c.RecordTurn("sess-1", "ok", 80*time.Millisecond)
	c.RecordTurn("sess-1", "error", 10*time.Millisecond)
	c.RecordDecision("agent")
	c.RecordDecision("terminate")
	c.RecordCondensation("summarized")
	c.RecordLLMRequest("openai", "ok", 300*time.Millisecond)
	c.SessionStarted()
	c.SessionStarted()
	c.SessionStopped()

	assert.InDelta(t, 2, testutil.ToFloat64(c.turnsTotal.WithLabelValues("sess-1", "ok")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.turnsTotal.WithLabelValues("sess-1", "error")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.decisionsTotal.WithLabelValues("agent")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.condensationsTotal.WithLabelValues("summarized")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.activeSessions), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("openai", "ok")), 0.001)
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTurn("s", "ok", time.Second)
		c.RecordDecision("agent")
		c.RecordCondensation("fallback")
		c.SessionStarted()
		c.SessionStopped()
		c.RecordLLMRequest("p", "error", time.Second)
	})
}
