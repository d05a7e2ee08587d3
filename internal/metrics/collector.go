// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法对 nil 接收者安全,
// 未接指标的调用方可直接传 nil。
type Collector struct {
	// 会话指标
	turnsTotal        *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	activeSessions    prometheus.Gauge
	condensationsTotal *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
}

// NewCollector 创建指标收集器并注册到 reg。
// reg 为 nil 时使用全局默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns executed",
		},
		[]string{"session", "outcome"},
	)

	c.decisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_decisions_total",
			Help:      "Total number of turn-selector decisions by kind",
		},
		[]string{"kind"},
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one conversation turn",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"session"},
	)

	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently running",
		},
	)

	c.condensationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_condensations_total",
			Help:      "Total number of history condensations by result",
		},
		[]string{"result"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	return c
}

// RecordTurn 记录一个已完成的回合。
func (c *Collector) RecordTurn(session, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(session, outcome).Inc()
	c.turnDuration.WithLabelValues(session).Observe(d.Seconds())
}

// RecordDecision 记录一次裁决结果。
func (c *Collector) RecordDecision(kind string) {
	if c == nil {
		return
	}
	c.decisionsTotal.WithLabelValues(kind).Inc()
}

// RecordCondensation 记录一次历史压缩。
func (c *Collector) RecordCondensation(result string) {
	if c == nil {
		return
	}
	c.condensationsTotal.WithLabelValues(result).Inc()
}

// SessionStarted / SessionStopped 维护活跃会话数。
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionStopped() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// RecordLLMRequest 记录一次 LLM 调用。
func (c *Collector) RecordLLMRequest(provider, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}
