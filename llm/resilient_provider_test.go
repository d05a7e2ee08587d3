package llm

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/convoloop/internal/metrics"
	"github.com/BaSui01/convoloop/llm/retry"
	"github.com/BaSui01/convoloop/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, Err(types.ErrUpstreamError, "upstream 502", p.Name()).WithRetryable(true)
	}
	return &CompletionResponse{Provider: p.Name(), Text: "ok"}, nil
}

func (p *flakyProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (p *flakyProvider) Name() string { return "flaky" }

func fastConfig() *ResilientConfig {
	return &ResilientConfig{
		RetryPolicy: &retry.Policy{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func TestResilientProviderRetriesRetryable(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	rp := NewResilientProvider(inner, fastConfig(), zap.NewNop())

	resp, err := rp.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
}

type fatalProvider struct{ calls int }

func (p *fatalProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p.calls++
	return nil, Err(types.ErrUnauthorized, "bad key", p.Name())
}

func (p *fatalProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: false}, nil
}

func (p *fatalProvider) Name() string { return "fatal" }

func TestResilientProviderDoesNotRetryFatal(t *testing.T) {
	inner := &fatalProvider{}
	rp := NewResilientProvider(inner, fastConfig(), zap.NewNop())

	_, err := rp.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
}

func TestResilientProviderRecordsRequestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	cfg := fastConfig()
	cfg.Metrics = metrics.NewCollector("convoloop", registry)

	// 前两次尝试失败,第三次成功:每次上游调用都应计入一条样本
	inner := &flakyProvider{failures: 2}
	rp := NewResilientProvider(inner, cfg, zap.NewNop())

	_, err := rp.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "convoloop_llm_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" {
					counts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, counts["error"])
	assert.Equal(t, 1.0, counts["ok"])
}

func TestResilientProviderRateLimiterHonoursContext(t *testing.T) {
	inner := &flakyProvider{}
	cfg := fastConfig()
	cfg.RequestsPerSecond = 0.001 // effectively blocks after the burst
	cfg.Burst = 1
	rp := NewResilientProvider(inner, cfg, zap.NewNop())

	// First call consumes the burst token.
	_, err := rp.Complete(context.Background(), &CompletionRequest{Prompt: "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rp.Complete(ctx, &CompletionRequest{Prompt: "two"})
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}
