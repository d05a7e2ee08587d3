package llm

import (
	"context"
	"time"

	"github.com/BaSui01/convoloop/internal/metrics"
	"github.com/BaSui01/convoloop/llm/retry"
	"github.com/BaSui01/convoloop/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilientProvider 具有弹性能力的 Provider 包装器。
// 提供重试与本地限流，遵循装饰器模式：增强原有 Provider 而不修改其代码。
// 会话编排层拿到的始终是这个包装后的 Provider，selector/persona/memory
// 因此不需要各自处理上游抖动。
type ResilientProvider struct {
	provider  Provider
	retryer   *retry.Retryer
	limiter   *rate.Limiter
	logger    *zap.Logger
	collector *metrics.Collector
}

// ResilientConfig 弹性 Provider 配置。
type ResilientConfig struct {
	// RetryPolicy 重试策略；nil 使用默认策略
	RetryPolicy *retry.Policy
	// RequestsPerSecond 本地限流速率；<=0 表示不限流
	RequestsPerSecond float64
	// Burst 限流突发容量；<=0 时取 1
	Burst int
	// Metrics 每次上游调用计入指标；nil 表示不采集
	Metrics *metrics.Collector
}

// DefaultResilientConfig 返回默认配置。
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		RetryPolicy:       retry.DefaultPolicy(),
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// NewResilientProvider 创建具有重试与限流能力的 Provider。
func NewResilientProvider(provider Provider, cfg *ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := cfg.RetryPolicy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	if policy.ShouldRetry == nil {
		// 只重试被标记为可重试的结构化错误；其余（鉴权、参数错误）立即失败
		policy.ShouldRetry = types.IsRetryable
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &ResilientProvider{
		provider:  provider,
		retryer:   retry.New(policy, logger),
		limiter:   limiter,
		logger:    logger.With(zap.String("provider", provider.Name())),
		collector: cfg.Metrics,
	}
}

// Complete 实现 Provider.Complete，集成限流与重试。
func (rp *ResilientProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if rp.limiter != nil {
		if err := rp.limiter.Wait(ctx); err != nil {
			return nil, Err(types.ErrRateLimited, err.Error(), rp.provider.Name())
		}
	}

	var resp *CompletionResponse
	err := rp.retryer.Do(ctx, func() error {
		start := time.Now()
		var callErr error
		resp, callErr = rp.provider.Complete(ctx, req)
		status := "ok"
		if callErr != nil {
			status = "error"
		}
		rp.collector.RecordLLMRequest(rp.provider.Name(), status, time.Since(start))
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthCheck 透传到底层 Provider。
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 透传底层 Provider 的标识。
func (rp *ResilientProvider) Name() string { return rp.provider.Name() }

var _ Provider = (*ResilientProvider)(nil)
