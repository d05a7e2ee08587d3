package llm

import (
	"context"
	"time"

	"github.com/BaSui01/convoloop/types"
)

// CompletionRequest 是对 LLM oracle 的单次文本补全请求。
// 编排核心只依赖 "prompt 进、text 出" 这一契约，不绑定任何具体模型。
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Prompt      string        `json:"prompt"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// CompletionResponse 是 oracle 的补全结果。
type CompletionResponse struct {
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义了统一的 LLM oracle 接口。selector、persona、memory 都通过
// 它发起调用；超时与上游重试属于 Provider 自身配置，调用方不感知。
type Provider interface {
	// Complete 发起同步补全请求，返回完整响应
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// HealthCheck 执行轻量级健康检查，返回延迟与可用性信息
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// Err 构造带 Provider 标记的结构化错误。
func Err(code types.ErrorCode, msg, provider string) *types.Error {
	return types.NewError(code, msg).WithProvider(provider)
}
