// Package mocks 提供测试用的 Mock 实现。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/convoloop/llm"
)

// MockProvider 脚本化的 llm.Provider 实现,支持 Builder 模式:
//
//	p := mocks.NewMockProvider().
//	    WithReplies(`{"next_response": "Alice"}`, "a reply").
//	    WithName("mock")
//
// 回复按序消费,耗尽后重复最后一条;WithError 注入的错误优先。
type MockProvider struct {
	mu      sync.Mutex
	name    string
	replies []string
	err     error
	calls   int
	prompts []string
}

// NewMockProvider 创建默认 Mock,回复固定文本 "ok"。
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", replies: []string{"ok"}}
}

// WithName 设置 Provider 名称。
func (p *MockProvider) WithName(name string) *MockProvider {
	p.name = name
	return p
}

// WithReplies 设置脚本化回复序列。
func (p *MockProvider) WithReplies(replies ...string) *MockProvider {
	p.replies = replies
	return p
}

// WithError 注入固定错误,所有请求都将失败。
func (p *MockProvider) WithError(err error) *MockProvider {
	p.err = err
	return p
}

// Complete 实现 llm.Provider。
func (p *MockProvider) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.prompts = append(p.prompts, req.Prompt)
	if p.err != nil {
		return nil, p.err
	}

	idx := p.calls - 1
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	return &llm.CompletionResponse{
		Provider:  p.name,
		Model:     req.Model,
		Text:      p.replies[idx],
		CreatedAt: time.Now(),
	}, nil
}

// HealthCheck 实现 llm.Provider,恒为健康。
func (p *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

// Name 实现 llm.Provider。
func (p *MockProvider) Name() string { return p.name }

// Calls 返回累计调用次数。
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts 返回收到的全部提示词副本。
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

var _ llm.Provider = (*MockProvider)(nil)
