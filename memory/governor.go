// Package memory 实现对话记忆治理:当历史超过阈值时,
// 把较早的消息压缩成一条概要,控制上下文规模。
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/types"
)

// Config 控制压缩的触发阈值与模型参数。
type Config struct {
	// MaxBeforeSummary 超过该条数才触发压缩。
	MaxBeforeSummary int
	// KeepAfterSummary 压缩后原样保留的最近消息条数。
	KeepAfterSummary int
	Model            string
	// Temperature 概要生成宜用低温,默认 0.3。
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig 返回默认阈值:超过 20 条触发,保留最近 10 条。
func DefaultConfig() Config {
	return Config{
		MaxBeforeSummary: 20,
		KeepAfterSummary: 10,
		Temperature:      0.3,
	}
}

// Validate 校验阈值关系。
func (c Config) Validate() error {
	if c.MaxBeforeSummary <= 0 || c.KeepAfterSummary <= 0 {
		return types.NewError(types.ErrInvalidConfig, "memory: thresholds must be positive")
	}
	if c.KeepAfterSummary >= c.MaxBeforeSummary {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("memory: keep_after_summary (%d) must be below max_before_summary (%d)",
				c.KeepAfterSummary, c.MaxBeforeSummary))
	}
	if c.Model == "" {
		return types.NewError(types.ErrInvalidConfig, "memory: model is required")
	}
	return nil
}

// Governor 负责历史压缩。无状态,可被多个会话并发使用。
type Governor struct {
	provider llm.Provider
	cfg      Config
	counter  types.TokenCounter
	logger   *zap.Logger
}

// New 创建治理器。counter 可为 nil,仅用于压缩日志的 token 统计。
func New(provider llm.Provider, cfg Config, counter types.TokenCounter, logger *zap.Logger) (*Governor, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "memory: provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{provider: provider, cfg: cfg, counter: counter, logger: logger}, nil
}

// NeedsCondense 判断历史是否超过压缩阈值。
func (g *Governor) NeedsCondense(history []types.Message) bool {
	return len(history) > g.cfg.MaxBeforeSummary
}

// Condense 压缩历史。未超阈值时原样返回(对已压缩结果幂等)。
// 压缩成功时返回 [概要] + 最近 KeepAfterSummary 条,长度恒为
// KeepAfterSummary+1;概要生成失败时退化为纯截断并返回
// ErrCondenseFailed,返回的切片仍然可用,调用方记日志后继续即可。
func (g *Governor) Condense(ctx context.Context, history []types.Message) ([]types.Message, error) {
	if !g.NeedsCondense(history) {
		return history, nil
	}

	tail := history[len(history)-g.cfg.KeepAfterSummary:]
	head := history[:len(history)-g.cfg.KeepAfterSummary]

	// 已有概要并入新一轮摘要,避免概要链无限叠加。
	var prior string
	if head[0].IsSynopsis() {
		prior = head[0].Content
		head = head[1:]
	}

	summary, err := g.summarize(ctx, prior, head)
	if err != nil {
		g.logger.Warn("history condense failed, falling back to truncation",
			zap.Int("dropped", len(head)), zap.Error(err))
		fallback := make([]types.Message, 0, len(tail)+1)
		if prior != "" {
			fallback = append(fallback, types.NewSynopsisMessage(prior))
		}
		fallback = append(fallback, tail...)
		return fallback, types.NewError(types.ErrCondenseFailed, "memory: summarization failed").WithCause(err)
	}

	condensed := make([]types.Message, 0, len(tail)+1)
	condensed = append(condensed, types.NewSynopsisMessage(summary))
	condensed = append(condensed, tail...)

	if g.counter != nil {
		g.logger.Info("history condensed",
			zap.Int("folded", len(head)),
			zap.Int("summary_tokens", g.counter.CountTokens(summary)))
	} else {
		g.logger.Info("history condensed", zap.Int("folded", len(head)))
	}
	return condensed, nil
}

// summarize 调用 LLM 生成概要文本。
func (g *Governor) summarize(ctx context.Context, prior string, head []types.Message) (string, error) {
	resp, err := g.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       g.cfg.Model,
		Prompt:      buildSummaryPrompt(prior, head),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Timeout:     g.cfg.Timeout,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return "", types.NewError(types.ErrUpstreamError, "memory: empty summary reply")
	}
	return summary, nil
}

func buildSummaryPrompt(prior string, head []types.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following roleplay conversation into a concise synopsis.\n")
	b.WriteString("Preserve every plot-relevant fact, decision and unresolved thread.\n")
	b.WriteString("Write flowing prose, no bullet points, at most one paragraph.\n\n")

	if prior != "" {
		b.WriteString("PREVIOUS SYNOPSIS (fold into the new one):\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}

	b.WriteString("CONVERSATION TO SUMMARIZE:\n")
	for _, m := range head {
		b.WriteString(m.Line())
		b.WriteString("\n")
	}
	return b.String()
}
