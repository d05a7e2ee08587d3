// Package selector 实现回合裁决:把对话状态压缩成一个提示词,
// 由 LLM 判定下一位发言者或终止对话。
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/types"
)

// HistoryWindow 是嵌入裁决提示词的历史消息上限。
const HistoryWindow = 10

// Config 控制裁决请求的模型参数。
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Request 携带一次裁决所需的全部对话状态。
type Request struct {
	History  []types.Message
	Scene    types.Scene
	Agents   []types.Agent
	// TerminationCondition 为空时提示词写入 "None",裁决方不得主动终止。
	TerminationCondition string
	// InvocationCounts 可选;非空时嵌入各发言者的累计发言次数,
	// 用于引导裁决方平衡话轮。
	InvocationCounts map[string]int
}

// Selector 通过 LLM 裁决下一回合。
type Selector struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// New 创建裁决器。provider 不能为空。
func New(provider llm.Provider, cfg Config, logger *zap.Logger) (*Selector, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "selector: provider is required")
	}
	if cfg.Model == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "selector: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{provider: provider, cfg: cfg, logger: logger}, nil
}

// Select 发起一次裁决。LLM 调用失败返回 error;回复无法解析时
// 返回 Unparseable 决策且 error 为 nil,由会话层决定重试或兜底。
func (s *Selector) Select(ctx context.Context, req Request) (Decision, error) {
	if len(req.Agents) == 0 {
		return Decision{}, types.NewError(types.ErrInvalidRequest, "selector: empty roster")
	}

	prompt := BuildPrompt(req)
	resp, err := s.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Timeout:     s.cfg.Timeout,
	})
	if err != nil {
		return Decision{}, err
	}

	d := ParseDecision(resp.Text)
	if d.Kind == DecisionUnparseable {
		s.logger.Warn("selector reply unparseable",
			zap.String("provider", resp.Provider),
			zap.Int("reply_len", len(resp.Text)))
	}
	return d, nil
}

// BuildPrompt 渲染裁决提示词。只嵌入最近 HistoryWindow 条消息。
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are the conversation director for a multi-agent roleplay.\n")
	b.WriteString("Decide who should respond next, or whether the conversation should end.\n\n")

	fmt.Fprintf(&b, "ENVIRONMENT: %s\n", req.Scene.Environment)
	fmt.Fprintf(&b, "SCENE: %s\n\n", req.Scene.SceneDescription)

	b.WriteString("PARTICIPANTS:\n")
	for _, a := range req.Agents {
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, a.Role)
	}
	b.WriteString("\n")

	cond := strings.TrimSpace(req.TerminationCondition)
	if cond == "" {
		cond = "None"
	}
	fmt.Fprintf(&b, "TERMINATION CONDITION: %s\n\n", cond)

	if len(req.InvocationCounts) > 0 {
		b.WriteString("RESPONSE COUNTS SO FAR:\n")
		names := make([]string, 0, len(req.InvocationCounts))
		for name := range req.InvocationCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %d\n", name, req.InvocationCounts[name])
		}
		b.WriteString("\n")
	}

	b.WriteString("RECENT CONVERSATION:\n")
	history := req.History
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if len(history) == 0 {
		b.WriteString("(no messages yet)\n")
	}
	for _, m := range history {
		b.WriteString(m.Line())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("Reply with ONLY a JSON object of the form ")
	b.WriteString(`{"next_response": "<participant name>"}`)
	b.WriteString(".\n")
	b.WriteString(`If the termination condition is met, reply {"next_response": "terminate"}.`)
	b.WriteString("\n")
	return b.String()
}
