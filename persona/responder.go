package persona

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/types"
)

// Config 控制角色回复的模型参数。
type Config struct {
	Model string
	// Temperature 角色扮演宜用较高温,默认 0.7。
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	// ReminderEvery 每隔多少回合在提示词中复述终止条件,
	// 默认 DefaultTerminationReminderEvery。
	ReminderEvery int
}

// DefaultConfig 返回默认回复参数。
func DefaultConfig() Config {
	return Config{
		Temperature:   0.7,
		ReminderEvery: DefaultTerminationReminderEvery,
	}
}

// Responder 以指定人格生成回合发言。
type Responder struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewResponder 创建回复器。
func NewResponder(provider llm.Provider, cfg Config, logger *zap.Logger) (*Responder, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "persona: provider is required")
	}
	if cfg.Model == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "persona: model is required")
	}
	if cfg.ReminderEvery == 0 {
		cfg.ReminderEvery = DefaultTerminationReminderEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{provider: provider, cfg: cfg, logger: logger}, nil
}

// Respond 为 in.Agent 生成一条发言。回复为空视为上游错误。
func (r *Responder) Respond(ctx context.Context, in PromptInput) (types.Message, error) {
	if in.ReminderEvery == 0 {
		in.ReminderEvery = r.cfg.ReminderEvery
	}

	resp, err := r.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       r.cfg.Model,
		Prompt:      BuildPrompt(in),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Timeout:     r.cfg.Timeout,
	})
	if err != nil {
		return types.Message{}, err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return types.Message{}, types.NewError(types.ErrUpstreamError, "persona: empty reply").
			WithProvider(resp.Provider)
	}

	// 模型偶尔会无视指令带上自己的名字前缀,这里剥掉。
	text = strings.TrimSpace(strings.TrimPrefix(text, in.Agent.Name+":"))

	r.logger.Debug("persona reply generated",
		zap.String("agent", in.Agent.Name),
		zap.Int("chars", len(text)))
	return types.NewAgentMessage(in.Agent.Name, text), nil
}
