package config

import "time"

// DefaultConfig 返回带默认值的完整配置。
// 阈值与延迟沿用长期运行验证过的取值:历史超过 20 条压缩、
// 保留最近 10 条、回合间隔 5~10 秒、每 4 回合复述终止条件。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			BaseURL:           "https://api.openai.com",
			Timeout:           60 * time.Second,
			MaxRetries:        2,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Selector: SelectorConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   64,
			Retries:     3,
			RetryDelay:  time.Second,

			IncludeInvocationCounts: true,
		},
		Memory: MemoryConfig{
			MaxBeforeSummary: 20,
			KeepAfterSummary: 10,
			Model:            "gpt-4o-mini",
			Temperature:      0.3,
			MaxTokens:        512,
		},
		Persona: PersonaConfig{
			Model:                    "gpt-4o-mini",
			Temperature:              0.7,
			MaxTokens:                256,
			TerminationReminderEvery: 4,
		},
		Session: SessionConfig{
			TurnDelayMin:                5 * time.Second,
			TurnDelayMax:                10 * time.Second,
			ConsecutiveFailureThreshold: 3,
			ErrorRetryDelay:             30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Path: "convoloop.db",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}
