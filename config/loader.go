// =============================================================================
// 📦 Convoloop 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("convoloop.yaml").
//	    WithEnvPrefix("CONVOLOOP").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Convoloop 引擎的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM 上游模型服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Selector 回合裁决配置
	Selector SelectorConfig `yaml:"selector" env:"SELECTOR"`

	// Memory 记忆治理配置
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Persona 角色回复配置
	Persona PersonaConfig `yaml:"persona" env:"PERSONA"`

	// Session 会话循环配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Redis 快照存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 归档数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LLMConfig 上游模型服务配置
type LLMConfig struct {
	// Provider 名称，仅作标识
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数上限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 突发请求上限
	Burst int `yaml:"burst" env:"BURST"`
}

// SelectorConfig 回合裁决配置
type SelectorConfig struct {
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 裁决回复无法解析时的重试次数，超过后轮转兜底
	Retries int `yaml:"retries" env:"RETRIES"`
	// 重试之间的短暂停顿
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 是否在提示词中嵌入各发言者的累计发言次数
	IncludeInvocationCounts bool `yaml:"include_invocation_counts" env:"INCLUDE_INVOCATION_COUNTS"`
}

// MemoryConfig 记忆治理配置
type MemoryConfig struct {
	// 超过该条数触发压缩
	MaxBeforeSummary int `yaml:"max_before_summary" env:"MAX_BEFORE_SUMMARY"`
	// 压缩后保留的最近消息条数
	KeepAfterSummary int `yaml:"keep_after_summary" env:"KEEP_AFTER_SUMMARY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数，概要生成宜用低温
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// PersonaConfig 角色回复配置
type PersonaConfig struct {
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数，角色扮演宜用较高温
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 每隔多少回合复述终止条件
	TerminationReminderEvery int `yaml:"termination_reminder_every" env:"TERMINATION_REMINDER_EVERY"`
}

// SessionConfig 会话循环配置
type SessionConfig struct {
	// 回合间随机延迟下限
	TurnDelayMin time.Duration `yaml:"turn_delay_min" env:"TURN_DELAY_MIN"`
	// 回合间随机延迟上限
	TurnDelayMax time.Duration `yaml:"turn_delay_max" env:"TURN_DELAY_MAX"`
	// 连续生成失败达到该次数后改用轮转选人
	ConsecutiveFailureThreshold int `yaml:"consecutive_failure_threshold" env:"CONSECUTIVE_FAILURE_THRESHOLD"`
	// 生成失败后的退避延迟
	ErrorRetryDelay time.Duration `yaml:"error_retry_delay" env:"ERROR_RETRY_DELAY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用 Redis 快照存储
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 快照过期时间，0 为不过期
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
}

// DatabaseConfig 归档数据库配置
type DatabaseConfig struct {
	// 是否启用数据库归档
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// SQLite 文件路径
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CONVOLOOP",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 内置校验 + 自定义验证器
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，聚合所有错误一次性返回
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Selector.Retries < 0 {
		errs = append(errs, "selector retries must not be negative")
	}
	if c.Selector.Temperature < 0 || c.Selector.Temperature > 2 {
		errs = append(errs, "selector temperature must be between 0 and 2")
	}
	if c.Persona.Temperature < 0 || c.Persona.Temperature > 2 {
		errs = append(errs, "persona temperature must be between 0 and 2")
	}
	if c.Persona.TerminationReminderEvery < 0 {
		errs = append(errs, "termination_reminder_every must not be negative")
	}
	if c.Memory.MaxBeforeSummary <= 0 || c.Memory.KeepAfterSummary <= 0 {
		errs = append(errs, "memory thresholds must be positive")
	}
	if c.Memory.KeepAfterSummary >= c.Memory.MaxBeforeSummary {
		errs = append(errs, "keep_after_summary must be below max_before_summary")
	}
	if c.Session.TurnDelayMin < 0 || c.Session.TurnDelayMax < c.Session.TurnDelayMin {
		errs = append(errs, "turn delay range is invalid")
	}
	if c.Session.ConsecutiveFailureThreshold <= 0 {
		errs = append(errs, "consecutive_failure_threshold must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
