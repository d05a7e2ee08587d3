package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20, cfg.Memory.MaxBeforeSummary)
	assert.Equal(t, 10, cfg.Memory.KeepAfterSummary)
	assert.Equal(t, 3, cfg.Selector.Retries)
	assert.True(t, cfg.Selector.IncludeInvocationCounts)
	assert.Equal(t, 4, cfg.Persona.TerminationReminderEvery)
	assert.Equal(t, 5*time.Second, cfg.Session.TurnDelayMin)
	assert.Equal(t, 10*time.Second, cfg.Session.TurnDelayMax)
	assert.Equal(t, 30*time.Second, cfg.Session.ErrorRetryDelay)
	assert.InDelta(t, 0.7, cfg.Persona.Temperature, 0.001)
	assert.InDelta(t, 0.3, cfg.Memory.Temperature, 0.001)

	// 默认配置必须自洽
	assert.NoError(t, cfg.Validate())
}

func TestLoaderFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoloop.yaml")
	data := `
selector:
  model: gpt-4o
  retries: 5
memory:
  max_before_summary: 30
  keep_after_summary: 12
session:
  turn_delay_min: 1s
  turn_delay_max: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Selector.Model)
	assert.Equal(t, 5, cfg.Selector.Retries)
	assert.Equal(t, 30, cfg.Memory.MaxBeforeSummary)
	assert.Equal(t, 12, cfg.Memory.KeepAfterSummary)
	assert.Equal(t, time.Second, cfg.Session.TurnDelayMin)
	// 未覆盖的字段保持默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Persona.TerminationReminderEvery)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convoloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("selector:\n  model: from-file\n"), 0o600))

	t.Setenv("CONVOLOOP_SELECTOR_MODEL", "from-env")
	t.Setenv("CONVOLOOP_SESSION_TURN_DELAY_MIN", "250ms")
	t.Setenv("CONVOLOOP_SESSION_TURN_DELAY_MAX", "500ms")
	t.Setenv("CONVOLOOP_REDIS_ENABLED", "true")
	t.Setenv("CONVOLOOP_LLM_REQUESTS_PER_SECOND", "0.5")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Selector.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.TurnDelayMin)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.TurnDelayMax)
	assert.True(t, cfg.Redis.Enabled)
	assert.InDelta(t, 0.5, cfg.LLM.RequestsPerSecond, 0.001)
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Memory.MaxBeforeSummary)
}

func TestLoaderCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.LLM.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"keep above max", func(c *Config) { c.Memory.KeepAfterSummary = 25 }},
		{"zero threshold", func(c *Config) { c.Session.ConsecutiveFailureThreshold = 0 }},
		{"inverted delay range", func(c *Config) { c.Session.TurnDelayMax = c.Session.TurnDelayMin - time.Second }},
		{"negative retries", func(c *Config) { c.Selector.Retries = -1 }},
		{"persona temperature", func(c *Config) { c.Persona.Temperature = 3 }},
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderInvalidConfigFails(t *testing.T) {
	t.Setenv("CONVOLOOP_MEMORY_KEEP_AFTER_SUMMARY", "99")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}
