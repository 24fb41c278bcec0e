package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAIEmbeddingModel)
	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.4")
	t.Setenv("SWAGGER_RELOAD_INTERVAL", "90s")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, EnvProduction, cfg.AppEnv)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 0.4, cfg.AIConfidenceThreshold)
	assert.Equal(t, 90*time.Second, cfg.ReloadInterval)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadInvalidNumericFallsBackToDefault(t *testing.T) {
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "not-a-number")
	cfg := Load()
	assert.Equal(t, DefaultConfig().AIConfidenceThreshold, cfg.AIConfidenceThreshold)
}

func TestMustDurationFallback(t *testing.T) {
	os.Unsetenv("SOME_UNSET_DURATION_KEY")
	d := mustDuration("SOME_UNSET_DURATION_KEY", 5*time.Second)
	assert.Equal(t, 5*time.Second, d)
}
