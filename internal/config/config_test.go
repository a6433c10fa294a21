package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Addr())
	assert.Equal(t, 6, cfg.Generation.MaxChapters)
	assert.Equal(t, 90*time.Second, cfg.Generation.OutlineTimeout)
	assert.Equal(t, 168, cfg.Cache.MaxAgeHours)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Generation.PrefetchNext)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TUTOR_HTTP_PORT", "9090")
	t.Setenv("TUTOR_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TUTOR_GENERATION_PREFETCH_NEXT", "true")
	t.Setenv("TUTOR_GENERATION_OUTLINE_TIMEOUT", "2m")
	t.Setenv("TUTOR_EVENTS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Generation.PrefetchNext)
	assert.Equal(t, 2*time.Minute, cfg.Generation.OutlineTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.yaml")
	content := `
http:
  port: 7000
ai:
  provider: anthropic
  model: claude-haiku-4-5-20251001
cache:
  max_age_hours: 24
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, 24, cfg.Cache.MaxAgeHours)
	// untouched sections keep their defaults
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(NewViper(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"no database", func(c *Config) { c.Database.URL = "" }},
		{"negative timeout", func(c *Config) { c.Generation.ParagraphTimeout = -time.Second }},
		{"no chapters", func(c *Config) { c.Generation.MaxChapters = 0 }},
		{"max age", func(c *Config) { c.Cache.MaxAgeHours = 0 }},
		{"no workers", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
